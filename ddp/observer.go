package ddp

import (
	"github.com/ridge/ddp/store"
	"github.com/segmentio/encoding/json"
)

// DocumentEventKind is the kind of change made to a document
type DocumentEventKind int

// DocumentEventKind values
const (
	DocumentAdded DocumentEventKind = iota + 1
	DocumentChanged
	DocumentRemoved
)

func (k DocumentEventKind) String() string {
	switch k {
	case DocumentAdded:
		return "added"
	case DocumentChanged:
		return "changed"
	case DocumentRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// DocumentEvent describes one change of the local document store
type DocumentEvent struct {
	Kind       DocumentEventKind
	Collection string
	ID         string

	// Fields is the state of the document after the change, nil if removed
	Fields store.Fields

	// Cleared lists the fields deleted by a change
	Cleared []string

	// Local is set for optimistic writes and their rollbacks
	Local bool
}

// Observer receives client-wide notifications. Any of the functions may be
// nil.
//
// The functions are called from the client's workers and must not block for
// long. Document and SubscriptionRemoved come from the document worker,
// Updated, Method, Login and Logout from the method worker.
type Observer struct {
	Status              func(status Status)
	Error               func(err error)
	Document            func(event DocumentEvent)
	SubscriptionRemoved func(id, name string)
	Updated             func(methods []string)
	Method              func(name string, result json.RawMessage, err error)
	Login               func(userID string)
	Logout              func()
}

func (o Observer) status(status Status) {
	if o.Status != nil {
		o.Status(status)
	}
}

func (o Observer) error(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

func (o Observer) document(event DocumentEvent) {
	if o.Document != nil {
		o.Document(event)
	}
}

func (o Observer) subscriptionRemoved(id, name string) {
	if o.SubscriptionRemoved != nil {
		o.SubscriptionRemoved(id, name)
	}
}

func (o Observer) updated(methods []string) {
	if o.Updated != nil {
		o.Updated(methods)
	}
}

func (o Observer) method(name string, result json.RawMessage, err error) {
	if o.Method != nil {
		o.Method(name, result, err)
	}
}

func (o Observer) login(userID string) {
	if o.Login != nil {
		o.Login(userID)
	}
}

func (o Observer) logout() {
	if o.Logout != nil {
		o.Logout()
	}
}
