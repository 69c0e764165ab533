package ddp

import (
	"sync"

	"github.com/ridge/ddp/wire"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// observerRegistry is owned by the document worker
type observerRegistry struct {
	next         int
	byCollection map[string]map[int]func(DocumentEvent)
}

// Observe calls fn on the document worker for every change of a document in
// the collection, server-pushed or local. The returned function stops it.
func (c *Client) Observe(collection string, fn func(DocumentEvent)) (cancel func()) {
	var id int // touched on documents only
	c.documents.Push(func() {
		c.observe.next++
		id = c.observe.next
		observers := c.observe.byCollection[collection]
		if observers == nil {
			observers = map[int]func(DocumentEvent){}
			c.observe.byCollection[collection] = observers
		}
		observers[id] = fn
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.documents.Push(func() {
				observers := c.observe.byCollection[collection]
				delete(observers, id)
				if len(observers) == 0 {
					delete(c.observe.byCollection, collection)
				}
			})
		})
	}
}

// called on documents
func (c *Client) applyMessage(m *wire.Message) {
	log := c.log().With(zap.String("collection", m.Collection), zap.String("id", m.ID))

	switch m.Msg {
	case wire.TypeAdded:
		if err := c.store.Added(m.Collection, m.ID, m.Fields); err != nil {
			log.Warn("Invalid added message", zap.Error(err))
			return
		}
		c.notify(DocumentEvent{Kind: DocumentAdded, Collection: m.Collection, ID: m.ID})
	case wire.TypeChanged:
		ok, err := c.store.Changed(m.Collection, m.ID, m.Fields, m.Cleared)
		switch {
		case err != nil:
			log.Warn("Invalid changed message", zap.Error(err))
			return
		case !ok:
			log.Debug("Ignoring change of unknown document")
			return
		}
		c.notify(DocumentEvent{Kind: DocumentChanged, Collection: m.Collection, ID: m.ID, Cleared: m.Cleared})
	case wire.TypeRemoved:
		if !c.store.Removed(m.Collection, m.ID) {
			log.Debug("Ignoring removal of unknown document")
			return
		}
		c.notify(DocumentEvent{Kind: DocumentRemoved, Collection: m.Collection, ID: m.ID})
	}
}

// notify fills in the current fields of the document and passes the event to
// every interested party. Called on documents.
func (c *Client) notify(ev DocumentEvent) {
	if ev.Kind != DocumentRemoved {
		ev.Fields, _ = c.store.FindOne(ev.Collection, ev.ID)
	}

	c.config.Observer.document(ev)

	observers := c.observe.byCollection[ev.Collection]
	ids := maps.Keys(observers)
	slices.Sort(ids)
	for _, id := range ids {
		observers[id](ev)
	}

	for _, fn := range c.dataCallbacks(ev.Collection) {
		fn(ev)
	}

	c.collectionsMu.Lock()
	col := c.collections[ev.Collection]
	c.collectionsMu.Unlock()
	if col != nil {
		col.changes.Trigger()
	}
}
