package ddp

import (
	"github.com/ridge/ddp/store"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Collection is a view of one collection of the local store, with
// optimistic writes and debounced change notifications
type Collection struct {
	client  *Client
	name    string
	changes *debouncer

	// owned by documents
	nextListener int
	listeners    map[int]func([]store.Document)
}

// Collection returns the view of the named collection. Views are cached: the
// same name always yields the same view.
func (c *Client) Collection(name string) *Collection {
	c.collectionsMu.Lock()
	defer c.collectionsMu.Unlock()

	if col := c.collections[name]; col != nil {
		return col
	}
	col := &Collection{
		client:    c,
		name:      name,
		listeners: map[int]func([]store.Document){},
	}
	col.changes = newDebouncer(c.config.UpdateDelay, func() {
		c.documents.Push(col.broadcast)
	})
	c.collections[name] = col
	return col
}

// Name returns the name of the collection
func (col *Collection) Name() string {
	return col.name
}

// FindOne returns a copy of the fields of a document
func (col *Collection) FindOne(id string) (store.Fields, bool) {
	return col.client.store.FindOne(col.name, id)
}

// Find returns copies of all documents, sorted by id
func (col *Collection) Find() []store.Document {
	return col.client.store.Find(col.name)
}

// Count returns the number of documents
func (col *Collection) Count() int {
	return col.client.store.Count(col.name)
}

// OnChange registers fn to be called on the document worker with the full
// contents of the collection after changes. Changes within the update delay
// of the first one are reported together. The returned function stops it.
func (col *Collection) OnChange(fn func(docs []store.Document)) (cancel func()) {
	var id int // touched on documents only
	col.client.documents.Push(func() {
		col.nextListener++
		id = col.nextListener
		col.listeners[id] = fn
	})
	return func() {
		col.client.documents.Push(func() { delete(col.listeners, id) })
	}
}

// called on documents
func (col *Collection) broadcast() {
	if len(col.listeners) == 0 {
		return
	}
	docs := col.Find()
	ids := maps.Keys(col.listeners)
	slices.Sort(ids)
	for _, id := range ids {
		col.listeners[id](docs)
	}
}

// Subscribe subscribes to the publication with the collection name. Unless
// opts.Collection says otherwise, its data callback receives the changes of
// this collection.
func (col *Collection) Subscribe(params []any, opts SubscribeOptions) string {
	if opts.Collection == "" {
		opts.Collection = col.name
	}
	return col.client.Subscribe(col.name, params, opts)
}

// Unsubscribe stops every subscription to the publication with the
// collection name
func (col *Collection) Unsubscribe(onRemoved func()) []string {
	return col.client.UnsubscribeByName(col.name, onRemoved)
}

// RemoteInsert adds a document locally and asks the server to insert it. If
// the server rejects the insert, the local document is removed again. fn, if
// not nil, is called on the document worker after any rollback.
func (col *Collection) RemoteInsert(id string, fields store.Fields, fn MethodFn) {
	if id == "" {
		id = NewID()
	}
	doc := store.Fields{}
	for k, v := range fields {
		doc[k] = v
	}
	doc["_id"] = id

	col.write(id, func() {
		col.put(id, fields)
	}, "insert", []any{doc}, fn)
}

// RemoteUpdate replaces a document locally and asks the server to $set the
// fields. If the server rejects the update, the previous document is
// restored.
func (col *Collection) RemoteUpdate(id string, fields store.Fields, fn MethodFn) {
	col.RemoteUpdateWithOperation(id, fields, map[string]any{"$set": fields}, fn)
}

// RemoteUpdateWithOperation replaces a document locally with fields and asks
// the server to apply a Mongo modifier to it. If the server rejects the
// update, the previous document is restored.
func (col *Collection) RemoteUpdateWithOperation(id string, fields store.Fields, operation map[string]any, fn MethodFn) {
	col.write(id, func() {
		col.put(id, fields)
	}, "update", []any{map[string]any{"_id": id}, operation}, fn)
}

// RemoteRemove removes a document locally and asks the server to remove it.
// If the server rejects the removal, the document is restored.
func (col *Collection) RemoteRemove(id string, fn MethodFn) {
	col.write(id, func() {
		if col.client.store.Removed(col.name, id) {
			col.client.notify(DocumentEvent{Kind: DocumentRemoved, Collection: col.name, ID: id, Local: true})
		}
	}, "remove", []any{map[string]any{"_id": id}}, fn)
}

// write applies a local change on the document worker, then calls the
// server method /<collection>/<op>. On error the document is restored to its
// state before the change.
func (col *Collection) write(id string, apply func(), op string, params []any, fn MethodFn) {
	c := col.client
	c.documents.Push(func() {
		prior, existed := c.store.Snapshot().Get(col.name, id)
		apply()

		c.Call(collectionMethod(col.name, op), params, func(result json.RawMessage, err error) {
			c.documents.Push(func() {
				if err != nil {
					c.log().Warn("Server rejected local write, rolling back",
						zap.String("collection", col.name), zap.String("id", id), zap.String("op", op), zap.Error(err))
					col.restore(id, prior, existed)
				}
				if fn != nil {
					fn(result, err)
				}
			})
		})
	})
}

// called on documents
func (col *Collection) put(id string, fields store.Fields) {
	c := col.client
	_, existed := c.store.FindOne(col.name, id)
	if err := c.store.Put(store.Document{Collection: col.name, ID: id, Fields: fields}); err != nil {
		c.log().Warn("Invalid local write", zap.String("collection", col.name), zap.String("id", id), zap.Error(err))
		return
	}
	kind := DocumentAdded
	if existed {
		kind = DocumentChanged
	}
	c.notify(DocumentEvent{Kind: kind, Collection: col.name, ID: id, Local: true})
}

// called on documents
func (col *Collection) restore(id string, prior store.Document, existed bool) {
	c := col.client
	if !existed {
		if c.store.Removed(col.name, id) {
			c.notify(DocumentEvent{Kind: DocumentRemoved, Collection: col.name, ID: id, Local: true})
		}
		return
	}
	col.put(id, prior.Fields)
}
