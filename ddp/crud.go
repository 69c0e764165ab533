package ddp

import (
	"context"

	"github.com/segmentio/encoding/json"
)

// Insert calls /<collection>/insert with the documents, without touching the
// local store
func (c *Client) Insert(collection string, docs []any, fn MethodFn) string {
	return c.Call(collectionMethod(collection, "insert"), docs, fn)
}

// Update calls /<collection>/update. The usual params are a selector and a
// modifier.
func (c *Client) Update(collection string, params []any, fn MethodFn) string {
	return c.Call(collectionMethod(collection, "update"), params, fn)
}

// Remove calls /<collection>/remove. The usual param is a selector.
func (c *Client) Remove(collection string, params []any, fn MethodFn) string {
	return c.Call(collectionMethod(collection, "remove"), params, fn)
}

// InsertSync is the blocking version of Insert
func (c *Client) InsertSync(ctx context.Context, collection string, docs []any) (json.RawMessage, error) {
	return c.CallSync(ctx, collectionMethod(collection, "insert"), docs)
}

// UpdateSync is the blocking version of Update
func (c *Client) UpdateSync(ctx context.Context, collection string, params []any) (json.RawMessage, error) {
	return c.CallSync(ctx, collectionMethod(collection, "update"), params)
}

// RemoveSync is the blocking version of Remove
func (c *Client) RemoveSync(ctx context.Context, collection string, params []any) (json.RawMessage, error) {
	return c.CallSync(ctx, collectionMethod(collection, "remove"), params)
}

func collectionMethod(collection, op string) string {
	return "/" + collection + "/" + op
}
