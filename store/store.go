// Package store holds the client-side mirror of server collections.
//
// The store is built on go-memdb. Writes are serialized by the caller (the
// document worker of a client); reads take an MVCC snapshot and never block
// writers.
package store

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"
	"github.com/ridge/must/v2"
)

const (
	table           = "documents"
	indexID         = "id"
	indexCollection = "collection"
)

// Fields is the field set of a document
type Fields = map[string]any

// Document is a document stored in a collection
type Document struct {
	Collection string
	ID         string
	Fields     Fields
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		table: {
			Name: table,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:   indexID,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Collection"},
							&memdb.StringFieldIndex{Field: "ID"},
						},
					},
				},
				indexCollection: {
					Name:    indexCollection,
					Indexer: &memdb.StringFieldIndex{Field: "Collection"},
				},
			},
		},
	},
}

// Store is the mirrored mapping of collection name to document id to fields
type Store struct {
	db *memdb.MemDB
}

// New creates an empty store
func New() *Store {
	return &Store{db: must.OK1(memdb.NewMemDB(schema))}
}

func validate(collection, id string) error {
	if collection == "" {
		return fmt.Errorf("document %q has no collection", id)
	}
	if id == "" {
		return fmt.Errorf("document in collection %q has no id", collection)
	}
	return nil
}

func first(txn *memdb.Txn, collection, id string) *Document {
	res := must.OK1(txn.First(table, indexID, collection, id))
	if res == nil {
		return nil
	}
	return res.(*Document)
}

// Added stores a document, replacing the one with the same id if present
func (s *Store) Added(collection, id string, fields Fields) error {
	return s.Put(Document{Collection: collection, ID: id, Fields: fields})
}

// Changed merges fields into an existing document, then deletes the cleared
// keys. Returns false without creating anything if the document is absent.
func (s *Store) Changed(collection, id string, fields Fields, cleared []string) (bool, error) {
	if err := validate(collection, id); err != nil {
		return false, err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	doc := first(txn, collection, id)
	if doc == nil {
		return false, nil
	}

	merged := copyFields(doc.Fields)
	for k, v := range fields {
		merged[k] = copyValue(v)
	}
	for _, k := range cleared {
		delete(merged, k)
	}

	must.OK(txn.Insert(table, &Document{Collection: collection, ID: id, Fields: merged}))
	txn.Commit()
	return true, nil
}

// Removed deletes a document. Returns false if it was absent.
func (s *Store) Removed(collection, id string) bool {
	txn := s.db.Txn(true)
	defer txn.Abort()

	doc := first(txn, collection, id)
	if doc == nil {
		return false
	}
	must.OK(txn.Delete(table, doc))
	txn.Commit()
	return true
}

// Put stores a copy of the document as is
func (s *Store) Put(doc Document) error {
	if err := validate(doc.Collection, doc.ID); err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	must.OK(txn.Insert(table, &Document{Collection: doc.Collection, ID: doc.ID, Fields: copyFields(doc.Fields)}))
	txn.Commit()
	return nil
}

// Snapshot returns a read-only view of the store at this moment. Safe for
// concurrent use.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{txn: s.db.Txn(false)}
}

// FindOne returns a copy of the fields of a document
func (s *Store) FindOne(collection, id string) (Fields, bool) {
	return s.Snapshot().FindOne(collection, id)
}

// Find returns copies of all documents in a collection sorted by id
func (s *Store) Find(collection string) []Document {
	return s.Snapshot().Find(collection)
}

// Count returns the number of documents in a collection
func (s *Store) Count(collection string) int {
	return s.Snapshot().Count(collection)
}

// Collections returns the sorted names of non-empty collections
func (s *Store) Collections() []string {
	return s.Snapshot().Collections()
}

// Snapshot is a read-only view of the store at a point in time
type Snapshot struct {
	txn *memdb.Txn
}

// Get returns a copy of a document
func (s Snapshot) Get(collection, id string) (Document, bool) {
	doc := first(s.txn, collection, id)
	if doc == nil {
		return Document{}, false
	}
	return doc.clone(), true
}

// FindOne returns a copy of the fields of a document
func (s Snapshot) FindOne(collection, id string) (Fields, bool) {
	doc := first(s.txn, collection, id)
	if doc == nil {
		return nil, false
	}
	return copyFields(doc.Fields), true
}

// Find returns copies of all documents in a collection sorted by id
func (s Snapshot) Find(collection string) []Document {
	iter := must.OK1(s.txn.Get(table, indexCollection, collection))
	var res []Document
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		res = append(res, obj.(*Document).clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Count returns the number of documents in a collection
func (s Snapshot) Count(collection string) int {
	iter := must.OK1(s.txn.Get(table, indexCollection, collection))
	n := 0
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		n++
	}
	return n
}

// Collections returns the sorted names of non-empty collections
func (s Snapshot) Collections() []string {
	iter := must.OK1(s.txn.Get(table, indexCollection+"_prefix", ""))
	var res []string
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		c := obj.(*Document).Collection
		if len(res) == 0 || res[len(res)-1] != c {
			res = append(res, c)
		}
	}
	return res
}
