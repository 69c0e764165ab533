package store

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func (d *Document) clone() Document {
	return Document{Collection: d.Collection, ID: d.ID, Fields: copyFields(d.Fields)}
}

func copyFields(fields Fields) Fields {
	res := make(Fields, len(fields))
	for k, v := range fields {
		res[k] = copyValue(v)
	}
	return res
}

// copyValue copies the containers of a JSON-like value
func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return copyFields(v)
	case []any:
		res := make([]any, len(v))
		for i, e := range v {
			res[i] = copyValue(e)
		}
		return res
	default:
		return v
	}
}

// Keys returns the sorted field names of a document
func Keys(fields Fields) []string {
	keys := maps.Keys(fields)
	slices.Sort(keys)
	return keys
}
