package thttp

import (
	"compress/gzip"
	"net/http"

	"github.com/kevinpollet/nego"
	"github.com/segmentio/encoding/json"
)

// ShouldGzip returns if gzip-compression is asked for in HTTP request
func ShouldGzip(r *http.Request) bool {
	// nego.NegotiateContentEncoding(r, "gzip") returns "gzip"
	// if there is no "Accept-Encoding" header there. Guard against it.
	return r.Header.Get("Accept-Encoding") != "" && nego.NegotiateContentEncoding(r, "gzip") == "gzip"
}

// WriteJSON responds with v serialized as JSON, gzip-compressed if the client
// accepts it
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Add("Vary", "Accept-Encoding")
	if !ShouldGzip(r) {
		w.WriteHeader(status)
		_, err := w.Write(data)
		return err
	}

	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(status)
	gz := gzip.NewWriter(w)
	if _, err := gz.Write(data); err != nil {
		return err
	}
	return gz.Close()
}
