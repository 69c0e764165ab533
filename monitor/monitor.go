// Package monitor exposes the state of a DDP client over HTTP
package monitor

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ridge/ddp/ddp"
	"github.com/ridge/ddp/store"
	"github.com/ridge/ddp/thttp"
	"github.com/ridge/ddp/tlog"
	"go.uber.org/zap"
)

// Status is the response of the /status endpoint
type Status struct {
	Status        string         `json:"status"`
	Session       string         `json:"session,omitempty"`
	UserID        string         `json:"userId,omitempty"`
	LastPing      *time.Time     `json:"lastPing,omitempty"`
	LastPong      *time.Time     `json:"lastPong,omitempty"`
	Subscriptions []Subscription `json:"subscriptions"`
	Collections   map[string]int `json:"collections"`
}

// Subscription describes one subscription in a Status
type Subscription struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Params     []any  `json:"params"`
	Collection string `json:"collection,omitempty"`
	Ready      bool   `json:"ready"`
	Error      string `json:"error,omitempty"`
}

type monitor struct {
	client *ddp.Client
}

// Handler returns the monitoring endpoints of client:
//
//	GET /metrics                Prometheus metrics from gatherer
//	GET /status                 session state and subscriptions
//	GET /collections/{name}     documents of the collection
func Handler(client *ddp.Client, gatherer prometheus.Gatherer) http.Handler {
	m := monitor{client: client}

	router := mux.NewRouter()
	router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Path("/status").Methods(http.MethodGet).HandlerFunc(m.status)
	router.Path("/collections/{name}").Methods(http.MethodGet).HandlerFunc(m.collection)
	return thttp.StandardMiddleware(router)
}

func (m monitor) status(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Status:        m.client.Status().String(),
		Session:       m.client.Session(),
		UserID:        m.client.UserID(),
		LastPing:      timestamp(m.client.LastPing()),
		LastPong:      timestamp(m.client.LastPong()),
		Subscriptions: []Subscription{},
		Collections:   map[string]int{},
	}
	for _, info := range m.client.Subscriptions() {
		sub := Subscription{
			ID:         info.ID,
			Name:       info.Name,
			Params:     info.Params,
			Collection: info.Collection,
			Ready:      info.Ready,
		}
		if info.Err != nil {
			sub.Error = info.Err.Error()
		}
		status.Subscriptions = append(status.Subscriptions, sub)
	}
	snapshot := m.client.Store().Snapshot()
	for _, name := range snapshot.Collections() {
		status.Collections[name] = snapshot.Count(name)
	}
	m.respond(w, r, status)
}

func (m monitor) collection(w http.ResponseWriter, r *http.Request) {
	docs := m.client.Store().Find(mux.Vars(r)["name"])
	res := make([]store.Fields, 0, len(docs))
	for _, doc := range docs {
		fields := store.Fields{"_id": doc.ID}
		for k, v := range doc.Fields {
			fields[k] = v
		}
		res = append(res, fields)
	}
	m.respond(w, r, res)
}

func (m monitor) respond(w http.ResponseWriter, r *http.Request, v any) {
	if err := thttp.WriteJSON(w, r, http.StatusOK, v); err != nil {
		tlog.Get(r.Context()).Debug("Failed to write monitoring response", zap.Error(err))
	}
}

func timestamp(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
