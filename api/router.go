// Package api assembles the HTTP surface of the relay: the control page, the
// WebSocket endpoint and the JSON status, journal and metrics endpoints.
package api

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/mutorelay/api/commands"
	"github.com/kilianp07/mutorelay/api/status"
	"github.com/kilianp07/mutorelay/core/journal"
	"github.com/kilianp07/mutorelay/infra/metrics"
)

//go:embed web/index.html
var webFS embed.FS

var indexTmpl = template.Must(template.ParseFS(webFS, "web/index.html"))

// Deps are the handlers and stores the router exposes.
type Deps struct {
	WS      http.Handler
	Status  status.Source
	Clients status.Counter
	Journal journal.Store
	// JournalToken protects /api/commands when set.
	JournalToken string
	// Gatherer enables /metrics when non-nil.
	Gatherer prometheus.Gatherer
	Title    string
	Version  string
}

type pageData struct {
	Title   string
	Version string
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	title := d.Title
	if title == "" {
		title = "Muto"
	}
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTmpl.Execute(w, pageData{Title: title, Version: d.Version}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}).Methods(http.MethodGet)
	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}
	if d.Status != nil {
		r.Handle("/api/status", status.NewHandler(d.Status, d.Clients, d.Version)).Methods(http.MethodGet)
	}
	if d.Journal != nil {
		r.Handle("/api/commands", commands.NewHandler(d.Journal, d.JournalToken)).Methods(http.MethodGet)
	}
	if d.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(d.Gatherer))
	}
	return r
}
