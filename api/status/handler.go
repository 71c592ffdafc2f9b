package status

import (
	"encoding/json"
	"net/http"

	"github.com/kilianp07/mutorelay/core/hardware"
)

// Source reports the current hardware status.
type Source interface {
	Status() hardware.Status
}

// Counter reports the number of connected clients.
type Counter interface {
	Count() int
}

// Response is the body of GET /api/status.
type Response struct {
	Hardware hardware.Status `json:"hardware"`
	Clients  int             `json:"clients"`
	Version  string          `json:"version,omitempty"`
}

// NewHandler returns an HTTP handler exposing relay status via GET /api/status.
func NewHandler(src Source, clients Counter, version string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := Response{Hardware: src.Status(), Version: version}
		if clients != nil {
			resp.Clients = clients.Count()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
