package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mutorelay/core/hardware"
	"github.com/kilianp07/mutorelay/core/journal"
)

type readySource struct{}

func (readySource) Status() hardware.Status {
	return hardware.Status{State: hardware.StateReady, Driver: "sim"}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestRouterServesIndex(t *testing.T) {
	r := NewRouter(Deps{Title: "Muto <bot>", Version: "v0.1.0"})
	rr := get(t, r, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<title>Muto &lt;bot&gt;</title>")
	assert.Contains(t, rr.Body.String(), "v0.1.0")
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
}

func TestRouterRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	r := NewRouter(Deps{
		WS:       ws,
		Status:   readySource{},
		Journal:  journal.NopStore{},
		Gatherer: reg,
	})

	assert.Equal(t, http.StatusTeapot, get(t, r, "/ws").Code)

	rr := get(t, r, "/api/status")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"state":"ready"`)

	rr = get(t, r, "/api/commands")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "router_test_total 1")
}

func TestRouterOmitsDisabledRoutes(t *testing.T) {
	r := NewRouter(Deps{})
	assert.Equal(t, http.StatusNotFound, get(t, r, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/commands").Code)
}
