package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"Evergreen.telemetry/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed struct {
	route, method string
	status        int
}

type fakeRecorder struct {
	metrics.Nop
	requests []observed
}

func (f *fakeRecorder) ObserveRequest(route, method string, status int, _ float64) {
	f.requests = append(f.requests, observed{route, method, status})
}

func TestRequestLoggerRecordsRouteTemplate(t *testing.T) {
	rec := &fakeRecorder{}
	r := mux.NewRouter()
	r.Use(RequestLogger(zerolog.Nop(), rec))
	r.HandleFunc("/basins/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)
	r.HandleFunc("/readings", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
		w.(http.Flusher).Flush()
	}).Methods(http.MethodGet)

	for _, path := range []string{"/basins/basin-03", "/readings"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Len(t, rec.requests, 2)
	assert.Equal(t, observed{"/basins/{id}", http.MethodGet, http.StatusNotFound}, rec.requests[0])
	assert.Equal(t, observed{"/readings", http.MethodGet, http.StatusOK}, rec.requests[1])
}
