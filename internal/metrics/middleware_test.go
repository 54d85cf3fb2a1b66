package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsStatusAndRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/stories/{story_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	teapots := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	oks := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))

	for _, path := range []string{"/v1/stories/abc", "/ok"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, teapots+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")))
	require.Equal(t, oks+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))
	require.GreaterOrEqual(t, testutil.CollectAndCount(httpRequestDurationSeconds), 1)
}
