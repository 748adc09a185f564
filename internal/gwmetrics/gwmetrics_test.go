package gwmetrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveReadIncrementsCountersOnFailure(t *testing.T) {
	r := New()
	r.ObserveRead("boiler-1", 10*time.Millisecond, true)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.ReadsTotal.WithLabelValues("boiler-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.ReadErrors.WithLabelValues("boiler-1")))
}

func TestObserveWriteSkipsErrorCounterOnSuccess(t *testing.T) {
	r := New()
	r.ObserveWrite("pump-1", 5*time.Millisecond, false)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.WritesTotal.WithLabelValues("pump-1")))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.WriteErrors.WithLabelValues("pump-1")))
}

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	r := New()
	mux := http.NewServeMux()
	r.Handler(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
