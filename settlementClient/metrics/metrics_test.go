package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(settlements.WithLabelValues("direct-transfer", "true"))
	RecordSettlement("direct-transfer", true)
	assert.Equal(t, before+1, testutil.ToFloat64(settlements.WithLabelValues("direct-transfer", "true")))

	before = testutil.ToFloat64(fallbacks)
	RecordFallback()
	assert.Equal(t, before+1, testutil.ToFloat64(fallbacks))

	before = testutil.ToFloat64(duplicates)
	RecordDuplicate()
	assert.Equal(t, before+1, testutil.ToFloat64(duplicates))

	before = testutil.ToFloat64(signingAttempts.WithLabelValues("rejected"))
	RecordSigningAttempt("rejected")
	assert.Equal(t, before+1, testutil.ToFloat64(signingAttempts.WithLabelValues("rejected")))

	ObserveConfirmDuration(0)
	ObserveConfirmDuration(3 * time.Second)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordFallback()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "settlement_fallbacks_total"))
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/settlements", "404"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/settlements/abc", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/settlements", "404")))
}

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                         "/",
		"/":                        "/",
		"/health":                  "/health",
		"/api/v1/settlements":      "/api/v1/settlements",
		"/api/v1/settlements/5xYz": "/api/v1/settlements",
		"/api/v1/quote/fill":       "/api/v1/quote",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}
