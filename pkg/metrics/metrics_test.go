package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryInitializesCollectors(t *testing.T) {
	r := NewRegistry()

	assert.NotNil(t, r.TransportRequestsTotal)
	assert.NotNil(t, r.PeerLinkScore)
	assert.NotNil(t, r.FailoverAttemptsTotal)
	assert.NotNil(t, r.CacheOperationsTotal)
	assert.NotNil(t, r.ConsensusRoundsTotal)
	assert.NotNil(t, r.PrometheusRegistry())
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.FailoverExhaustedTotal.WithLabelValues("knowledge.get").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.FailoverExhaustedTotal.WithLabelValues("knowledge.get")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FailoverExhaustedTotal.WithLabelValues("knowledge.get")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRegistry()
	r.PeerLinkScore.WithLabelValues("http://peer-a").Set(7)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `kmesh_peer_link_score{peer="http://peer-a"} 7`)
}

func TestRecordHTTPRequest(t *testing.T) {
	r := NewRegistry()

	r.RecordHTTPRequest("POST", "/mesh/query", "200", 0)
	r.RecordHTTPRequest("POST", "/mesh/query", "503", 0)
	r.RecordHTTPRequest("POST", "/mesh/query", "200", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("POST", "/mesh/query", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("POST", "/mesh/query", "503")))
}
