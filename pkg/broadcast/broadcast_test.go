package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
	"kmesh/pkg/transport/transporttest"
)

type BroadcastTestSuite struct {
	suite.Suite
	channel     *transporttest.FakeChannel
	metrics     *metrics.Registry
	broadcaster *Broadcaster
}

func (s *BroadcastTestSuite) SetupTest() {
	s.channel = transporttest.NewFakeChannel()
	s.metrics = metrics.NewRegistry()
	s.broadcaster = NewBroadcaster(s.channel, Options{Timeout: 100 * time.Millisecond, Metrics: s.metrics})
}

func (s *BroadcastTestSuite) TestResultsInTargetOrder() {
	s.channel.On("slow", func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "slow", nil
	})
	s.channel.Reply("fast", "fast")
	s.channel.On("broken", func(context.Context, string, json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	results := s.broadcaster.Broadcast(context.Background(), models.PathHealth, nil, []models.PeerID{"slow", "broken", "fast", "missing"})

	s.Require().Len(results, 4)
	s.Equal(models.PeerID("slow"), results[0].Target)
	s.True(results[0].Succeeded())
	s.JSONEq(`"slow"`, string(results[0].Payload))
	s.False(results[1].Succeeded())
	s.Contains(results[1].ErrorMessage, "boom")
	s.True(results[2].Succeeded())
	s.False(results[3].Succeeded())

	s.InDelta(2, testutil.ToFloat64(s.metrics.BroadcastTargetsTotal.WithLabelValues(models.PathHealth, "error")), 0)
}

func (s *BroadcastTestSuite) TestTimeoutIsPerTarget() {
	s.channel.Hang("a")
	s.channel.Hang("b")
	s.channel.Reply("c", 1)

	start := time.Now()
	results := s.broadcaster.Broadcast(context.Background(), models.PathQuery, nil, []models.PeerID{"a", "b", "c"})

	s.Less(time.Since(start), 180*time.Millisecond)
	s.True(results[2].Succeeded())

	agg, err := s.broadcaster.Aggregate(results, MajoritySuccess)
	s.Require().NoError(err)
	s.Equal(VerdictMajorityFailure, agg.Verdict)
}

func (s *BroadcastTestSuite) TestNoTargets() {
	s.Empty(s.broadcaster.Broadcast(context.Background(), models.PathQuery, nil, nil))
}

func TestBroadcastSuite(t *testing.T) {
	suite.Run(t, new(BroadcastTestSuite))
}

func clusterServer(t *testing.T, status int, result any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != models.PathQuery {
			http.NotFound(w, r)
			return
		}
		var req models.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 300 {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "cluster degraded"})
			return
		}
		_ = json.NewEncoder(w).Encode(models.QueryResponse{Result: map[string]any{
			"query_type": req.QueryType,
			"answer":     result,
		}})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFederatedQuery(t *testing.T) {
	down := clusterServer(t, http.StatusServiceUnavailable, nil)
	east := clusterServer(t, http.StatusOK, "east")
	west := clusterServer(t, http.StatusOK, "west")

	executor := NewFederatedQueryExecutor("node-1", []models.PeerID{
		models.PeerID(down.URL), models.PeerID(east.URL), models.PeerID(west.URL),
	}, Options{Timeout: time.Second})
	defer executor.Close()

	ctx := context.Background()
	payload := models.Payload{"text": "mesh"}

	agg, results, err := executor.Query(ctx, "knowledge.search", payload, FirstSuccess)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.False(t, results[0].Succeeded())
	assert.Contains(t, results[0].ErrorMessage, "cluster degraded")

	var response models.QueryResponse
	require.NoError(t, json.Unmarshal(agg.Value, &response))
	answer := response.Result.(map[string]any)
	assert.Equal(t, "east", answer["answer"])
	assert.Equal(t, "knowledge.search", answer["query_type"])
	assert.Equal(t, models.PeerID(east.URL), agg.Target)

	agg, _, err = executor.Query(ctx, "knowledge.search", payload, MajoritySuccess)
	require.NoError(t, err)
	assert.Equal(t, VerdictMajoritySuccess, agg.Verdict)

	_, _, err = executor.Query(ctx, "knowledge.search", payload, "quorum")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestFederatedQueryNoClusters(t *testing.T) {
	executor := NewFederatedQueryExecutor("node-1", nil, Options{})
	defer executor.Close()

	_, _, err := executor.Query(context.Background(), "knowledge.get", nil, FirstSuccess)
	assert.ErrorIs(t, err, ErrNoClusters)
}
