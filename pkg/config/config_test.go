package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kmesh/pkg/models"
	"kmesh/pkg/router"
)

const fullConfig = `
node:
  id: node-a
  listen: ":9090"
  packet_listen: "tcp://0.0.0.0:40899"
peers: [node-b, node-c]
clusters: ["http://cluster-eu:8080"]
transport:
  preference: [packetMesh, http]
  timeout: 2s
  probe_url: "http://node-b:9090/mesh/health"
health:
  interval: 30s
balancer:
  strategy: lowest-latency
broadcast:
  mode: majority-success
routes:
  - query_type: knowledge.
    match: prefix
    primary: document
    fallbacks: [relational]
  - query_type: knowledge.search
    primary: vector
    fallbacks: [document]
stores:
  document:
    primary: "s3://kmesh/docs?region=eu-west-1"
    alternatives: ["memory://"]
  relational:
    primary: "sqlite:///var/lib/kmesh/knowledge.db"
  vector:
    primary: "vector://"
log:
  level: debug
`

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestParseFullConfig() {
	cfg, err := Parse([]byte(fullConfig))
	s.Require().NoError(err)

	s.Equal(models.PeerID("node-a"), cfg.Node.ID)
	s.Equal(":9090", cfg.Node.Listen)
	s.Equal([]models.PeerID{"node-b", "node-c"}, cfg.Peers)
	s.Equal([]models.TransportKind{models.TransportPacketMesh, models.TransportHTTP}, cfg.Transport.Preference)
	s.Equal(2*time.Second, cfg.Transport.Timeout)
	s.Equal(30*time.Second, cfg.Health.Interval)
	s.Equal("lowest-latency", cfg.Balancer.Strategy)
	s.Equal("majority-success", cfg.Broadcast.Mode)
	s.Equal("debug", cfg.Log.Level)

	s.Require().Len(cfg.Routes, 2)
	s.Equal(models.MatchPrefix, cfg.Routes[0].Match)
	s.Equal(models.MatchExact, cfg.Routes[1].Match, "match defaults to exact")
	s.Equal([]string{"memory://"}, cfg.Stores[models.BackendDocument].Alternatives)
}

func (s *ConfigTestSuite) TestDefaults() {
	cfg, err := Parse([]byte("node:\n  id: solo\n"))
	s.Require().NoError(err)

	s.Equal(defaultListen, cfg.Node.Listen)
	s.Equal(models.TransportKinds, cfg.Transport.Preference)
	s.Equal(defaultSendTimeout, cfg.Transport.Timeout)
	s.Equal(defaultHealthInterval, cfg.Health.Interval)
	s.Equal(defaultCacheTimeout, cfg.Cache.Timeout)
	s.Equal(defaultVoteTimeout, cfg.Consensus.Timeout)
	s.Equal("round-robin", cfg.Balancer.Strategy)
	s.Equal("first-success", cfg.Broadcast.Mode)
	s.Equal("info", cfg.Log.Level)
	s.Equal(DefaultRoutes(), cfg.Routes)
	s.Len(cfg.Stores, len(models.BackendKinds))
	s.Empty(cfg.Peers)
}

func (s *ConfigTestSuite) TestEmptyDocumentRequiresNodeID() {
	_, err := Parse(nil)
	s.ErrorIs(err, ErrInvalidConfig)
	s.Contains(err.Error(), "Config.Node.ID: is required")
}

func (s *ConfigTestSuite) TestUnknownFieldRejected() {
	_, err := Parse([]byte("node:\n  id: a\n  colour: blue\n"))
	s.Error(err)
	s.Contains(err.Error(), "colour")
}

func (s *ConfigTestSuite) TestNegativeTimeoutRejected() {
	_, err := Parse([]byte("node:\n  id: a\nhealth:\n  interval: -1s\n"))
	s.ErrorIs(err, ErrInvalidConfig)
	s.Contains(err.Error(), "must not be negative")
}

func (s *ConfigTestSuite) TestLoad() {
	path := filepath.Join(s.T().TempDir(), "kmesh.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal(models.PeerID("node-a"), cfg.Node.ID)

	_, err = Load(filepath.Join(s.T().TempDir(), "missing.yaml"))
	s.Error(err)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func validConfig() *Config {
	cfg := &Config{Node: NodeConfig{ID: "node-a"}}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidateRoutes(t *testing.T) {
	tests := []struct {
		name   string
		routes []models.BackendDescriptor
		want   error
	}{
		{
			name:   "defaults are valid",
			routes: DefaultRoutes(),
		},
		{
			name: "fallback repeats primary",
			routes: []models.BackendDescriptor{
				{QueryType: router.KnowledgeGet, Match: models.MatchExact, Primary: models.BackendDocument, Fallbacks: []models.BackendKind{models.BackendRelational, models.BackendDocument}},
			},
			want: ErrFallbackRepeatsPrimary,
		},
		{
			name: "fallback listed twice",
			routes: []models.BackendDescriptor{
				{QueryType: router.KnowledgeGet, Match: models.MatchExact, Primary: models.BackendDocument, Fallbacks: []models.BackendKind{models.BackendRelational, models.BackendRelational}},
			},
			want: ErrDuplicateRoute,
		},
		{
			name: "duplicate descriptor",
			routes: []models.BackendDescriptor{
				{QueryType: router.KnowledgeGet, Match: models.MatchExact, Primary: models.BackendDocument},
				{QueryType: router.KnowledgeGet, Match: models.MatchExact, Primary: models.BackendRelational},
			},
			want: ErrDuplicateRoute,
		},
		{
			name: "exact and prefix on same text are distinct",
			routes: []models.BackendDescriptor{
				{QueryType: "session.", Match: models.MatchPrefix, Primary: models.BackendCache},
				{QueryType: router.SessionGet, Match: models.MatchExact, Primary: models.BackendRelational},
			},
		},
		{
			name: "unknown kind",
			routes: []models.BackendDescriptor{
				{QueryType: router.KnowledgeGet, Match: models.MatchExact, Primary: "columnar"},
			},
			want: ErrUnknownBackendKind,
		},
		{
			name: "unknown exact query type",
			routes: []models.BackendDescriptor{
				{QueryType: "persona.load", Match: models.MatchExact, Primary: models.BackendDocument},
			},
			want: ErrUnknownQueryType,
		},
		{
			name: "prefix matching nothing",
			routes: []models.BackendDescriptor{
				{QueryType: "ingest.", Match: models.MatchPrefix, Primary: models.BackendDocument},
			},
			want: ErrUnknownQueryType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Routes = tt.routes

			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateMissingStore(t *testing.T) {
	cfg := validConfig()
	cfg.Stores = map[models.BackendKind]StoreConfig{
		models.BackendDocument: {Primary: "memory://"},
	}
	cfg.Routes = []models.BackendDescriptor{
		{QueryType: router.KnowledgeGet, Match: models.MatchExact, Primary: models.BackendDocument, Fallbacks: []models.BackendKind{models.BackendRelational}},
	}

	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrMissingStore)
	assert.Contains(t, err.Error(), "relational")
}

func TestValidateEnumerations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"strategy", func(c *Config) { c.Balancer.Strategy = "fastest" }, "fastest"},
		{"mode", func(c *Config) { c.Broadcast.Mode = "quorum" }, "quorum"},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }, "chatty"},
		{"transport", func(c *Config) { c.Transport.Preference = []models.TransportKind{"smoke-signal"} }, "smoke-signal"},
		{"store kind", func(c *Config) { c.Stores["blob"] = StoreConfig{Primary: "memory://"} }, "blob"},
		{"duplicate peer", func(c *Config) { c.Peers = []models.PeerID{"b", "b"} }, "listed twice"},
		{"empty peer", func(c *Config) { c.Peers = []models.PeerID{""} }, "Peers[0]"},
		{"empty store primary", func(c *Config) { c.Stores[models.BackendCache] = StoreConfig{} }, "Primary"},
		{"bad probe url", func(c *Config) { c.Transport.ProbeURL = "not a url" }, "ProbeURL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}
