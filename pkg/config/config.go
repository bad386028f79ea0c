// Package config loads the node configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"kmesh/pkg/balancer"
	"kmesh/pkg/broadcast"
	"kmesh/pkg/models"
	"kmesh/pkg/router"
)

const (
	defaultListen           = ":8080"
	defaultSendTimeout      = 5 * time.Second
	defaultProbeTimeout     = 2 * time.Second
	defaultHealthInterval   = 15 * time.Second
	defaultHealthTimeout    = 5 * time.Second
	defaultCacheTimeout     = 3 * time.Second
	defaultVoteTimeout      = 3 * time.Second
	defaultBroadcastTimeout = 5 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

var validate = validator.New()

// Config is the complete, read-only configuration of one mesh node.
type Config struct {
	Node      NodeConfig                         `yaml:"node"`
	Peers     []models.PeerID                    `yaml:"peers" validate:"dive,required"`
	Clusters  []models.PeerID                    `yaml:"clusters" validate:"dive,required"`
	Transport TransportConfig                    `yaml:"transport"`
	Health    HealthConfig                       `yaml:"health"`
	Balancer  BalancerConfig                     `yaml:"balancer"`
	Cache     TimeoutConfig                      `yaml:"cache"`
	Consensus TimeoutConfig                      `yaml:"consensus"`
	Broadcast BroadcastConfig                    `yaml:"broadcast"`
	Routes    []models.BackendDescriptor         `yaml:"routes"`
	Stores    map[models.BackendKind]StoreConfig `yaml:"stores" validate:"dive"`
	Log       LogConfig                          `yaml:"log"`
}

// NodeConfig identifies this node and where it listens.
type NodeConfig struct {
	ID              models.PeerID `yaml:"id" validate:"required"`
	Listen          string        `yaml:"listen" validate:"required"`
	PacketListen    string        `yaml:"packet_listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// TransportConfig controls transport detection and per-send timeouts.
type TransportConfig struct {
	Preference   []models.TransportKind `yaml:"preference"`
	Timeout      time.Duration          `yaml:"timeout" validate:"gte=0"`
	ProbeTimeout time.Duration          `yaml:"probe_timeout" validate:"gte=0"`
	// ProbeURL is fetched to decide whether plain HTTP works from this node.
	ProbeURL    string `yaml:"probe_url" validate:"omitempty,url"`
	RadioDevice string `yaml:"radio_device"`
	// PacketProbe is a host:port dialed to detect the packet mesh.
	PacketProbe string `yaml:"packet_probe" validate:"omitempty,hostname_port"`
}

type HealthConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

type BalancerConfig struct {
	Strategy string `yaml:"strategy"`
}

type TimeoutConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type BroadcastConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Mode    string        `yaml:"mode"`
}

// StoreConfig lists the connections of one backend kind, primary first.
type StoreConfig struct {
	Primary      string   `yaml:"primary" validate:"required"`
	Alternatives []string `yaml:"alternatives" validate:"dive,required"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Node.Listen == "" {
		c.Node.Listen = defaultListen
	}
	if c.Node.ShutdownTimeout == 0 {
		c.Node.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(c.Transport.Preference) == 0 {
		c.Transport.Preference = append([]models.TransportKind(nil), models.TransportKinds...)
	}
	setDuration(&c.Transport.Timeout, defaultSendTimeout)
	setDuration(&c.Transport.ProbeTimeout, defaultProbeTimeout)
	setDuration(&c.Health.Interval, defaultHealthInterval)
	setDuration(&c.Health.Timeout, defaultHealthTimeout)
	setDuration(&c.Cache.Timeout, defaultCacheTimeout)
	setDuration(&c.Consensus.Timeout, defaultVoteTimeout)
	setDuration(&c.Broadcast.Timeout, defaultBroadcastTimeout)
	if c.Balancer.Strategy == "" {
		c.Balancer.Strategy = string(balancer.RoundRobin)
	}
	if c.Broadcast.Mode == "" {
		c.Broadcast.Mode = string(broadcast.FirstSuccess)
	}
	if len(c.Routes) == 0 {
		c.Routes = DefaultRoutes()
	}
	for i := range c.Routes {
		if c.Routes[i].Match == "" {
			c.Routes[i].Match = models.MatchExact
		}
	}
	if len(c.Stores) == 0 {
		c.Stores = DefaultStores()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func setDuration(d *time.Duration, fallback time.Duration) {
	if *d == 0 {
		*d = fallback
	}
}

// DefaultRoutes sends knowledge records to the document store, similarity
// search to the vector store, relations to the graph store and sessions to
// the cache, each falling back to the relational store.
func DefaultRoutes() []models.BackendDescriptor {
	return []models.BackendDescriptor{
		{QueryType: "knowledge.", Match: models.MatchPrefix, Primary: models.BackendDocument, Fallbacks: []models.BackendKind{models.BackendRelational}},
		{QueryType: router.KnowledgeSearch, Match: models.MatchExact, Primary: models.BackendVector, Fallbacks: []models.BackendKind{models.BackendDocument, models.BackendRelational}},
		{QueryType: router.KnowledgeRelated, Match: models.MatchExact, Primary: models.BackendGraph, Fallbacks: []models.BackendKind{models.BackendRelational}},
		{QueryType: router.KnowledgeLink, Match: models.MatchExact, Primary: models.BackendGraph, Fallbacks: []models.BackendKind{models.BackendRelational}},
		{QueryType: "session.", Match: models.MatchPrefix, Primary: models.BackendCache, Fallbacks: []models.BackendKind{models.BackendRelational}},
	}
}

// DefaultStores keeps every kind in process memory.
func DefaultStores() map[models.BackendKind]StoreConfig {
	return map[models.BackendKind]StoreConfig{
		models.BackendDocument:   {Primary: "memory://"},
		models.BackendGraph:      {Primary: "graph://"},
		models.BackendRelational: {Primary: "sqlite://:memory:"},
		models.BackendVector:     {Primary: "vector://"},
		models.BackendCache:      {Primary: "memory://"},
	}
}
