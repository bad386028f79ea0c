package main

import (
	"context"
	"flag"
	"os"

	"kmesh/pkg/backend"
	"kmesh/pkg/balancer"
	"kmesh/pkg/broadcast"
	"kmesh/pkg/cache"
	"kmesh/pkg/config"
	"kmesh/pkg/consensus"
	"kmesh/pkg/health"
	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
	"kmesh/pkg/router"
	"kmesh/pkg/server"
	"kmesh/pkg/transport"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	// Initialize logger first
	_ = log.Logger

	configPath := flag.String("config", "kmesh.yaml", "Path to the node YAML configuration")
	addr := flag.String("addr", "", "Listen address, overrides node.listen (e.g. :8080)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load configuration")
	}
	if *addr != "" {
		cfg.Node.Listen = *addr
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	if *debug {
		log.SetDebugMode()
		log.Debug().Msg("Debug mode enabled")
	}

	log.Info().
		Str("node", cfg.Node.ID.String()).
		Str("version", Version).
		Int("peers", len(cfg.Peers)).
		Int("clusters", len(cfg.Clusters)).
		Msg("Starting mesh node")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.NewRegistry()

	adapters, err := openStores(ctx, cfg.Stores)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open backend stores")
	}
	defer closeQuietly("backend stores", adapters.Close)

	kind, err := detectTransport(ctx, cfg.Transport)
	if err != nil {
		log.Fatal().Err(err).Msg("Transport detection failed")
	}
	channel, err := openChannel(kind, cfg, reg)
	if err != nil {
		log.Fatal().Err(err).Str("transport", string(kind)).Msg("Failed to open transport channel")
	}
	defer closeQuietly("transport channel", channel.Close)

	monitor := health.NewMonitor(channel, cfg.Peers, health.Options{
		Interval: cfg.Health.Interval,
		Timeout:  cfg.Health.Timeout,
		Metrics:  reg,
	})
	queries := router.NewFailoverRouter(cfg.Routes, router.NewQueryRouter(adapters), reg)
	distributed := cache.New(channel, cfg.Peers, cache.Options{Timeout: cfg.Cache.Timeout, Metrics: reg})
	federated := broadcast.NewFederatedQueryExecutor(cfg.Node.ID, cfg.Clusters, broadcast.Options{
		Timeout: cfg.Broadcast.Timeout,
		Metrics: reg,
	})
	defer closeQuietly("federated executor", federated.Close)

	// Config validation already rejected unknown names.
	strategy, _ := balancer.ParseStrategy(cfg.Balancer.Strategy)
	mode, _ := broadcast.ParseMode(cfg.Broadcast.Mode)

	dispatcher := server.NewDispatcher(cfg.Node.ID, distributed, consensus.AcceptAll, queries)
	if radio, ok := channel.(*transport.RadioChannel); ok {
		radio.Handle(dispatcher.Serve)
	}
	if cfg.Node.PacketListen != "" {
		responder, err := transport.NewPacketResponder(cfg.Node.PacketListen, transport.Options{
			Node:    cfg.Node.ID,
			Timeout: cfg.Transport.Timeout,
			Handler: dispatcher.Serve,
		})
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Node.PacketListen).Msg("Failed to listen on packet mesh")
		}
		if err := responder.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start packet mesh responder")
		}
		defer closeQuietly("packet responder", responder.Close)
	}

	monitor.Start(ctx)
	defer monitor.Stop()

	srv := server.NewServer(server.Options{
		Node:       cfg.Node.ID,
		Version:    Version,
		Transport:  kind,
		Backends:   adapters.Kinds(),
		Dispatcher: dispatcher,
		Monitor:    monitor,
		Queries:    queries,
		Balancer:   balancer.New(monitor, channel, cfg.Peers, reg),
		Strategy:   strategy,
		Cache:      distributed,
		Consensus: consensus.NewManager(channel, cfg.Peers, consensus.Options{
			Timeout: cfg.Consensus.Timeout,
			Metrics: reg,
		}),
		Broadcaster: broadcast.NewBroadcaster(channel, broadcast.Options{
			Timeout: cfg.Broadcast.Timeout,
			Metrics: reg,
		}),
		Federated:       federated,
		Mode:            mode,
		Metrics:         reg,
		ShutdownTimeout: cfg.Node.ShutdownTimeout,
	})
	if err := srv.Start(cfg.Node.Listen); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
}

// openStores opens the connection chain of every configured backend kind.
func openStores(ctx context.Context, stores map[models.BackendKind]config.StoreConfig) (*backend.Registry, error) {
	adapters := backend.NewRegistry()
	for _, kind := range models.BackendKinds {
		store, ok := stores[kind]
		if !ok {
			continue
		}
		chain, err := backend.OpenChain(ctx, kind, store.Primary, store.Alternatives)
		if err != nil {
			_ = adapters.Close()
			return nil, err
		}
		adapters.Register(chain)
		log.Info().
			Str("kind", string(kind)).
			Int("connections", chain.Len()).
			Msg("Backend store ready")
	}
	return adapters, nil
}

// detectTransport probes the configured transports and picks the first
// usable one in preference order. Plain HTTP counts as usable when no probe
// URL is configured.
func detectTransport(ctx context.Context, cfg config.TransportConfig) (models.TransportKind, error) {
	selector := transport.NewSelector(cfg.ProbeTimeout)

	if cfg.ProbeURL != "" {
		selector.Register(models.TransportHTTP, transport.HTTPProbe(cfg.ProbeURL))
	} else {
		selector.Register(models.TransportHTTP, func(context.Context) error { return nil })
	}
	if cfg.PacketProbe != "" {
		selector.Register(models.TransportPacketMesh, transport.DialProbe("tcp", cfg.PacketProbe))
	}
	if cfg.RadioDevice != "" {
		selector.Register(models.TransportRadioMesh, transport.DeviceProbe(cfg.RadioDevice))
	}

	return selector.SelectBest(ctx, cfg.Preference)
}

func openChannel(kind models.TransportKind, cfg *config.Config, reg *metrics.Registry) (transport.Channel, error) {
	opts := transport.Options{
		Node:    cfg.Node.ID,
		Timeout: cfg.Transport.Timeout,
		Metrics: reg,
	}
	if kind == models.TransportRadioMesh {
		link, err := transport.OpenDevice(cfg.Transport.RadioDevice)
		if err != nil {
			return nil, err
		}
		opts.Link = link
	}
	return transport.Open(kind, opts)
}

func closeQuietly(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warn().Err(err).Str("component", name).Msg("Close failed")
	}
}
