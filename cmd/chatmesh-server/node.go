package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/core/service"
	"github.com/yndnr/chatmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/chatmesh-go/internal/infra/confloader"
	"github.com/yndnr/chatmesh-go/internal/infra/shutdown"
	"github.com/yndnr/chatmesh-go/internal/server/chatserver"
	"github.com/yndnr/chatmesh-go/internal/server/clusterserver"
	"github.com/yndnr/chatmesh-go/internal/server/config"
	"github.com/yndnr/chatmesh-go/internal/server/httpserver"
	"github.com/yndnr/chatmesh-go/internal/server/registry"
	"github.com/yndnr/chatmesh-go/internal/storage"
	"github.com/yndnr/chatmesh-go/internal/storage/dbsync"
	"github.com/yndnr/chatmesh-go/internal/storage/memory"
	"github.com/yndnr/chatmesh-go/internal/storage/postgres"
	"github.com/yndnr/chatmesh-go/internal/telemetry/logger"
	"github.com/yndnr/chatmesh-go/internal/telemetry/metric"
)

// shutdownTimeout bounds the whole stop sequence.
const shutdownTimeout = 30 * time.Second

func run(ctx context.Context, cfg *config.ServerConfig, configPath string) error {
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogger := log.With("server_id", cfg.Server.ID)

	slogger.Info("starting chatmesh-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Get().Commit,
		"config", config.Masked(cfg))

	metrics := metric.NewRegistry()

	store, err := openStore(ctx, cfg, metrics, slogger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	bus := event.NewBus(slogger, event.WithHooks(metrics))
	reg := registry.New(cfg.Server.ID, bus, slogger, registry.WithMetrics(metrics))
	syncer := dbsync.New(store, slogger, dbsync.WithMetrics(metrics))

	clusterCfg := config.ToClusterConfig(cfg)
	if clusterCfg.AdvertiseAddr == "" {
		clusterCfg.AdvertiseAddr = defaultAdvertiseAddr(cfg)
	}
	peers := clusterserver.New(clusterCfg, reg, bus, slogger,
		clusterserver.WithMetrics(metrics),
		clusterserver.WithSyncer(syncer))
	reg.SetPeerNotifier(peers)

	deps, err := buildServices(cfg, store, reg, bus, metrics, slogger)
	if err != nil {
		store.Close()
		return err
	}
	subscribe(bus, store, reg, peers, syncer, slogger)

	// Fatal on bind: the client port first, then the peer port.
	chat := chatserver.New(config.ToChatConfig(cfg), deps)
	if err := chat.Start(ctx); err != nil {
		store.Close()
		return err
	}
	if err := peers.Start(ctx); err != nil {
		chat.Shutdown(context.Background())
		store.Close()
		return err
	}

	var discovery *clusterserver.Discovery
	if cfg.Cluster.Discovery.Enabled {
		discovery, err = startDiscovery(cfg, peers, slogger)
		if err != nil {
			slogger.Warn("discovery disabled", "error", err)
		}
	}

	var admin *httpserver.Server
	if addr := config.AdminAddr(cfg); addr != "" {
		router := httpserver.NewRouter(&httpserver.RouterConfig{
			Cluster:   peers,
			Sessions:  reg,
			Version:   buildinfo.Version,
			Metrics:   metrics.Handler(),
			Logger:    slogger,
			RateLimit: cfg.Admin.RateLimit,
		})
		admin = httpserver.New(addr, router, slogger)
		if err := admin.Start(); err != nil {
			slogger.Error("admin server disabled", "error", err)
			admin = nil
		}
	}

	if configPath != "" {
		w, err := confloader.WatchLogLevel(configPath, cfg.Log.Level, func(l slog.Level) {
			logger.SetLevel(l)
			slogger.Info("log level reloaded", "level", l.String())
		}, slogger)
		if err != nil {
			slogger.Warn("config watcher disabled", "error", err)
		} else {
			w.Start()
			defer w.Stop()
		}
	}

	stop := shutdown.NewHandler(shutdownTimeout, slogger)
	stop.Step("sessions", func(context.Context) error {
		n := reg.ShutdownAllSessions("server shutting down")
		slogger.Info("local sessions closed", "count", n)
		return nil
	})
	stop.Step("logout grace", func(ctx context.Context) error {
		return shutdown.Sleep(ctx, cfg.Cluster.LogoutGrace)
	})
	stop.Step("peers", peers.Stop)
	stop.Step("chat server", chat.Shutdown)
	if admin != nil {
		stop.Step("admin server", admin.Shutdown)
	}
	if discovery != nil {
		stop.Step("discovery", func(context.Context) error {
			if err := discovery.Leave(); err != nil {
				slogger.Warn("discovery leave failed", "error", err)
			}
			return discovery.Shutdown()
		})
	}
	stop.Step("store", func(context.Context) error { return store.Close() })

	slogger.Info("server started",
		"client_addr", chat.Addr().String(),
		"peer_addr", peers.AdvertiseAddr())
	if err := stop.Wait(ctx); err != nil {
		return err
	}
	slogger.Info("server stopped")
	return nil
}

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg *config.ServerConfig, metrics *metric.Registry, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.NewStore(ctx, cfg.Server.ID, logger)
	case config.BackendPostgres:
		return postgres.Open(ctx, cfg.Storage.DSN, cfg.Server.ID, logger)
	default:
		engine, err := storage.NewBadgerEngine(storage.DefaultKVConfig(cfg.Storage.DataDir), logger)
		if err != nil {
			return nil, err
		}
		engine.RegisterMetrics(metrics.Prometheus())
		store, err := storage.NewKVStore(ctx, engine, cfg.Server.ID, logger)
		if err != nil {
			engine.Close()
			return nil, err
		}
		return store, nil
	}
}

// buildServices creates the domain services behind the client commands.
func buildServices(cfg *config.ServerConfig, store storage.Store, reg *registry.Registry,
	bus *event.Bus, metrics *metric.Registry, logger *slog.Logger) (*chatserver.Deps, error) {
	audio, err := service.NewFileAudioStore(cfg.Storage.AudioDir)
	if err != nil {
		return nil, err
	}
	sec := cfg.Security
	hasher := service.NewArgon2Hasher(sec.ArgonMemory, sec.ArgonTime, sec.ArgonThreads)
	return &chatserver.Deps{
		Sessions: reg,
		Users:    service.NewUserService(store, store, hasher, reg, bus, logger),
		Channels: service.NewChannelService(store, store, store, reg, bus, logger),
		Messages: service.NewMessagingService(store, store, store, bus, logger),
		Reports:  service.NewReportService(store, store, store, store, reg),
		Audio:    audio,
		Metrics:  metrics,
		Logger:   logger,
	}, nil
}

// subscribe attaches the local notifiers and the replication listeners.
func subscribe(bus *event.Bus, store storage.Store, reg *registry.Registry,
	peers *clusterserver.Manager, syncer *dbsync.Coordinator, logger *slog.Logger) {
	bus.Subscribe("message-notifier", service.NewMessageNotifier(store, store, reg, logger))
	bus.Subscribe("invitation-notifier", service.NewInvitationNotifier(store, store, store, reg, logger))
	bus.Subscribe("log-recorder", service.NewLogRecorder(store, logger))

	bus.Subscribe("user-registration", clusterserver.NewUserRegistrationListener(peers, syncer, logger))
	bus.Subscribe("user-status", clusterserver.NewUserStatusListener(store, reg, peers, bus, logger))
	bus.Subscribe("channel", clusterserver.NewChannelListener(peers, syncer, logger))
	bus.Subscribe("invitation", clusterserver.NewInvitationListener(peers, syncer, logger))
	bus.Subscribe("message", clusterserver.NewMessageListener(peers, syncer))
}

// startDiscovery gossips this node's peer address and dials every node
// that joins with one.
func startDiscovery(cfg *config.ServerConfig, peers *clusterserver.Manager, logger *slog.Logger) (*clusterserver.Discovery, error) {
	d, err := clusterserver.NewDiscovery(config.ToDiscoveryConfig(cfg, peers.AdvertiseAddr(), logger))
	if err != nil {
		return nil, err
	}
	d.OnJoin(func(nodeID, peerAddr string) {
		if nodeID != cfg.Server.ID {
			peers.AddEndpoint(peerAddr)
		}
	})
	for _, addr := range d.PeerAddrs() {
		peers.AddEndpoint(addr)
	}
	return d, nil
}

// defaultAdvertiseAddr is host:peer_port using the machine hostname.
func defaultAdvertiseAddr(cfg *config.ServerConfig) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Cluster.PeerPort))
}
