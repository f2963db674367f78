package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
)

// Verify validates the configuration. Call it after Sanitize.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyCluster(&cfg.Cluster, cfg.Server.Port); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyAdmin(&cfg.Admin, cfg); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyServer(s *ServerSection) error {
	if s.ID == "" {
		return errors.New("server.id is required")
	}
	if err := verifyPort("server.port", s.Port); err != nil {
		return err
	}
	if s.MaxConnections < 1 {
		return errors.New("server.max_connections must be at least 1")
	}
	if s.PoolSize < 1 {
		return errors.New("server.pool_size must be at least 1")
	}
	if s.IdleTimeout < 0 || s.WriteTimeout < 0 {
		return errors.New("server timeouts must not be negative")
	}
	if s.MaxLineBytes < 1024 {
		return errors.New("server.max_line_bytes must be at least 1024")
	}
	if s.CommandRate <= 0 || s.CommandBurst < 1 {
		return errors.New("server.command_rate and server.command_burst must be positive")
	}
	return nil
}

func verifyCluster(c *ClusterSection, clientPort int) error {
	if err := verifyPort("cluster.peer_port", c.PeerPort); err != nil {
		return err
	}
	if c.PeerPort == clientPort {
		return fmt.Errorf("cluster.peer_port %d collides with server.port", c.PeerPort)
	}
	for _, p := range c.Peers {
		if err := verifyHostPort(p); err != nil {
			return fmt.Errorf("cluster.peers: %w", err)
		}
	}
	if c.DialTimeout <= 0 {
		return errors.New("cluster.dial_timeout must be positive")
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return errors.New("cluster.reconnect_min must be positive and not exceed cluster.reconnect_max")
	}
	if c.SendQueue < 1 {
		return errors.New("cluster.send_queue must be at least 1")
	}
	if c.InboundRate <= 0 {
		return errors.New("cluster.inbound_rate must be positive")
	}
	if c.DedupWindow < 1 {
		return errors.New("cluster.dedup_window must be at least 1")
	}
	if c.LogoutGrace < 0 {
		return errors.New("cluster.logout_grace must not be negative")
	}
	if c.Discovery.Enabled {
		if err := verifyPort("cluster.discovery.bind_port", c.Discovery.BindPort); err != nil {
			return err
		}
		for _, s := range c.Discovery.Seeds {
			if err := verifyHostPort(s); err != nil {
				return fmt.Errorf("cluster.discovery.seeds: %w", err)
			}
		}
	}
	return nil
}

func verifyStorage(s *StorageSection) error {
	switch s.Backend {
	case BackendBadger:
		if s.DataDir == "" {
			return errors.New("storage.data_dir is required for the badger backend")
		}
	case BackendMemory:
	case BackendPostgres:
		if s.DSN == "" {
			return errors.New("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of badger, memory, postgres", s.Backend)
	}
	if s.AudioDir == "" {
		return errors.New("storage.audio_dir is required")
	}
	return nil
}

func verifyAdmin(a *AdminSection, cfg *ServerConfig) error {
	if a.Port == 0 {
		return nil
	}
	if err := verifyPort("admin.port", a.Port); err != nil {
		return err
	}
	if a.Port == cfg.Server.Port || a.Port == cfg.Cluster.PeerPort {
		return fmt.Errorf("admin.port %d collides with another listener", a.Port)
	}
	if a.RateLimit < 0 {
		return errors.New("admin.rate_limit must not be negative")
	}
	return nil
}

func verifyLog(l *LogSection) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch l.Format {
	case "json", "text":
		return nil
	}
	return fmt.Errorf("log.format %q is not one of json, text", l.Format)
}

func verifyPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d is out of range", key, port)
	}
	return nil
}

func verifyHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("%q: missing host", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%q: invalid port", addr)
	}
	return nil
}
