package config

import (
	"log/slog"
	"net"
	"slices"
	"strconv"

	"github.com/yndnr/chatmesh-go/internal/server/chatserver"
	"github.com/yndnr/chatmesh-go/internal/server/clusterserver"
)

// ToChatConfig maps the server section onto the client server config.
func ToChatConfig(cfg *ServerConfig) *chatserver.Config {
	s := cfg.Server
	return &chatserver.Config{
		Address:        ":" + strconv.Itoa(s.Port),
		MaxConnections: s.MaxConnections,
		PoolSize:       s.PoolSize,
		IdleTimeout:    s.IdleTimeout,
		WriteTimeout:   s.WriteTimeout,
		MaxLineBytes:   s.MaxLineBytes,
		CommandRate:    s.CommandRate,
		CommandBurst:   s.CommandBurst,
	}
}

// ToClusterConfig maps the cluster section onto the peer manager config.
func ToClusterConfig(cfg *ServerConfig) clusterserver.Config {
	c := cfg.Cluster
	out := clusterserver.DefaultConfig()
	out.ServerID = cfg.Server.ID
	out.ListenAddr = ":" + strconv.Itoa(c.PeerPort)
	out.AdvertiseAddr = c.AdvertiseAddr
	out.Peers = slices.Clone(c.Peers)
	out.DialTimeout = c.DialTimeout
	out.ReconnectMin = c.ReconnectMin
	out.ReconnectMax = c.ReconnectMax
	out.SendQueue = c.SendQueue
	out.InboundRate = c.InboundRate
	out.DedupWindow = c.DedupWindow
	out.WriteTimeout = cfg.Server.WriteTimeout
	return out
}

// ToDiscoveryConfig maps the discovery section onto the gossip config.
// peerAddr is the peer manager's advertised address.
func ToDiscoveryConfig(cfg *ServerConfig, peerAddr string, logger *slog.Logger) clusterserver.DiscoveryConfig {
	d := cfg.Cluster.Discovery
	bind := d.BindAddr
	if bind == "" {
		bind = "0.0.0.0"
	}
	return clusterserver.DiscoveryConfig{
		NodeID:    cfg.Server.ID,
		BindAddr:  bind,
		BindPort:  d.BindPort,
		PeerAddr:  peerAddr,
		SeedNodes: slices.Clone(d.Seeds),
		Logger:    logger,
	}
}

// AdminAddr returns the admin listen address, or "" when disabled.
func AdminAddr(cfg *ServerConfig) string {
	if cfg.Admin.Port <= 0 {
		return ""
	}
	return net.JoinHostPort("", strconv.Itoa(cfg.Admin.Port))
}
