package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *ServerConfig {
	return Sanitize(Default())
}

func TestDefault_Sanitized(t *testing.T) {
	cfg := validConfig()

	if cfg.Server.ID != "server-5050" {
		t.Errorf("Server.ID = %q, want server-5050", cfg.Server.ID)
	}
	if cfg.Server.PoolSize != DefaultMaxConnections {
		t.Errorf("PoolSize = %d, want %d", cfg.Server.PoolSize, DefaultMaxConnections)
	}
	if cfg.Cluster.PeerPort != 6050 {
		t.Errorf("PeerPort = %d, want 6050", cfg.Cluster.PeerPort)
	}
	if cfg.Admin.Port != 5150 {
		t.Errorf("Admin.Port = %d, want 5150", cfg.Admin.Port)
	}
	if cfg.Storage.DataDir != "data/server-5050" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.AudioDir != "data/server-5050/audio" {
		t.Errorf("AudioDir = %q", cfg.Storage.AudioDir)
	}
	if err := Verify(cfg); err != nil {
		t.Errorf("Verify(default) = %v", err)
	}
}

func TestSanitize_DerivesFromPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 7000
	cfg.Admin.Port = 0
	Sanitize(cfg)

	if cfg.Server.ID != "server-7000" || cfg.Cluster.PeerPort != 8000 {
		t.Errorf("derived id/peer port = %q/%d", cfg.Server.ID, cfg.Cluster.PeerPort)
	}
	if cfg.Admin.Port != 0 {
		t.Errorf("explicit admin port 0 must stay disabled, got %d", cfg.Admin.Port)
	}
	if AdminAddr(cfg) != "" {
		t.Errorf("AdminAddr = %q, want empty", AdminAddr(cfg))
	}
}

func TestSanitize_Peers(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"trim", []string{" a:6050 ", "b:6050"}, []string{"a:6050", "b:6050"}},
		{"comma string", []string{"a:6050, b:6050,,"}, []string{"a:6050", "b:6050"}},
		{"dedupe", []string{"a:6050", "a:6050"}, []string{"a:6050"}},
		{"drop self", []string{"localhost:6050", "127.0.0.1:6050", "a:6050"}, []string{"a:6050"}},
		{"other port on loopback kept", []string{"127.0.0.1:6051"}, []string{"127.0.0.1:6051"}},
		{"empty", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Cluster.Peers = tt.in
			Sanitize(cfg)
			if strings.Join(cfg.Cluster.Peers, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Peers = %v, want %v", cfg.Cluster.Peers, tt.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{"bad port", func(c *ServerConfig) { c.Server.Port = 70000 }, "server.port"},
		{"zero connections", func(c *ServerConfig) { c.Server.MaxConnections = 0 }, "max_connections"},
		{"peer port collides", func(c *ServerConfig) { c.Cluster.PeerPort = c.Server.Port }, "collides"},
		{"bad peer", func(c *ServerConfig) { c.Cluster.Peers = []string{"nohost"} }, "cluster.peers"},
		{"peer missing host", func(c *ServerConfig) { c.Cluster.Peers = []string{":6050"} }, "missing host"},
		{"reconnect order", func(c *ServerConfig) { c.Cluster.ReconnectMax = time.Millisecond }, "reconnect_min"},
		{"unknown backend", func(c *ServerConfig) { c.Storage.Backend = "sqlite" }, "storage.backend"},
		{"postgres without dsn", func(c *ServerConfig) { c.Storage.Backend = BackendPostgres }, "storage.dsn"},
		{"admin collides", func(c *ServerConfig) { c.Admin.Port = c.Cluster.PeerPort }, "admin.port"},
		{"log level", func(c *ServerConfig) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *ServerConfig) { c.Log.Format = "xml" }, "log.format"},
		{"discovery seed", func(c *ServerConfig) {
			c.Cluster.Discovery.Enabled = true
			c.Cluster.Discovery.Seeds = []string{"seed"}
		}, "discovery.seeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Verify(cfg)
			if err == nil {
				t.Fatalf("Verify() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Verify() = %v, want %q", err, tt.wantErr)
			}
		})
	}

	t.Run("postgres with dsn", func(t *testing.T) {
		cfg := validConfig()
		cfg.Storage.Backend = BackendPostgres
		cfg.Storage.DSN = "postgres://chat@db/chat"
		if err := Verify(cfg); err != nil {
			t.Errorf("Verify() = %v", err)
		}
	})
}

func TestMasked(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://chat:hunter2@db:5432/chat", "postgres://chat:xxxxx@db:5432/chat"},
		{"host=db user=chat password=hunter2", "host=db user=chat password=****"},
		{"postgres://chat@db/chat", "postgres://chat@db/chat"},
	}
	for _, tt := range tests {
		cfg := validConfig()
		cfg.Storage.DSN = tt.dsn
		masked := Masked(cfg)
		if masked.Storage.DSN != tt.want {
			t.Errorf("Masked(%q) = %q, want %q", tt.dsn, masked.Storage.DSN, tt.want)
		}
		if cfg.Storage.DSN != tt.dsn {
			t.Error("Masked modified the original")
		}
	}
}

func TestMappings(t *testing.T) {
	cfg := validConfig()
	cfg.Cluster.Peers = []string{"b:6050"}

	chat := ToChatConfig(cfg)
	if chat.Address != ":5050" || chat.MaxConnections != DefaultMaxConnections {
		t.Errorf("chat config = %+v", chat)
	}

	peer := ToClusterConfig(cfg)
	if peer.ServerID != "server-5050" || peer.ListenAddr != ":6050" || len(peer.Peers) != 1 {
		t.Errorf("cluster config = %+v", peer)
	}
	cfg.Cluster.Peers[0] = "mutated:1"
	if peer.Peers[0] != "b:6050" {
		t.Error("ToClusterConfig must copy the peer list")
	}

	disc := ToDiscoveryConfig(cfg, "10.0.0.1:6050", nil)
	if disc.NodeID != "server-5050" || disc.BindPort != DefaultGossipPort || disc.BindAddr != "0.0.0.0" {
		t.Errorf("discovery config = %+v", disc)
	}
	if AdminAddr(cfg) != ":5150" {
		t.Errorf("AdminAddr = %q", AdminAddr(cfg))
	}
}
