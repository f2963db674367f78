package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/chatmesh-go/internal/server/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatmesh.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoader_EnvKey(t *testing.T) {
	l := NewLoader()
	tests := []struct {
		env  string
		want string
	}{
		{"CHATMESH_SERVER_PORT", "server.port"},
		{"CHATMESH_SERVER_MAX_CONNECTIONS", "server.max_connections"},
		{"CHATMESH_CLUSTER_PEERS", "cluster.peers"},
		{"CHATMESH_CLUSTER_DISCOVERY_BIND_PORT", "cluster.discovery.bind_port"},
		{"CHATMESH_LOG", "log"},
	}
	for _, tt := range tests {
		if got := l.envKey(tt.env); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadServer_Priority(t *testing.T) {
	path := writeFile(t, `
server:
  port: 5100
  max_connections: 20
cluster:
  peers: ["b:6100"]
log:
  level: debug
`)
	t.Setenv("CHATMESH_SERVER_MAX_CONNECTIONS", "30")
	t.Setenv("CHATMESH_CLUSTER_DISCOVERY_ENABLED", "true")

	cfg, err := LoadServer(path, map[string]any{"log.format": "text"})
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}

	if cfg.Server.Port != 5100 {
		t.Errorf("Port = %d, want 5100 from file", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections != 30 {
		t.Errorf("MaxConnections = %d, want 30 from env", cfg.Server.MaxConnections)
	}
	if !cfg.Cluster.Discovery.Enabled {
		t.Error("discovery should be enabled from env")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	// Untouched keys keep defaults; derived keys follow the port.
	if cfg.Cluster.DialTimeout != config.DefaultDialTimeout {
		t.Errorf("DialTimeout = %v", cfg.Cluster.DialTimeout)
	}
	if cfg.Server.ID != "server-5100" || cfg.Cluster.PeerPort != 6100 {
		t.Errorf("derived = %q/%d", cfg.Server.ID, cfg.Cluster.PeerPort)
	}
	if len(cfg.Cluster.Peers) != 1 || cfg.Cluster.Peers[0] != "b:6100" {
		t.Errorf("Peers = %v", cfg.Cluster.Peers)
	}
}

func TestLoadServer_Durations(t *testing.T) {
	path := writeFile(t, "cluster:\n  reconnect_max: 1m\n  logout_grace: 250ms\n")
	cfg, err := LoadServer(path, nil)
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.Cluster.ReconnectMax != time.Minute || cfg.Cluster.LogoutGrace != 250*time.Millisecond {
		t.Errorf("durations = %v/%v", cfg.Cluster.ReconnectMax, cfg.Cluster.LogoutGrace)
	}
}

func TestLoadServer_Invalid(t *testing.T) {
	path := writeFile(t, "storage:\n  backend: postgres\n")
	if _, err := LoadServer(path, nil); err == nil {
		t.Fatal("expected verification error for postgres without dsn")
	}
}

func TestLoadServer_MissingFile(t *testing.T) {
	if _, err := LoadServer(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadServer_NoFile(t *testing.T) {
	cfg, err := LoadServer("", nil)
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.Server.Port != config.DefaultPort {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
}
