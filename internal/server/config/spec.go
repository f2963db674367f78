package config

import "time"

// ServerConfig is the root configuration for chatmesh-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Cluster  ClusterSection  `koanf:"cluster"`
	Storage  StorageSection  `koanf:"storage"`
	Admin    AdminSection    `koanf:"admin"`
	Log      LogSection      `koanf:"log"`
	Security SecuritySection `koanf:"security"`
}

// ServerSection configures the client port.
type ServerSection struct {
	// ID names this node in the cluster. Defaults to server-<port>.
	ID   string `koanf:"id"`
	Port int    `koanf:"port"`

	// MaxConnections is the ceiling on concurrently registered sessions.
	MaxConnections int `koanf:"max_connections"`
	// PoolSize caps the handlers in use. Defaults to MaxConnections.
	PoolSize int `koanf:"pool_size"`

	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	MaxLineBytes int           `koanf:"max_line_bytes"`

	// CommandRate is the per-connection command rate in commands/second.
	CommandRate  float64 `koanf:"command_rate"`
	CommandBurst int     `koanf:"command_burst"`
}

// ClusterSection configures the peer port and peer links.
type ClusterSection struct {
	// PeerPort defaults to server.port + 1000.
	PeerPort int `koanf:"peer_port"`
	// AdvertiseAddr is announced to peers. Defaults to the bound address.
	AdvertiseAddr string `koanf:"advertise_addr"`
	// Peers is the static host:port list. A comma-separated string is accepted.
	Peers []string `koanf:"peers"`

	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReconnectMin time.Duration `koanf:"reconnect_min"`
	ReconnectMax time.Duration `koanf:"reconnect_max"`
	SendQueue    int           `koanf:"send_queue"`
	InboundRate  float64       `koanf:"inbound_rate"`
	DedupWindow  int           `koanf:"dedup_window"`

	// LogoutGrace is the pause between the shutdown LOGOUT fan-out and
	// closing the peer links.
	LogoutGrace time.Duration `koanf:"logout_grace"`

	Discovery DiscoverySection `koanf:"discovery"`
}

// DiscoverySection configures optional memberlist gossip.
type DiscoverySection struct {
	Enabled  bool     `koanf:"enabled"`
	BindAddr string   `koanf:"bind_addr"`
	BindPort int      `koanf:"bind_port"`
	Seeds    []string `koanf:"seeds"`
}

// StorageSection selects and configures the persistence backend.
type StorageSection struct {
	// Backend is one of badger, memory or postgres.
	Backend string `koanf:"backend"`
	// DataDir defaults to ./data/<server.id>.
	DataDir string `koanf:"data_dir"`
	// DSN is the postgres connection string.
	DSN string `koanf:"dsn"`
	// AudioDir defaults to <data_dir>/audio.
	AudioDir string `koanf:"audio_dir"`
}

// AdminSection configures the admin HTTP port.
type AdminSection struct {
	// Port defaults to server.port + 100. Zero disables the admin server.
	Port int `koanf:"port"`
	// RateLimit is the per-IP admin request rate.
	RateLimit int `koanf:"rate_limit"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SecuritySection tunes the argon2id password hasher.
type SecuritySection struct {
	ArgonMemory  uint32 `koanf:"argon_memory"`
	ArgonTime    uint32 `koanf:"argon_time"`
	ArgonThreads uint8  `koanf:"argon_threads"`
}
