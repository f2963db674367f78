package config

import "time"

// Default configuration values.
const (
	DefaultPort           = 5050
	DefaultMaxConnections = 5
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultWriteTimeout   = 10 * time.Second
	DefaultMaxLineBytes   = 8 << 20
	DefaultCommandRate    = 50
	DefaultCommandBurst   = 100

	PeerPortOffset  = 1000
	AdminPortOffset = 100

	DefaultDialTimeout  = 3 * time.Second
	DefaultReconnectMin = 500 * time.Millisecond
	DefaultReconnectMax = 30 * time.Second
	DefaultSendQueue    = 256
	DefaultInboundRate  = 500
	DefaultDedupWindow  = 4096
	DefaultLogoutGrace  = 500 * time.Millisecond
	DefaultGossipPort   = 7946

	BackendBadger   = "badger"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	DefaultAdminRateLimit = 100

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultArgonMemory  = 16 * 1024
	DefaultArgonTime    = 2
	DefaultArgonThreads = 2
)

// adminPortUnset marks an admin port that Sanitize derives from server.port.
const adminPortUnset = -1

// Default returns the default server configuration. Port-derived values
// are filled in by Sanitize.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Port:           DefaultPort,
			MaxConnections: DefaultMaxConnections,
			IdleTimeout:    DefaultIdleTimeout,
			WriteTimeout:   DefaultWriteTimeout,
			MaxLineBytes:   DefaultMaxLineBytes,
			CommandRate:    DefaultCommandRate,
			CommandBurst:   DefaultCommandBurst,
		},
		Cluster: ClusterSection{
			DialTimeout:  DefaultDialTimeout,
			ReconnectMin: DefaultReconnectMin,
			ReconnectMax: DefaultReconnectMax,
			SendQueue:    DefaultSendQueue,
			InboundRate:  DefaultInboundRate,
			DedupWindow:  DefaultDedupWindow,
			LogoutGrace:  DefaultLogoutGrace,
			Discovery: DiscoverySection{
				BindPort: DefaultGossipPort,
			},
		},
		Storage: StorageSection{
			Backend: BackendBadger,
		},
		Admin: AdminSection{
			Port:      adminPortUnset,
			RateLimit: DefaultAdminRateLimit,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Security: SecuritySection{
			ArgonMemory:  DefaultArgonMemory,
			ArgonTime:    DefaultArgonTime,
			ArgonThreads: DefaultArgonThreads,
		},
	}
}
