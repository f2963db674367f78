package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Sanitize fills port-derived defaults and normalises the peer list:
// entries are trimmed, split on commas, deduplicated, and this node's own
// peer address is dropped. cfg is modified in place and returned.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	s := &cfg.Server
	if s.ID = strings.TrimSpace(s.ID); s.ID == "" {
		s.ID = fmt.Sprintf("server-%d", s.Port)
	}
	if s.PoolSize <= 0 {
		s.PoolSize = s.MaxConnections
	}

	c := &cfg.Cluster
	if c.PeerPort == 0 {
		c.PeerPort = s.Port + PeerPortOffset
	}
	c.Peers = normalisePeers(c.Peers, c.PeerPort, c.AdvertiseAddr)
	c.Discovery.Seeds = normalisePeers(c.Discovery.Seeds, 0, "")

	if cfg.Admin.Port == adminPortUnset {
		cfg.Admin.Port = s.Port + AdminPortOffset
	}

	st := &cfg.Storage
	st.Backend = strings.ToLower(strings.TrimSpace(st.Backend))
	if st.DataDir == "" {
		st.DataDir = filepath.Join(".", "data", s.ID)
	}
	if st.AudioDir == "" {
		st.AudioDir = filepath.Join(st.DataDir, "audio")
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	return cfg
}

func normalisePeers(in []string, selfPort int, advertise string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, p := range strings.Split(entry, ",") {
			p = strings.TrimSpace(p)
			if p == "" || slices.Contains(out, p) || isSelf(p, selfPort, advertise) {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

func isSelf(addr string, selfPort int, advertise string) bool {
	if advertise != "" && addr == advertise {
		return true
	}
	if selfPort == 0 {
		return false
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port != strconv.Itoa(selfPort) {
		return false
	}
	switch host {
	case "", "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}

// Masked returns a copy of cfg that is safe to log: the postgres DSN
// password is masked.
func Masked(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	out.Cluster.Peers = slices.Clone(cfg.Cluster.Peers)
	out.Cluster.Discovery.Seeds = slices.Clone(cfg.Cluster.Discovery.Seeds)
	if out.Storage.DSN != "" {
		out.Storage.DSN = maskDSN(out.Storage.DSN)
	}
	return &out
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err == nil && u.Scheme != "" {
		return u.Redacted()
	}
	// key=value form
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=****"
		}
	}
	return strings.Join(fields, " ")
}
