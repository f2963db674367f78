package confloader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/yndnr/chatmesh-go/internal/server/config"
)

// DefaultEnvPrefix prefixes every environment variable the loader reads.
const DefaultEnvPrefix = "CHATMESH_"

// Sections whose keys are two levels deep; the env mapping would
// otherwise split them after the first underscore.
var nestedSections = []string{"cluster_discovery_"}

// Loader merges a YAML file, the environment and explicit overrides, in
// that order, over whatever values the target already holds.
type Loader struct {
	envPrefix string
	filePath  string
	overrides map[string]any
}

type Option func(*Loader)

func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile adds a YAML file as the lowest-priority source.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithOverrides adds dotted-key values, typically from command-line
// flags, that win over every other source.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) { l.overrides = values }
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{envPrefix: DefaultEnvPrefix}
	for _, o := range opts {
		o(l)
	}
	return l
}

type layer struct {
	name     string
	provider koanf.Provider
	parser   koanf.Parser
}

func (l *Loader) layers() []layer {
	var out []layer
	if l.filePath != "" {
		out = append(out, layer{"file " + l.filePath, file.Provider(l.filePath), yaml.Parser()})
	}
	out = append(out, layer{"environment", env.Provider(l.envPrefix, ".", l.envKey), nil})
	if len(l.overrides) > 0 {
		out = append(out, layer{"overrides", flatMap(l.overrides), nil})
	}
	return out
}

// Load unmarshals the merged sources into target. Keys no source sets
// keep the value target already had.
func (l *Loader) Load(target any) error {
	k := koanf.New(".")
	for _, ly := range l.layers() {
		if err := k.Load(ly.provider, ly.parser); err != nil {
			return fmt.Errorf("read %s: %w", ly.name, err)
		}
	}
	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("decode configuration: %w", err)
	}
	return nil
}

// envKey turns CHATMESH_SERVER_MAX_CONNECTIONS into server.max_connections.
func (l *Loader) envKey(name string) string {
	s := strings.ToLower(strings.TrimPrefix(name, l.envPrefix))
	for _, nested := range nestedSections {
		if rest, ok := strings.CutPrefix(s, nested); ok {
			return strings.ReplaceAll(nested, "_", ".") + rest
		}
	}
	if section, key, ok := strings.Cut(s, "_"); ok {
		return section + "." + key
	}
	return s
}

// flatMap feeds dotted keys such as "server.port" to koanf.
type flatMap map[string]any

func (m flatMap) Read() (map[string]any, error) { return maps.Unflatten(m, "."), nil }

func (flatMap) ReadBytes() ([]byte, error) {
	return nil, errors.New("confloader: flatMap has no byte form")
}

// LoadServer returns the node configuration: defaults, then path (when
// set), the environment and overrides, then derived values filled in and
// the result checked.
func LoadServer(path string, overrides map[string]any) (*config.ServerConfig, error) {
	cfg := config.Default()
	if err := NewLoader(WithConfigFile(path), WithOverrides(overrides)).Load(cfg); err != nil {
		return nil, err
	}
	config.Sanitize(cfg)
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
