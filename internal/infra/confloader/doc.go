// Package confloader loads the node configuration with koanf.
//
// Sources, later overriding earlier: built-in defaults, a YAML file,
// CHATMESH_ environment variables and command-line flag overrides.
// CHATMESH_SECTION_KEY maps to section.key, so CHATMESH_SERVER_MAX_CONNECTIONS
// sets server.max_connections and CHATMESH_CLUSTER_DISCOVERY_ENABLED sets
// cluster.discovery.enabled.
//
// The configuration is immutable for the process lifetime except for
// log.level, which LevelWatcher reloads when the file changes.
package confloader
