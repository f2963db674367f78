// Package config defines the chat node configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - sanitize.go: derived defaults, peer list normalisation and masking
//   - verify.go: range and syntax validation
//   - cluster.go: mapping onto the chat and peer server configs
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and CHATMESH_ environment variables.
package config
