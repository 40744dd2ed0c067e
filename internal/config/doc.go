// Package config loads the agent runtime configuration from a YAML or JSON
// file and applies environment overrides on top of it.
package config
