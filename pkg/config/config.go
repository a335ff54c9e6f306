// Package config holds the runtime's on-disk configuration, written once at
// Runtime.Init and read at every Runtime.New.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/loom/pkg/rterrors"
)

// RuntimeConfig is the root/{config.json} document.
type RuntimeConfig struct {
	Root              string `json:"root"`
	SnapshotInterval  uint64 `json:"snapshot_interval"`
	FlowControlLimit  uint64 `json:"flow_control_limit"`
	Debug             bool   `json:"debug"`
}

// Default returns the configuration defaults named in the spec.
func Default(root string) RuntimeConfig {
	return RuntimeConfig{
		Root:             root,
		SnapshotInterval: 50,
		FlowControlLimit: 1000,
		Debug:            false,
	}
}

// Encode renders cfg as the canonical pretty-printed JSON document written to
// config.json.
func Encode(cfg RuntimeConfig) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, &rterrors.ConfigError{Detail: "encode config", Err: err}
	}
	return data, nil
}

// Decode parses a config.json document.
func Decode(data []byte) (RuntimeConfig, error) {
	var cfg RuntimeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RuntimeConfig{}, &rterrors.ConfigError{Detail: "decode config", Err: err}
	}
	if cfg.SnapshotInterval == 0 {
		return RuntimeConfig{}, &rterrors.ConfigError{Detail: fmt.Sprintf("snapshot_interval must be > 0, got %d", cfg.SnapshotInterval)}
	}
	return cfg, nil
}
