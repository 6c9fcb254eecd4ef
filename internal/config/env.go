package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// parseEnv overlays CREDSTORE_* variables. Unset variables keep the value
// already in config.
func parseEnv(config *Config) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
