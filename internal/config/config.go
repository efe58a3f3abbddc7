// Package config loads the engine configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/btcrgl/ledger-engine/internal/model"
)

// ErrUnsupportedMethod is returned when a lot-selection method other than
// FIFO is configured. The setting exists so ledgers state their method
// explicitly, but FIFO is the only implemented selection order.
var ErrUnsupportedMethod = errors.New("config: unsupported lot selection method")

// Config holds the runtime configuration.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	TaxScope  model.Scope
	GAAPScope model.Scope
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:        envOr("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}

	for _, name := range []string{"TAX_LOT_METHOD", "GAAP_LOT_METHOD"} {
		if method := envOr(name, "fifo"); method != "fifo" {
			return Config{}, fmt.Errorf("%w: %s=%q (only \"fifo\" is supported)", ErrUnsupportedMethod, name, method)
		}
	}

	var err error
	if cfg.TaxScope, err = parseScope("TAX_LOT_SCOPE", model.ScopeWallet); err != nil {
		return Config{}, err
	}
	if cfg.GAAPScope, err = parseScope("GAAP_LOT_SCOPE", model.ScopeUniversal); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func parseScope(name string, fallback model.Scope) (model.Scope, error) {
	v := os.Getenv(name)
	switch model.Scope(v) {
	case "":
		return fallback, nil
	case model.ScopeWallet, model.ScopeUniversal:
		return model.Scope(v), nil
	default:
		return "", fmt.Errorf("config: %s=%q (want \"wallet\" or \"universal\")", name, v)
	}
}
