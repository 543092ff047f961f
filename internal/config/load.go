package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Env abstracts environment lookups so overrides can be tested without touching the process env.
type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// OSEnv returns an Env backed by the process environment.
func OSEnv() Env { return osEnv{} }

// fileDurations carries the duration settings as strings ("30s", "10m").
type fileDurations struct {
	SSH struct {
		ConnectTimeout string `toml:"connect_timeout"`
		KeepAlive      string `toml:"keep_alive"`
	} `toml:"ssh"`
	Query struct {
		Timeout string `toml:"timeout"`
	} `toml:"query"`
	API struct {
		TokenExpiry string `toml:"token_expiry"`
	} `toml:"api"`
}

// Load builds the effective configuration: defaults, then the TOML file at path
// (skipped when path is empty), then environment overrides. The result is validated.
func Load(path string, env Env) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadFile(path)
		if err != nil {
			return Config{}, err
		}
	}

	cfg, err := ApplyEnv(cfg, env)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a TOML file on top of Default().
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML bytes on top of Default().
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	var d fileDurations
	if err := toml.Unmarshal(data, &d); err != nil {
		return Config{}, fmt.Errorf("decode config durations: %w", err)
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"ssh.connect_timeout", d.SSH.ConnectTimeout, &cfg.SSH.ConnectTimeout},
		{"ssh.keep_alive", d.SSH.KeepAlive, &cfg.SSH.KeepAlive},
		{"query.timeout", d.Query.Timeout, &cfg.Query.Timeout},
		{"api.token_expiry", d.API.TokenExpiry, &cfg.API.TokenExpiry},
	}
	for _, item := range durations {
		if item.raw == "" {
			continue
		}
		v, err := time.ParseDuration(item.raw)
		if err != nil {
			return Config{}, &ConfigError{Field: item.field, Message: "invalid duration " + strconv.Quote(item.raw)}
		}
		*item.dst = v
	}

	return cfg, nil
}

// ApplyEnv overrides selected settings from the environment.
//
//	ANALYSISOPS_API_SECRET           api.secret
//	ANALYSISOPS_LISTEN               api.listen
//	ANALYSISOPS_TOKEN_EXPIRY_SECONDS api.token_expiry
//	ANALYSISOPS_STORE_PATH           store.path
//	ANALYSISOPS_KNOWN_HOSTS          ssh.known_hosts
//	ANALYSISOPS_FIELD_MAPPING        schema.field_mapping
//	ANALYSISOPS_TOPOLOGY             schema.topology
//	GIN_MODE                         api.gin_mode
func ApplyEnv(cfg Config, env Env) (Config, error) {
	if env == nil {
		return cfg, nil
	}

	if raw := env.Getenv("ANALYSISOPS_API_SECRET"); raw != "" {
		cfg.API.Secret = raw
	}
	if raw := env.Getenv("ANALYSISOPS_LISTEN"); raw != "" {
		cfg.API.Listen = raw
	}
	if raw := env.Getenv("ANALYSISOPS_TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid ANALYSISOPS_TOKEN_EXPIRY_SECONDS")
		}
		cfg.API.TokenExpiry = time.Duration(seconds) * time.Second
	}
	if raw := env.Getenv("ANALYSISOPS_STORE_PATH"); raw != "" {
		cfg.Store.Path = raw
	}
	if raw := env.Getenv("ANALYSISOPS_KNOWN_HOSTS"); raw != "" {
		cfg.SSH.KnownHostsFile = raw
	}
	if raw := env.Getenv("ANALYSISOPS_FIELD_MAPPING"); raw != "" {
		cfg.Schema.FieldMappingFile = raw
	}
	if raw := env.Getenv("ANALYSISOPS_TOPOLOGY"); raw != "" {
		cfg.Schema.TopologyFile = raw
	}
	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.API.GinMode = raw
	}

	return cfg, nil
}
