// Package config holds the runtime configuration for analysisops.
// Use Default() to get sensible defaults, then override from a TOML file
// (LoadFile) and the environment (ApplyEnv).
package config

import (
	"strconv"
	"time"
)

// SSHConfig controls how the transport session dials the remote host.
type SSHConfig struct {
	ConnectTimeout time.Duration `toml:"-"`           // Dial + handshake timeout (default: 30s)
	KnownHostsFile string        `toml:"known_hosts"` // Empty accepts any host key
	KeepAlive      time.Duration `toml:"-"`           // Interval for keepalive@openssh.com probes (0 = off)
}

// QueryConfig controls the remote query/export engine.
type QueryConfig struct {
	WideTable          string        `toml:"wide_table"`           // Wide table name (default: "wide_table")
	TimestampColumn    string        `toml:"timestamp_column"`     // Primary key column in ms (default: "local_timestamp")
	DisplayOffsetHours int           `toml:"display_offset_hours"` // Fixed display timezone offset (default: 8)
	BatchSize          int           `toml:"batch_size"`           // Rows fetched per remote fetchmany (default: 500)
	ProgressEvery      int           `toml:"progress_every"`       // Emit progress every N rows (default: 1000)
	RowLimit           int           `toml:"row_limit"`            // Max rows kept by an interactive query (default: 50000)
	MaxColumns         int           `toml:"max_columns"`          // SQLite column cap guard (default: 2000)
	Timeout            time.Duration `toml:"-"`                    // Per-command timeout, 0 = none (default: 10m)
	PythonBinaries     []string      `toml:"python_binaries"`      // Interpreters tried in order (default: python3, python)
	WriteBOM           bool          `toml:"write_bom"`            // Prefix CSV output with a UTF-8 BOM (default: false)
	MinFreeBytes       uint64        `toml:"min_free_bytes"`       // Warn when the export disk has less free space (default: 512MiB)
}

// SchemaConfig points at the external mapping data.
type SchemaConfig struct {
	FieldMappingFile string `toml:"field_mapping"` // TOML field mapping (default: "field_mapping.toml")
	TopologyFile     string `toml:"topology"`      // JSON topology (default: "topo.json")
}

// DeployConfig describes the single deployment topology on the remote host.
type DeployConfig struct {
	InstallDir  string `toml:"install_dir"`  // default: /opt/analysis
	ServiceName string `toml:"service_name"` // default: analysis-collector
	BinaryName  string `toml:"binary_name"`  // default: analysis-collector
	ServiceFile string `toml:"service_file"` // default: /etc/systemd/system/analysis-collector.service
	ServiceUser string `toml:"service_user"` // default: analysis
	StagingDir  string `toml:"staging_dir"`  // default: /tmp
}

// EventsConfig sizes the event reporter.
type EventsConfig struct {
	Buffer  int `toml:"buffer"`  // Reporter channel capacity (default: 256)
	History int `toml:"history"` // Lines kept for late subscribers (default: 100)
}

// StoreConfig locates the local job ledger.
type StoreConfig struct {
	Path string `toml:"path"` // DuckDB file, empty = in-memory (default: "analysisops.duckdb")
}

// APIConfig configures the HTTP/WebSocket surface.
type APIConfig struct {
	Listen      string        `toml:"listen"`   // default: 127.0.0.1:8787
	Secret      string        `toml:"secret"`   // HS256 signing secret, required to serve
	TokenExpiry time.Duration `toml:"-"`        // default: 12h
	GinMode     string        `toml:"gin_mode"` // default: release
}

// Config is the full application configuration.
type Config struct {
	SSH    SSHConfig    `toml:"ssh"`
	Query  QueryConfig  `toml:"query"`
	Schema SchemaConfig `toml:"schema"`
	Deploy DeployConfig `toml:"deploy"`
	Events EventsConfig `toml:"events"`
	Store  StoreConfig  `toml:"store"`
	API    APIConfig    `toml:"api"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		SSH: SSHConfig{
			ConnectTimeout: 30 * time.Second,
			KeepAlive:      15 * time.Second,
		},
		Query: QueryConfig{
			WideTable:          "wide_table",
			TimestampColumn:    "local_timestamp",
			DisplayOffsetHours: 8,
			BatchSize:          500,
			ProgressEvery:      1000,
			RowLimit:           50000,
			MaxColumns:         2000,
			Timeout:            10 * time.Minute,
			PythonBinaries:     []string{"python3", "python"},
			MinFreeBytes:       512 << 20,
		},
		Schema: SchemaConfig{
			FieldMappingFile: "field_mapping.toml",
			TopologyFile:     "topo.json",
		},
		Deploy: DeployConfig{
			InstallDir:  "/opt/analysis",
			ServiceName: "analysis-collector",
			BinaryName:  "analysis-collector",
			ServiceFile: "/etc/systemd/system/analysis-collector.service",
			ServiceUser: "analysis",
			StagingDir:  "/tmp",
		},
		Events: EventsConfig{
			Buffer:  256,
			History: 100,
		},
		Store: StoreConfig{
			Path: "analysisops.duckdb",
		},
		API: APIConfig{
			Listen:      "127.0.0.1:8787",
			TokenExpiry: 12 * time.Hour,
			GinMode:     "release",
		},
	}
}

// WithConnectTimeout returns a copy of the config with a modified SSH connect timeout.
func (c Config) WithConnectTimeout(d time.Duration) Config {
	c.SSH.ConnectTimeout = d
	return c
}

// WithWideTable returns a copy of the config targeting another wide table.
func (c Config) WithWideTable(table string) Config {
	c.Query.WideTable = table
	return c
}

// WithDisplayOffset returns a copy of the config with a modified display timezone offset.
func (c Config) WithDisplayOffset(hours int) Config {
	c.Query.DisplayOffsetHours = hours
	return c
}

// WithBatchSize returns a copy of the config with a modified remote fetch batch size.
func (c Config) WithBatchSize(n int) Config {
	c.Query.BatchSize = n
	return c
}

// WithStorePath returns a copy of the config with a modified job ledger location.
func (c Config) WithStorePath(path string) Config {
	c.Store.Path = path
	return c
}

// WithAPISecret returns a copy of the config with the API signing secret set.
func (c Config) WithAPISecret(secret string) Config {
	c.API.Secret = secret
	return c
}

// DisplayLocation returns the fixed zone used to render timestamps.
func (c QueryConfig) DisplayLocation() *time.Location {
	offset := c.DisplayOffsetHours * 3600
	name := "UTC"
	if c.DisplayOffsetHours != 0 {
		sign := "+"
		h := c.DisplayOffsetHours
		if h < 0 {
			sign = "-"
			h = -h
		}
		name = "GMT" + sign + strconv.Itoa(h)
	}
	return time.FixedZone(name, offset)
}

// Validate checks if the configuration is valid and returns an error if not.
func (c Config) Validate() error {
	if c.SSH.ConnectTimeout <= 0 {
		return &ConfigError{Field: "ssh.connect_timeout", Message: "must be positive"}
	}
	if !isIdentifier(c.Query.WideTable) {
		return &ConfigError{Field: "query.wide_table", Message: "must be a plain SQL identifier"}
	}
	if !isIdentifier(c.Query.TimestampColumn) {
		return &ConfigError{Field: "query.timestamp_column", Message: "must be a plain SQL identifier"}
	}
	if c.Query.DisplayOffsetHours < -12 || c.Query.DisplayOffsetHours > 14 {
		return &ConfigError{Field: "query.display_offset_hours", Message: "must be between -12 and 14"}
	}
	if c.Query.BatchSize <= 0 {
		return &ConfigError{Field: "query.batch_size", Message: "must be positive"}
	}
	if c.Query.ProgressEvery <= 0 {
		return &ConfigError{Field: "query.progress_every", Message: "must be positive"}
	}
	if c.Query.RowLimit <= 0 {
		return &ConfigError{Field: "query.row_limit", Message: "must be positive"}
	}
	if c.Query.MaxColumns <= 1 {
		return &ConfigError{Field: "query.max_columns", Message: "must be greater than 1"}
	}
	if len(c.Query.PythonBinaries) == 0 {
		return &ConfigError{Field: "query.python_binaries", Message: "must not be empty"}
	}
	if c.Deploy.InstallDir == "" || c.Deploy.ServiceName == "" || c.Deploy.BinaryName == "" {
		return &ConfigError{Field: "deploy", Message: "install_dir, service_name and binary_name are required"}
	}
	if c.Events.Buffer <= 0 {
		return &ConfigError{Field: "events.buffer", Message: "must be positive"}
	}
	if c.API.TokenExpiry <= 0 {
		return &ConfigError{Field: "api.token_expiry", Message: "must be positive"}
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Message
}
