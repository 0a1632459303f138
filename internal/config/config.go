package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Chunk failure policies.
const (
	FailureAbort    = "abort"
	FailureContinue = "continue"
)

// Report row orders.
const (
	OrderCount = "count"
	OrderKey   = "key"
)

const (
	defaultMaxChunkBytes = 64 << 20
	defaultMaxLineBytes  = 1 << 20
	defaultSchema        = "v2"

	defaultShutdownTimeout = 5 * time.Second
)

// PipelineConfig holds the settings of the chunked parse/aggregate pipeline.
type PipelineConfig struct {
	NumWorkers     int    `yaml:"num_workers"`
	MaxChunkBytes  int64  `yaml:"max_chunk_bytes"`
	MaxLineBytes   int    `yaml:"max_line_bytes"`
	Schema         string `yaml:"schema"`
	OnChunkFailure string `yaml:"on_chunk_failure"`
}

// ReportConfig controls the text report.
type ReportConfig struct {
	Order string `yaml:"order"`
}

// GobConfig holds the configuration for the gob snapshot writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// SQLiteConfig holds the configuration for the SQLite run store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ClickHouseConfig holds the connection settings for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NATSConfig holds the settings for publishing results to NATS.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// WriterDef defines a single result writer from the config file.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	Gob        GobConfig        `yaml:"gob"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

// AlerterRule defines a threshold on one run metric.
type AlerterRule struct {
	Name      string  `yaml:"name"`
	Metric    string  `yaml:"metric"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

// AlerterConfig holds the post-run alerting rules.
type AlerterConfig struct {
	Enabled bool          `yaml:"enabled"`
	Rules   []AlerterRule `yaml:"rules"`
}

// SMTPConfig holds the settings for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// APIConfig holds the listen addresses of the API server.
type APIConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	GRPCListenAddr  string `yaml:"grpc_listen_addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ShutdownGrace returns the parsed shutdown timeout.
func (a APIConfig) ShutdownGrace() time.Duration {
	d, err := time.ParseDuration(a.ShutdownTimeout)
	if err != nil {
		return defaultShutdownTimeout
	}
	return d
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Report   ReportConfig   `yaml:"report"`
	Writers  []WriterDef    `yaml:"writers"`
	Alerter  AlerterConfig  `yaml:"alerter"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	API      APIConfig      `yaml:"api"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
// Unset fields take their default values.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	p := &c.Pipeline
	if p.NumWorkers <= 0 {
		p.NumWorkers = runtime.NumCPU()
	}
	if p.MaxChunkBytes <= 0 {
		p.MaxChunkBytes = defaultMaxChunkBytes
	}
	if p.MaxLineBytes <= 0 {
		p.MaxLineBytes = defaultMaxLineBytes
	}
	if p.Schema == "" {
		p.Schema = defaultSchema
	}
	if p.OnChunkFailure == "" {
		p.OnChunkFailure = FailureAbort
	}
	if c.Report.Order == "" {
		c.Report.Order = OrderCount
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.GRPCListenAddr == "" {
		c.API.GRPCListenAddr = ":9090"
	}
	if c.API.ShutdownTimeout == "" {
		c.API.ShutdownTimeout = defaultShutdownTimeout.String()
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Pipeline.OnChunkFailure {
	case FailureAbort, FailureContinue:
	default:
		return fmt.Errorf("invalid on_chunk_failure %q: want %q or %q", c.Pipeline.OnChunkFailure, FailureAbort, FailureContinue)
	}
	switch c.Report.Order {
	case OrderCount, OrderKey:
	default:
		return fmt.Errorf("invalid report order %q: want %q or %q", c.Report.Order, OrderCount, OrderKey)
	}
	if _, err := time.ParseDuration(c.API.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid api shutdown_timeout %q: %w", c.API.ShutdownTimeout, err)
	}
	for i, rule := range c.Alerter.Rules {
		if rule.Metric == "" {
			return fmt.Errorf("alerter rule %d (%s) has no metric", i, rule.Name)
		}
	}
	return nil
}

// FirstEnabledWriter returns the first enabled writer definition of the given type.
func (c *Config) FirstEnabledWriter(writerType string) (*WriterDef, bool) {
	for i := range c.Writers {
		if c.Writers[i].Enabled && c.Writers[i].Type == writerType {
			return &c.Writers[i], true
		}
	}
	return nil, false
}
