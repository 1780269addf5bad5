package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	ShardID         string        `yaml:"shard_id"`
	Host            string        `yaml:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RoutingConfig holds routing table and manager configuration
type RoutingConfig struct {
	Criteria       string        `yaml:"criteria"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// OptimizerConfig holds inter-shard communication optimizer configuration
type OptimizerConfig struct {
	BatchSize            int           `yaml:"batch_size"`
	MaxBatches           int           `yaml:"max_batches"`
	MaxWait              time.Duration `yaml:"max_wait"`
	QueueCapacity        int           `yaml:"queue_capacity"`
	CacheSize            int           `yaml:"cache_size"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	CompressionLevel     int           `yaml:"compression_level"`
	OptimizationInterval time.Duration `yaml:"optimization_interval"`
	DispatchWorkers      int           `yaml:"dispatch_workers"`
}

// TransportConfig holds inter-shard batch transport configuration
type TransportConfig struct {
	Port           int               `yaml:"port"`
	ShardEndpoints map[string]string `yaml:"shard_endpoints"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
	MaxRetries     int               `yaml:"max_retries"`
	RetryInterval  time.Duration     `yaml:"retry_interval"`
}

// GossipConfig holds gossip topology configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for the routing node
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Routing   RoutingConfig   `yaml:"routing"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Transport TransportConfig `yaml:"transport"`
	Gossip    GossipConfig    `yaml:"gossip"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Routing.Criteria == "" {
		cfg.Routing.Criteria = "combined"
	}
	if cfg.Routing.UpdateInterval == 0 {
		cfg.Routing.UpdateInterval = 60 * time.Second
	}

	if cfg.Optimizer.BatchSize == 0 {
		cfg.Optimizer.BatchSize = 100
	}
	if cfg.Optimizer.MaxBatches == 0 {
		cfg.Optimizer.MaxBatches = 10
	}
	if cfg.Optimizer.MaxWait == 0 {
		cfg.Optimizer.MaxWait = time.Second
	}
	if cfg.Optimizer.QueueCapacity == 0 {
		cfg.Optimizer.QueueCapacity = 8192
	}
	if cfg.Optimizer.CacheSize == 0 {
		cfg.Optimizer.CacheSize = 1000
	}
	if cfg.Optimizer.CompressionThreshold == 0 {
		cfg.Optimizer.CompressionThreshold = 1024
	}
	if cfg.Optimizer.CompressionLevel == 0 {
		cfg.Optimizer.CompressionLevel = 6
	}
	if cfg.Optimizer.OptimizationInterval == 0 {
		cfg.Optimizer.OptimizationInterval = 60 * time.Second
	}
	if cfg.Optimizer.DispatchWorkers == 0 {
		cfg.Optimizer.DispatchWorkers = 8
	}

	if cfg.Transport.Port == 0 {
		cfg.Transport.Port = 8085
	}
	if cfg.Transport.RequestTimeout == 0 {
		cfg.Transport.RequestTimeout = 5 * time.Second
	}
	if cfg.Transport.MaxRetries == 0 {
		cfg.Transport.MaxRetries = 3
	}
	if cfg.Transport.RetryInterval == 0 {
		cfg.Transport.RetryInterval = 500 * time.Millisecond
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}
	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.ShardID == "" {
		return fmt.Errorf("server.shard_id is required")
	}
	if c.Optimizer.BatchSize < 1 {
		return fmt.Errorf("optimizer.batch_size must be positive")
	}
	if c.Optimizer.MaxBatches < 1 {
		return fmt.Errorf("optimizer.max_batches must be positive")
	}
	if c.Optimizer.CompressionLevel < 0 || c.Optimizer.CompressionLevel > 9 {
		return fmt.Errorf("optimizer.compression_level must be between 0 and 9")
	}
	if c.Gossip.Enabled && (c.Gossip.BindPort < 1 || c.Gossip.BindPort > 65535) {
		return fmt.Errorf("gossip.bind_port must be between 1 and 65535")
	}
	return nil
}
