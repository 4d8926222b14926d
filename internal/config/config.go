package config

import "time"

// Config is the root configuration for Carscope.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Search   SearchConfig   `yaml:"search"`
	MCP      MCPConfig      `yaml:"mcp"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type RealtimeConfig struct {
	// PingInterval is how often the housekeeper sweeps all live
	// connections with an application-level ping.
	PingInterval time.Duration `yaml:"ping_interval"`
	// CleanupInterval is how often finished tasks and expired rows
	// are evicted.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// TaskMaxAge is how long a finished task stays queryable before
	// the housekeeper drops it.
	TaskMaxAge   time.Duration `yaml:"task_max_age"`
	TaskTimeout  time.Duration `yaml:"task_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SearchConfig struct {
	// Sources names the catalog sources to fan out to.
	Sources          []string      `yaml:"sources"`
	PerSourceTimeout time.Duration `yaml:"per_source_timeout"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8430,
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Path:          "~/.config/carscope/carscope.db",
			RetentionDays: 30,
		},
		Realtime: RealtimeConfig{
			PingInterval:    30 * time.Second,
			CleanupInterval: 1 * time.Hour,
			TaskMaxAge:      24 * time.Hour,
			TaskTimeout:     10 * time.Minute,
			WriteTimeout:    10 * time.Second,
		},
		Search: SearchConfig{
			Sources:          []string{"autotrader", "kijiji", "cargurus"},
			PerSourceTimeout: 30 * time.Second,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}
