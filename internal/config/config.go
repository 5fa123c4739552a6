package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS        NATSConfig        `yaml:"nats"`
	Store       StoreConfig       `yaml:"store"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Web         WebConfig         `yaml:"web"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Vault       VaultConfig       `yaml:"vault"`
	Log         LogConfig         `yaml:"log"`

	Components  []ComponentConfig  `yaml:"components"`
	Connections []ConnectionConfig `yaml:"connections"`
}

type NATSConfig struct {
	Port              int    `yaml:"port"`
	DataDir           string `yaml:"data_dir"`
	CompressThreshold int    `yaml:"compress_threshold"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type RuntimeConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MailboxSize    int           `yaml:"mailbox_size"`
}

type CoordinatorConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	DebateRounds int           `yaml:"debate_rounds"`
	HandoffHops  int           `yaml:"handoff_hops"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ComponentConfig declares a component the host builds at startup.
type ComponentConfig struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

type ConnectionConfig struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	Protocol string `yaml:"protocol"`
	Pattern  string `yaml:"pattern"`
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:              4222,
			DataDir:           "data/nats",
			CompressThreshold: 8 * 1024,
		},
		Store: StoreConfig{
			Path: "data/clodweave.db",
		},
		Runtime: RuntimeConfig{
			RequestTimeout: 30 * time.Second,
			MailboxSize:    1024,
		},
		Coordinator: CoordinatorConfig{
			Timeout:      2 * time.Minute,
			DebateRounds: 3,
			HandoffHops:  10,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv("CLODWEAVE_CONFIG"); p != "" {
		return p
	}
	return "config/clodweave.yaml"
}

func Load() (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CLODWEAVE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CLODWEAVE_NATS_DATA_DIR"); v != "" {
		cfg.NATS.DataDir = v
	}
	if v := os.Getenv("CLODWEAVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CLODWEAVE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Runtime.RequestTimeout = d
		}
	}
	if v := os.Getenv("CLODWEAVE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CLODWEAVE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CLODWEAVE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("CLODWEAVE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CLODWEAVE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
