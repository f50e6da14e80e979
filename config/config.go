package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/anyproto/any-snapshot/app"
	"github.com/anyproto/any-snapshot/app/logger"
	"github.com/anyproto/any-snapshot/metric"
)

const CName = "config"

const (
	EngineAnyStore = "anystore"
	EngineMemory   = "memory"
)

func NewFromFile(path string) (c *Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse reads a yaml config and fills the defaults.
func Parse(data []byte) (c *Config, err error) {
	c = &Config{}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	c.setDefaults()
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

type Config struct {
	Log    logger.Config `yaml:"log"`
	Store  Store         `yaml:"store"`
	Forest Forest        `yaml:"forest"`
	Metric metric.Config `yaml:"metric"`
}

type Store struct {
	// Engine is anystore or memory
	Engine string `yaml:"engine"`
	Path   string `yaml:"path"`
}

type Forest struct {
	Namespace string `yaml:"namespace"`
	DataTable string `yaml:"dataTable"`
	Retry     Retry  `yaml:"retry"`
	// StatPeriodSec is how often forest gauges are refreshed, 0 disables them
	StatPeriodSec int `yaml:"statPeriodSec"`
}

// Retry controls how conflicting transactions are repeated. MaxAttempts of 1 disables retries.
type Retry struct {
	MaxAttempts   int `yaml:"maxAttempts"`
	IntervalMs    int `yaml:"intervalMs"`
	MaxIntervalMs int `yaml:"maxIntervalMs"`
}

func (c *Config) setDefaults() {
	if c.Store.Engine == "" {
		c.Store.Engine = EngineAnyStore
	}
	if c.Forest.Namespace == "" {
		c.Forest.Namespace = "snapshots"
	}
	if c.Forest.DataTable == "" {
		c.Forest.DataTable = "data"
	}
	if c.Forest.Retry.MaxAttempts == 0 {
		c.Forest.Retry.MaxAttempts = 5
	}
	if c.Forest.Retry.IntervalMs == 0 {
		c.Forest.Retry.IntervalMs = 10
	}
	if c.Forest.Retry.MaxIntervalMs == 0 {
		c.Forest.Retry.MaxIntervalMs = 1000
	}
}

func (c *Config) Validate() error {
	switch c.Store.Engine {
	case EngineMemory:
	case EngineAnyStore:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s engine", EngineAnyStore)
		}
	default:
		return fmt.Errorf("unknown store engine %q", c.Store.Engine)
	}
	if c.Forest.DataTable == c.Forest.Namespace+"-versions" || c.Forest.DataTable == c.Forest.Namespace+"-deltas" {
		return fmt.Errorf("data table %q collides with the forest tables", c.Forest.DataTable)
	}
	if c.Forest.StatPeriodSec < 0 {
		return fmt.Errorf("forest.statPeriodSec must not be negative")
	}
	if c.Forest.Retry.MaxAttempts < 1 {
		return fmt.Errorf("forest.retry.maxAttempts must be positive")
	}
	return nil
}

func (c *Config) Init(a *app.App) (err error) {
	return nil
}

func (c *Config) Name() (name string) {
	return CName
}

func (c *Config) GetStore() Store {
	return c.Store
}

func (c *Config) GetForest() Forest {
	return c.Forest
}

func (c *Config) GetMetric() metric.Config {
	return c.Metric
}
