package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"strategylab/internal/catalog"
	"strategylab/internal/strategy"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for strategylab.
type Config struct {
	Storage    Storage               `yaml:"storage"`
	Logging    Logging               `yaml:"logging"`
	Backtest   Backtest              `yaml:"backtest"`
	Data       Data                  `yaml:"data"`
	Indicators []catalog.Spec        `yaml:"indicators"`
	Strategies []strategy.Definition `yaml:"strategies"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds the engine parameters shared by every run.
type Backtest struct {
	InitialCapital float64 `yaml:"initial_capital"`
	CommissionRate float64 `yaml:"commission_rate"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	Workers        int     `yaml:"workers"`
}

// Data selects the bars a run reads from the bar store.
type Data struct {
	Symbol string `yaml:"symbol"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, map[string]bool{})
	return cfg
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills in
// defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// risk_free_rate may legitimately be zero, so record whether it was set.
	var raw struct {
		Backtest map[string]any `yaml:"backtest"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	set := make(map[string]bool, len(raw.Backtest))
	for k := range raw.Backtest {
		set[k] = true
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg, set)

	return cfg, nil
}

// applyDefaults fills in zero-valued fields. set lists the backtest keys
// present in the file.
func applyDefaults(cfg *Config, set map[string]bool) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "strategylab.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Backtest.InitialCapital == 0 {
		cfg.Backtest.InitialCapital = 10000
	}
	if !set["risk_free_rate"] {
		cfg.Backtest.RiskFreeRate = 0.02
	}
	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		if s.PositionSizePct == 0 {
			s.PositionSizePct = 100
		}
		if s.MaxOpenPositions == 0 {
			s.MaxOpenPositions = 1
		}
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRATEGYLAB_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("STRATEGYLAB_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("STRATEGYLAB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backtest.Workers = n
		}
	}
}

// Path returns the config file named by STRATEGYLAB_CONFIG, or fallback.
func Path(fallback string) string {
	if v := os.Getenv("STRATEGYLAB_CONFIG"); v != "" {
		return v
	}
	return fallback
}
