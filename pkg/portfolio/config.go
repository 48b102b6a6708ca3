package portfolio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"coinsim-api/pkg/confkit"
)

// Config bounds the simulated portfolio.
type Config struct {
	InitialBalance float64 `yaml:"initial_balance"`
	// MaxPositionFraction caps a single open at a fraction of portfolio value.
	MaxPositionFraction float64 `yaml:"max_position_fraction"`
	// MaxDailyLossFraction suspends trading once realized daily losses
	// exceed this fraction of portfolio value.
	MaxDailyLossFraction float64 `yaml:"max_daily_loss_fraction"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open portfolio config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads portfolio configuration from the default project location and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/portfolio.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read portfolio config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal portfolio config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.InitialBalance <= 0 {
		c.InitialBalance = 100_000
	}
	if c.MaxPositionFraction <= 0 {
		c.MaxPositionFraction = 0.2
	}
	if c.MaxDailyLossFraction <= 0 {
		c.MaxDailyLossFraction = 0.05
	}
}

// Validate ensures configuration sanity.
func (c *Config) Validate() error {
	if c.InitialBalance <= 0 {
		return errors.New("portfolio config: initial_balance must be positive")
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return errors.New("portfolio config: max_position_fraction must be in (0, 1]")
	}
	if c.MaxDailyLossFraction <= 0 || c.MaxDailyLossFraction > 1 {
		return errors.New("portfolio config: max_daily_loss_fraction must be in (0, 1]")
	}
	return nil
}
