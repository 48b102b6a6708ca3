package discovery

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"coinsim-api/pkg/confkit"
)

// Config controls the discovery scan: filter thresholds, score weights
// and the cadence of the background scan loop.
type Config struct {
	UniverseSize     int     `yaml:"universe_size"`
	MarketCapFloor   float64 `yaml:"market_cap_floor"`
	MarketCapCeiling float64 `yaml:"market_cap_ceiling"` // 0 disables the ceiling
	VolumeFloor      float64 `yaml:"volume_floor"`
	ScoreThreshold   float64 `yaml:"score_threshold"`

	Weights ScoreWeights `yaml:"weights"`

	CandleInterval string `yaml:"candle_interval"`
	CandleLimit    int    `yaml:"candle_limit"`

	ScanInterval    time.Duration `yaml:"-"`
	ScanIntervalRaw string        `yaml:"scan_interval"`
}

// ScoreWeights weighs the composite-score sub-metrics. Weights are
// normalised at load time so only their ratios matter.
type ScoreWeights struct {
	MarketCap float64 `yaml:"market_cap"`
	Volume    float64 `yaml:"volume"`
	Momentum  float64 `yaml:"momentum"`
	Sentiment float64 `yaml:"sentiment"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open discovery config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads discovery configuration from the default project location and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/discovery.yaml")
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
		return nil, fmt.Errorf("read discovery config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal discovery config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.UniverseSize <= 0 {
		c.UniverseSize = 100
	}
	if strings.TrimSpace(c.CandleInterval) == "" {
		c.CandleInterval = "24h"
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 7
	}
	if strings.TrimSpace(c.ScanIntervalRaw) == "" {
		c.ScanIntervalRaw = "1h"
	}
	if c.Weights == (ScoreWeights{}) {
		c.Weights = ScoreWeights{MarketCap: 0.3, Volume: 0.3, Momentum: 0.3, Sentiment: 0.1}
	}
}

func (c *Config) parseDurations() error {
	interval, err := time.ParseDuration(c.ScanIntervalRaw)
	if err != nil {
		return fmt.Errorf("discovery config: invalid scan_interval %q: %w", c.ScanIntervalRaw, err)
	}
	if interval <= 0 {
		return fmt.Errorf("discovery config: scan_interval must be positive, got %s", interval)
	}
	c.ScanInterval = interval
	return nil
}

// Validate ensures configuration sanity.
func (c *Config) Validate() error {
	if c.MarketCapFloor < 0 {
		return errors.New("discovery config: market_cap_floor must not be negative")
	}
	if c.MarketCapCeiling != 0 && c.MarketCapCeiling <= c.MarketCapFloor {
		return errors.New("discovery config: market_cap_ceiling must exceed market_cap_floor")
	}
	if c.VolumeFloor < 0 {
		return errors.New("discovery config: volume_floor must not be negative")
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return errors.New("discovery config: score_threshold must be between 0 and 1")
	}
	w := c.Weights
	if w.MarketCap < 0 || w.Volume < 0 || w.Momentum < 0 || w.Sentiment < 0 {
		return errors.New("discovery config: weights must not be negative")
	}
	if w.MarketCap+w.Volume+w.Momentum+w.Sentiment <= 0 {
		return errors.New("discovery config: at least one weight must be positive")
	}
	return nil
}
