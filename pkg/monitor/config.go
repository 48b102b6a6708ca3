package monitor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"coinsim-api/pkg/confkit"
)

// Config controls the risk-monitor loop.
type Config struct {
	PollInterval time.Duration `yaml:"-"`
	// StaleAfter is how long consecutive price-fetch failures may run
	// before a position is flagged as running on stale data.
	StaleAfter time.Duration `yaml:"-"`
	// JournalDir enables cycle journaling when set.
	JournalDir string `yaml:"journal_dir"`

	PollIntervalRaw string `yaml:"poll_interval"`
	StaleAfterRaw   string `yaml:"stale_after"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open monitor config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads monitor configuration from the default project location and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/monitor.yaml")
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
		return nil, fmt.Errorf("read monitor config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal monitor config: %w", err)
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parseDurations() error {
	if strings.TrimSpace(c.PollIntervalRaw) == "" {
		c.PollIntervalRaw = "30s"
	}
	if strings.TrimSpace(c.StaleAfterRaw) == "" {
		c.StaleAfterRaw = "5m"
	}
	interval, err := time.ParseDuration(c.PollIntervalRaw)
	if err != nil {
		return fmt.Errorf("monitor config: invalid poll_interval %q: %w", c.PollIntervalRaw, err)
	}
	if interval <= 0 {
		return fmt.Errorf("monitor config: poll_interval must be positive, got %s", interval)
	}
	stale, err := time.ParseDuration(c.StaleAfterRaw)
	if err != nil {
		return fmt.Errorf("monitor config: invalid stale_after %q: %w", c.StaleAfterRaw, err)
	}
	if stale <= 0 {
		return fmt.Errorf("monitor config: stale_after must be positive, got %s", stale)
	}
	c.PollInterval = interval
	c.StaleAfter = stale
	return nil
}
