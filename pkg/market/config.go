package market

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"coinsim-api/pkg/confkit"
	"coinsim-api/pkg/ratelimit"
)

// Config describes the upstream providers and how capabilities route across
// them. Each capability carries its own ordered provider list: the first
// entry is the primary, later entries are fallbacks.
type Config struct {
	Default   string                     `yaml:"default"`
	Providers map[string]*ProviderConfig `yaml:"providers"`
	Routes    Routes                     `yaml:"routes"`
}

// Routes holds one ordered provider list per capability. An empty list
// falls back to the default provider alone.
type Routes struct {
	Price       []string `yaml:"price"`
	Candles     []string `yaml:"candles"`
	OrderBook   []string `yaml:"orderbook"`
	Instruments []string `yaml:"instruments"`
}

// ProviderConfig configures a single upstream provider.
type ProviderConfig struct {
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
	MaxRetries int           `yaml:"max_retries"`

	RateLimit ratelimit.BucketConfig `yaml:"rate_limit"`
}

// UpstreamBuilder constructs an Upstream from configuration.
type UpstreamBuilder func(name string, cfg *ProviderConfig) (Upstream, error)

var (
	upstreamRegistry   = make(map[string]UpstreamBuilder)
	upstreamRegistryMu sync.RWMutex
)

// RegisterUpstream registers an upstream constructor under a type name.
func RegisterUpstream(typeName string, builder UpstreamBuilder) {
	upstreamRegistryMu.Lock()
	defer upstreamRegistryMu.Unlock()
	upstreamRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupUpstreamBuilder(typeName string) (UpstreamBuilder, bool) {
	upstreamRegistryMu.RLock()
	defer upstreamRegistryMu.RUnlock()
	builder, ok := upstreamRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// LoadConfig reads market configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open market config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read market config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal market config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	for name, provider := range c.Providers {
		if provider == nil {
			provider = &ProviderConfig{}
			c.Providers[name] = provider
		}
		provider.expandEnv()
		if err := provider.parseDurations(name); err != nil {
			return err
		}
	}
	if c.Default != "" {
		fallback := []string{c.Default}
		if len(c.Routes.Price) == 0 {
			c.Routes.Price = fallback
		}
		if len(c.Routes.Candles) == 0 {
			c.Routes.Candles = fallback
		}
		if len(c.Routes.OrderBook) == 0 {
			c.Routes.OrderBook = fallback
		}
		if len(c.Routes.Instruments) == 0 {
			c.Routes.Instruments = fallback
		}
	}
	return nil
}

func (p *ProviderConfig) expandEnv() {
	p.Type = strings.TrimSpace(os.ExpandEnv(p.Type))
	p.BaseURL = strings.TrimSpace(os.ExpandEnv(p.BaseURL))
	p.APIKey = strings.TrimSpace(os.ExpandEnv(p.APIKey))
	p.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(p.TimeoutRaw))
}

func (p *ProviderConfig) parseDurations(name string) error {
	if p.TimeoutRaw != "" {
		d, err := time.ParseDuration(p.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("market provider %s: invalid timeout %q: %w", name, p.TimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("market provider %s: timeout must be positive, got %s", name, d)
		}
		p.Timeout = d
	}
	return nil
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("market config: providers cannot be empty")
	}
	if c.Default != "" {
		if _, ok := c.Providers[c.Default]; !ok {
			return fmt.Errorf("market config: default provider %q not defined", c.Default)
		}
	}
	for name, provider := range c.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("market config: provider name cannot be empty")
		}
		if err := provider.validate(name); err != nil {
			return err
		}
	}
	for capability, route := range map[string][]string{
		"price":       c.Routes.Price,
		"candles":     c.Routes.Candles,
		"orderbook":   c.Routes.OrderBook,
		"instruments": c.Routes.Instruments,
	} {
		if len(route) == 0 {
			return fmt.Errorf("market config: capability %s has no providers (set routes.%s or default)", capability, capability)
		}
		for _, name := range route {
			if _, ok := c.Providers[name]; !ok {
				return fmt.Errorf("market config: capability %s references unknown provider %q", capability, name)
			}
		}
	}
	return nil
}

func (p *ProviderConfig) validate(name string) error {
	if p == nil {
		return fmt.Errorf("market config: provider %s is nil", name)
	}
	if strings.TrimSpace(p.Type) == "" {
		return fmt.Errorf("market config: provider %s must specify type", name)
	}
	if _, ok := lookupUpstreamBuilder(p.Type); !ok {
		return fmt.Errorf("market config: provider %s has unsupported type %q", name, p.Type)
	}
	return nil
}

// BuildUpstreams instantiates upstream clients according to configuration.
func (c *Config) BuildUpstreams() (map[string]Upstream, error) {
	result := make(map[string]Upstream, len(c.Providers))
	for name, providerCfg := range c.Providers {
		builder, ok := lookupUpstreamBuilder(providerCfg.Type)
		if !ok {
			return nil, fmt.Errorf("market provider %s: unsupported type %q", name, providerCfg.Type)
		}
		upstream, err := builder(name, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("market provider %s: %w", name, err)
		}
		result[name] = upstream
	}
	return result, nil
}

// BuildLimiter assembles the per-provider rate limiter from provider
// rate_limit blocks. Providers without a block stay unlimited.
func (c *Config) BuildLimiter() (*ratelimit.Limiter, error) {
	buckets := make(map[string]ratelimit.BucketConfig)
	for name, providerCfg := range c.Providers {
		if providerCfg.RateLimit.MaxRequests > 0 {
			buckets[name] = providerCfg.RateLimit
		}
	}
	return ratelimit.New(buckets)
}
