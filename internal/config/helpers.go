package config

import (
	"coinsim-api/pkg/confkit"
	"coinsim-api/pkg/discovery"
	"coinsim-api/pkg/market"
	"coinsim-api/pkg/monitor"
	"coinsim-api/pkg/portfolio"
)

// MustLoadMarket loads etc/market.yaml from the project root and panics on error.
// It isolates market config so tests that only need providers do not have
// to hydrate the rest of the app config.
func MustLoadMarket() *market.Config {
	cfg, err := market.LoadConfig(confkit.MustProjectPath("etc/market.yaml"))
	if err != nil {
		panic(err)
	}
	return cfg
}

// MustLoadDiscovery loads the default discovery configuration and panics on error.
func MustLoadDiscovery() *discovery.Config {
	return discovery.MustLoad()
}

// MustLoadMonitor loads the default monitor configuration and panics on error.
func MustLoadMonitor() *monitor.Config {
	return monitor.MustLoad()
}

// MustLoadPortfolio loads the default portfolio configuration and panics on error.
func MustLoadPortfolio() *portfolio.Config {
	return portfolio.MustLoad()
}
