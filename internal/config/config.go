// Package config loads the key/value configuration described in spec.md
// §6 via github.com/spf13/viper, the way storj's services bind viper flags
// to a struct. Missing or invalid values are fatal at construction: Load
// returns an error rather than defaulting silently, mirroring the
// original's libconfig lookups paired with FATAL(...) calls.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// Error is the error class for the config package.
var Error = errs.Class("config")

// Endpoint is a (host, service) RPC target read from configuration.
type Endpoint struct {
	Host    string
	Service string
}

// DHT holds the dht.* configuration keys from spec §6.
type DHT struct {
	Service     string
	Gateways    []string
	Replication int
	Timeout     int
	CacheSize   int
}

// Provider holds the provider.* configuration keys from spec §6.
type Provider struct {
	Retry         int
	Deduplication bool
}

// Config is the fully validated, in-memory configuration for one handler.
type Config struct {
	DHT        DHT
	Provider   Provider
	Publisher  Endpoint
	VersionMgr Endpoint
}

// defaults mirror the original's compiled-in fallbacks for the knobs that
// have a sane default (timeouts, cache size, retry count); dht.gateways,
// pmanager.*, and vmanager.* have no safe default and are fatal if absent.
func defaults(v *viper.Viper) {
	v.SetDefault("dht.timeout", 10)
	v.SetDefault("dht.cachesize", 256)
	v.SetDefault("dht.replication", 1)
	v.SetDefault("provider.retry", 3)
	v.SetDefault("provider.deduplication", true)
}

// Load reads configuration from path (any format viper supports:
// yaml/toml/json) layered with BLOBSEER_-prefixed environment overrides,
// and validates every key spec §6 marks as required.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BLOBSEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, Error.Wrap(err)
		}
	}

	return validate(v)
}

func validate(v *viper.Viper) (Config, error) {
	cfg := Config{
		DHT: DHT{
			Service:     v.GetString("dht.service"),
			Gateways:    v.GetStringSlice("dht.gateways"),
			Replication: v.GetInt("dht.replication"),
			Timeout:     v.GetInt("dht.timeout"),
			CacheSize:   v.GetInt("dht.cachesize"),
		},
		Provider: Provider{
			Retry:         v.GetInt("provider.retry"),
			Deduplication: v.GetBool("provider.deduplication"),
		},
		Publisher: Endpoint{
			Host:    v.GetString("pmanager.host"),
			Service: v.GetString("pmanager.service"),
		},
		VersionMgr: Endpoint{
			Host:    v.GetString("vmanager.host"),
			Service: v.GetString("vmanager.service"),
		},
	}

	if len(cfg.DHT.Gateways) == 0 {
		return Config{}, Error.New("dht.gateways is required")
	}
	if cfg.Publisher.Host == "" || cfg.Publisher.Service == "" {
		return Config{}, Error.New("pmanager.host and pmanager.service are required")
	}
	if cfg.VersionMgr.Host == "" || cfg.VersionMgr.Service == "" {
		return Config{}, Error.New("vmanager.host and vmanager.service are required")
	}
	if cfg.Provider.Retry <= 0 {
		return Config{}, Error.New("provider.retry must be positive, got %d", cfg.Provider.Retry)
	}
	if cfg.DHT.Timeout <= 0 {
		return Config{}, Error.New("dht.timeout must be positive, got %d", cfg.DHT.Timeout)
	}
	if cfg.DHT.CacheSize <= 0 {
		return Config{}, Error.New("dht.cachesize must be positive, got %d", cfg.DHT.CacheSize)
	}

	return cfg, nil
}
