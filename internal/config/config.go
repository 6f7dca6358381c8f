package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultChainID  uint64 = 8453
	DefaultChainRPC        = "8453=https://mainnet.base.org"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	GeckoURL       string
	Network        string
	PlatformURL    string
	PlatformAPIKey string
	CoinGeckoURL   string

	ChainID   uint64
	ChainRPCs map[uint64]string

	Connector          string
	KeystoreDir        string
	KeystoreAccount    string
	KeystorePassphrase string
	PrivateKey         string

	MaxRetries   int
	RetryDelay   time.Duration
	HTTPTimeout  time.Duration
	PriceRefresh time.Duration

	Listen   string
	PGDSN    string
	Journal  string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
// Environment variables use the COINSCOPE_ prefix with dashes replaced by
// underscores, e.g. COINSCOPE_PLATFORM_API_KEY.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("gecko-url", "https://api.geckoterminal.com/api/v2")
	v.SetDefault("network", "base")
	v.SetDefault("platform-url", "https://public.api.paragraph.com/api/v1")
	v.SetDefault("coingecko-url", "https://api.coingecko.com/api/v3")
	v.SetDefault("chain-id", DefaultChainID)
	v.SetDefault("chain-rpc", DefaultChainRPC)
	v.SetDefault("max-retries", 2)
	v.SetDefault("retry-delay", time.Second)
	v.SetDefault("http-timeout", 15*time.Second)
	v.SetDefault("price-refresh", 60*time.Second)
	v.SetDefault("listen", ":8080")
	v.SetDefault("journal", "./data/trades.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	rpcs, err := ParseChainRPCs(chainRPCEntries(v, "chain-rpc"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		GeckoURL:           v.GetString("gecko-url"),
		Network:            v.GetString("network"),
		PlatformURL:        v.GetString("platform-url"),
		PlatformAPIKey:     v.GetString("platform-api-key"),
		CoinGeckoURL:       v.GetString("coingecko-url"),
		ChainID:            v.GetUint64("chain-id"),
		ChainRPCs:          rpcs,
		Connector:          v.GetString("connector"),
		KeystoreDir:        v.GetString("keystore-dir"),
		KeystoreAccount:    v.GetString("keystore-account"),
		KeystorePassphrase: v.GetString("keystore-passphrase"),
		PrivateKey:         v.GetString("private-key"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryDelay:         v.GetDuration("retry-delay"),
		HTTPTimeout:        v.GetDuration("http-timeout"),
		PriceRefresh:       v.GetDuration("price-refresh"),
		Listen:             v.GetString("listen"),
		PGDSN:              v.GetString("pg-dsn"),
		Journal:            v.GetString("journal"),
		LogLevel:           v.GetString("log-level"),
	}

	if cfg.MaxRetries < 0 {
		return Config{}, fmt.Errorf("max-retries must be >= 0")
	}
	return cfg, nil
}

// RPCURL returns the RPC endpoint configured for the active chain.
func (c Config) RPCURL() (string, bool) {
	url, ok := c.ChainRPCs[c.ChainID]
	return url, ok
}

// ParseChainRPCs parses "chainID=url" entries.
func ParseChainRPCs(entries []string) (map[uint64]string, error) {
	out := make(map[uint64]string, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid chain-rpc entry %q, want chainID=url", entry)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id in %q: %w", entry, err)
		}
		url := strings.TrimSpace(parts[1])
		if url == "" {
			return nil, fmt.Errorf("empty rpc url for chain %d", id)
		}
		out[id] = url
	}
	return out, nil
}

// chainRPCEntries accepts either a list of "id=url" strings or, from a
// config file, a map of id to url.
func chainRPCEntries(v *viper.Viper, key string) []string {
	switch typed := v.Get(key).(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(typed))
		for k := range typed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, fmt.Sprintf("%s=%v", k, typed[k]))
		}
		return out
	default:
		return getStringSlice(v, key)
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
