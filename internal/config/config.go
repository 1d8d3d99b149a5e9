package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for wheelhouse.
type Config struct {
	Schwab  Schwab  `yaml:"schwab"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Storage Storage `yaml:"storage"`
	Logging Logging `yaml:"logging"`
}

// Schwab holds credentials and endpoints for the Schwab Trader and
// Marketdata APIs.
type Schwab struct {
	AppKey        string `yaml:"app_key"`
	AppSecret     string `yaml:"app_secret"`
	TradingURL    string `yaml:"trading_url"`
	MarketDataURL string `yaml:"market_data_url"`
	TokenURL      string `yaml:"token_url"`
	TokenFile     string `yaml:"token_file"`
	// Accounts maps an account type ("brokerage", "ira") to its
	// opaque account hash.
	Accounts        map[string]string `yaml:"accounts"`
	RateLimitPerMin int               `yaml:"rate_limit_per_min"`
}

// Alpaca holds credentials for the Alpaca trading-calendar API, used for
// market-holiday lookups.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
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

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if cfg.Schwab.TradingURL == "" {
		cfg.Schwab.TradingURL = "https://api.schwabapi.com/trader/v1"
	}
	if cfg.Schwab.MarketDataURL == "" {
		cfg.Schwab.MarketDataURL = "https://api.schwabapi.com/marketdata/v1"
	}
	if cfg.Schwab.TokenURL == "" {
		cfg.Schwab.TokenURL = "https://api.schwabapi.com/v1/oauth/token"
	}
	if cfg.Schwab.TokenFile == "" {
		cfg.Schwab.TokenFile = "tokens.yaml"
	}
	if cfg.Schwab.RateLimitPerMin == 0 {
		cfg.Schwab.RateLimitPerMin = 120
	}

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCHWAB_APP_KEY"); v != "" {
		cfg.Schwab.AppKey = v
	}
	if v := os.Getenv("SCHWAB_APP_SECRET"); v != "" {
		cfg.Schwab.AppSecret = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
}

// AccountHash resolves the account hash for an account type, e.g.
// "brokerage" or "ira".
func (c *Config) AccountHash(accountType string) (string, error) {
	hash, ok := c.Schwab.Accounts[accountType]
	if !ok || hash == "" {
		return "", fmt.Errorf("no account hash configured for account type %q", accountType)
	}
	return hash, nil
}

// ---------------------------------------------------------------------------
// OAuth token file
// ---------------------------------------------------------------------------

// Tokens holds the OAuth token pair persisted between runs. The refresh
// token outlives the short-lived access token and is exchanged for a new
// pair by the token-refresh mode.
type Tokens struct {
	RefreshToken string `yaml:"refresh_token"`
	AccessToken  string `yaml:"access_token"`
}

// LoadTokens reads the token file at path.
func LoadTokens(path string) (*Tokens, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := &Tokens{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", path, err)
	}
	return t, nil
}

// SaveTokens writes the token file atomically via a temp file and rename, so
// a crash mid-write never leaves a truncated token file behind.
func SaveTokens(path string, t *Tokens) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ---------------------------------------------------------------------------
// Per-ticker call-selling settings
// ---------------------------------------------------------------------------

// RollFallback selects what the roll-strike search does when no strike in
// the search window preserves the premium of the closed position.
type RollFallback string

const (
	// RollFallbackLowest falls back to the lowest strike checked (one
	// dollar above the current price) even though it pays less premium.
	RollFallbackLowest RollFallback = "lowest"
	// RollFallbackSkip abandons the roll for the cycle.
	RollFallbackSkip RollFallback = "skip"
)

// CallSettings are the per-underlying settings for the covered-call selling
// engine, read from <TICKER>_calls.yaml. A missing file is fatal for the
// mode that needs it.
type CallSettings struct {
	// LimitPrice is the preferred premium when opening a fresh position.
	LimitPrice float64 `yaml:"limit_price"`
	// MinLimitPrice is the minimum acceptable bid when selecting a new
	// contract to sell.
	MinLimitPrice float64 `yaml:"min_limit_price"`
	// TransitionTime is the HHMM time of day after which new positions
	// target the next trading day's expiry.
	TransitionTime int `yaml:"transition_time"`
	// Contracts is the configured trade size before throttling.
	Contracts int `yaml:"contracts"`
	// MaxContracts caps simultaneous open plus working contracts.
	MaxContracts int `yaml:"max_contracts"`
	// RollFallback defaults to "lowest".
	RollFallback RollFallback `yaml:"roll_fallback"`
}

// LoadCallSettings reads and validates a CallSettings file.
func LoadCallSettings(path string) (*CallSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &CallSettings{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	if s.RollFallback == "" {
		s.RollFallback = RollFallbackLowest
	}
	if s.RollFallback != RollFallbackLowest && s.RollFallback != RollFallbackSkip {
		return nil, fmt.Errorf("settings file %s: unknown roll_fallback %q", path, s.RollFallback)
	}
	if s.MaxContracts <= 0 {
		return nil, fmt.Errorf("settings file %s: max_contracts must be positive", path)
	}
	if s.Contracts <= 0 {
		return nil, fmt.Errorf("settings file %s: contracts must be positive", path)
	}
	return s, nil
}
