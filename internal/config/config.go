package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/monscodex/spot-and-block/internal/entity"
)

type Config struct {
	App       AppConfig
	Providers ProvidersConfig
	Gateway   GatewayConfig
	Cache     CacheConfig
	Targets   TargetsConfig
	Rules     entity.RuleSet
}

type AppConfig struct {
	Env  string
	Port int
	Host string
}

type ProvidersConfig struct {
	ShodanKey        string
	ShodanBaseURL    string
	ShodanPerSecond  int
	URLScanKey       string
	URLScanBaseURL   string
	URLScanPerMinute int
	CVEBaseURL       string
	CVEPerMinute     int
	GeocodeBaseURL   string
}

type GatewayConfig struct {
	Timeout     time.Duration
	BaseBackoff time.Duration
	MaxAttempts int
}

type CacheConfig struct {
	DBPath           string
	ByteBudget       int64
	EvictionInterval time.Duration
	RecheckTimeout   time.Duration
}

type TargetsConfig struct {
	// HighPriority targets are re-assessed on every encounter.
	HighPriority []string
	// Excluded targets are never assessed ("!" re-activates a narrower match).
	Excluded []string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/etc/spotblock")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables
	bindEnvVars()

	// Set defaults
	setDefaults()

	// Try to read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("Error reading config file", "error", err)
		}
	}

	config := &Config{
		App: AppConfig{
			Env:  viper.GetString("APP_ENV"),
			Port: viper.GetInt("APP_PORT"),
			Host: viper.GetString("APP_HOST"),
		},
		Providers: ProvidersConfig{
			ShodanKey:        viper.GetString("SHODAN_API_KEY"),
			ShodanBaseURL:    viper.GetString("SHODAN_BASE_URL"),
			ShodanPerSecond:  viper.GetInt("SHODAN_REQUESTS_PER_SECOND"),
			URLScanKey:       viper.GetString("URLSCAN_API_KEY"),
			URLScanBaseURL:   viper.GetString("URLSCAN_BASE_URL"),
			URLScanPerMinute: viper.GetInt("URLSCAN_REQUESTS_PER_MINUTE"),
			CVEBaseURL:       viper.GetString("CVE_BASE_URL"),
			CVEPerMinute:     viper.GetInt("CVE_REQUESTS_PER_MINUTE"),
			GeocodeBaseURL:   viper.GetString("GEOCODE_BASE_URL"),
		},
		Gateway: GatewayConfig{
			Timeout:     viper.GetDuration("GATEWAY_TIMEOUT"),
			BaseBackoff: viper.GetDuration("GATEWAY_BASE_BACKOFF"),
			MaxAttempts: viper.GetInt("GATEWAY_MAX_ATTEMPTS"),
		},
		Cache: CacheConfig{
			DBPath:           viper.GetString("CACHE_DB_PATH"),
			ByteBudget:       viper.GetInt64("CACHE_BYTE_BUDGET"),
			EvictionInterval: viper.GetDuration("CACHE_EVICTION_INTERVAL"),
			RecheckTimeout:   viper.GetDuration("RECHECK_TIMEOUT"),
		},
		Targets: TargetsConfig{
			HighPriority: viper.GetStringSlice("targets.high_priority"),
			Excluded:     viper.GetStringSlice("targets.excluded"),
		},
	}

	if err := loadRules(&config.Rules); err != nil {
		return nil, err
	}

	return config, nil
}

// loadRules reads the classification rule set from the config file, falling
// back to the built-in defaults, and rejects malformed thresholds up front.
func loadRules(rules *entity.RuleSet) error {
	if viper.IsSet("rules.categories") {
		if err := viper.UnmarshalKey("rules", rules); err != nil {
			return fmt.Errorf("parse rules: %w", err)
		}
	} else {
		*rules = DefaultRuleSet()
	}
	if rules.ScanTimeout == 0 {
		rules.ScanTimeout = viper.GetDuration("SCAN_TIMEOUT")
	}
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}
	return nil
}

func bindEnvVars() {
	// App
	viper.BindEnv("APP_ENV")
	viper.BindEnv("APP_PORT")
	viper.BindEnv("APP_HOST")

	// Providers
	viper.BindEnv("SHODAN_API_KEY")
	viper.BindEnv("SHODAN_BASE_URL")
	viper.BindEnv("SHODAN_REQUESTS_PER_SECOND")
	viper.BindEnv("URLSCAN_API_KEY")
	viper.BindEnv("URLSCAN_BASE_URL")
	viper.BindEnv("URLSCAN_REQUESTS_PER_MINUTE")
	viper.BindEnv("CVE_BASE_URL")
	viper.BindEnv("CVE_REQUESTS_PER_MINUTE")
	viper.BindEnv("GEOCODE_BASE_URL")

	// Gateway
	viper.BindEnv("GATEWAY_TIMEOUT")
	viper.BindEnv("GATEWAY_BASE_BACKOFF")
	viper.BindEnv("GATEWAY_MAX_ATTEMPTS")

	// Cache
	viper.BindEnv("CACHE_DB_PATH")
	viper.BindEnv("CACHE_BYTE_BUDGET")
	viper.BindEnv("CACHE_EVICTION_INTERVAL")
	viper.BindEnv("RECHECK_TIMEOUT")
	viper.BindEnv("SCAN_TIMEOUT")
}

func setDefaults() {
	// App defaults
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_HOST", "0.0.0.0")

	// Provider defaults
	viper.SetDefault("SHODAN_BASE_URL", "https://api.shodan.io")
	viper.SetDefault("SHODAN_REQUESTS_PER_SECOND", 3)
	viper.SetDefault("URLSCAN_BASE_URL", "https://www.virustotal.com/vtapi/v2")
	viper.SetDefault("URLSCAN_REQUESTS_PER_MINUTE", 4)
	viper.SetDefault("CVE_BASE_URL", "https://cve.circl.lu/api/cve")
	viper.SetDefault("CVE_REQUESTS_PER_MINUTE", 60)
	viper.SetDefault("GEOCODE_BASE_URL", "https://api.bigdatacloud.net/data/reverse-geocode-client")

	// Gateway defaults
	viper.SetDefault("GATEWAY_TIMEOUT", 15*time.Second)
	viper.SetDefault("GATEWAY_BASE_BACKOFF", 250*time.Millisecond)
	viper.SetDefault("GATEWAY_MAX_ATTEMPTS", 3)

	// Cache defaults
	viper.SetDefault("CACHE_DB_PATH", "./spotblock.db")
	viper.SetDefault("CACHE_BYTE_BUDGET", int64(1_000_000))
	viper.SetDefault("CACHE_EVICTION_INTERVAL", 5*time.Minute)
	viper.SetDefault("RECHECK_TIMEOUT", 7*24*time.Hour)
	viper.SetDefault("SCAN_TIMEOUT", 365*24*time.Hour)

	// Target defaults
	viper.SetDefault("targets.high_priority", []string{
		"*bankofamerica*",
		"*chase*",
		"*wellsfargo*",
		"*deutsche-bank*",
		"*citi*",
		"*allianz*",
		"*caixabank*",
	})
	viper.SetDefault("targets.excluded", []string{"google.*", "www.google.*"})
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func SetupLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
