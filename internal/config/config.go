package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"nft-sale-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	General     GeneralConfig     `mapstructure:"general"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Oracle      OracleConfig      `mapstructure:"oracle"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Channels    ChannelsConfig    `mapstructure:"channels"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// GeneralConfig governs the poll cycle.
type GeneralConfig struct {
	RecentSalesAmount  int           `mapstructure:"recent_sales_amount"`
	OldestSaleToNotify time.Duration `mapstructure:"oldest_sale_to_notify"`
	SalesCallInterval  time.Duration `mapstructure:"sales_call_interval"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
	ChunkSize          int           `mapstructure:"chunk_size"`
	ChunkCooldown      time.Duration `mapstructure:"chunk_cooldown"`
}

// MarketplaceConfig covers the sales feed API. The API key itself is
// environment-sourced; only the variable name lives in the config file.
type MarketplaceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Chain          string        `mapstructure:"chain"`
	APIKeyEnv      string        `mapstructure:"api_key_env"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// OracleConfig captures the reference-price subgraph.
type OracleConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PriceTTL       time.Duration `mapstructure:"price_ttl"`
}

// LedgerConfig locates the persisted dedup ledger.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the audit trail.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ChannelsConfig registers notification channels by name.
type ChannelsConfig struct {
	Discord  map[string]DiscordChannelConfig  `mapstructure:"discord"`
	Telegram map[string]TelegramChannelConfig `mapstructure:"telegram"`
}

// DiscordChannelConfig 描述单个 Discord webhook 频道。
type DiscordChannelConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	BotName          string   `mapstructure:"bot_name"`
	WebhookEnv       string   `mapstructure:"webhook_env"`
	CollectionFilter []string `mapstructure:"collection_filter"`
	PriceFilter      float64  `mapstructure:"price_filter"`
}

// TelegramChannelConfig 描述单个 Telegram 频道。
type TelegramChannelConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	BotTokenEnv      string   `mapstructure:"bot_token_env"`
	ChatID           string   `mapstructure:"chat_id"`
	APIBase          string   `mapstructure:"api_base"`
	CollectionFilter []string `mapstructure:"collection_filter"`
	PriceFilter      float64  `mapstructure:"price_filter"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SALESBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "nftsalesbot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("general.recent_sales_amount", 25)
	v.SetDefault("general.oldest_sale_to_notify", "1h")
	v.SetDefault("general.sales_call_interval", "60s")
	v.SetDefault("general.startup_delay", "0s")
	v.SetDefault("general.chunk_size", 15)
	v.SetDefault("general.chunk_cooldown", "5s")

	v.SetDefault("marketplace.base_url", "https://api.joepegs.dev/v3")
	v.SetDefault("marketplace.chain", "avalanche")
	v.SetDefault("marketplace.api_key_env", "JOEPEGS_API_KEY")
	v.SetDefault("marketplace.request_timeout", "10s")
	v.SetDefault("marketplace.user_agent", "nftsalesbot/1.0")

	v.SetDefault("oracle.url", "https://api.thegraph.com/subgraphs/name/traderjoe-xyz/exchange")
	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.price_ttl", "5m")

	v.SetDefault("ledger.path", "lastNotifiedTransactions.json")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks. Violations of the stated bounds are fatal
// startup errors, never retried at runtime.
func (c *Config) Validate() error {
	if c.General.RecentSalesAmount <= 0 || c.General.RecentSalesAmount > 100 {
		return fmt.Errorf("general.recent_sales_amount must be within 1..100")
	}
	if c.General.SalesCallInterval <= 0 {
		return fmt.Errorf("general.sales_call_interval must be greater than zero")
	}
	if c.General.OldestSaleToNotify <= 0 {
		return fmt.Errorf("general.oldest_sale_to_notify must be greater than zero")
	}
	if c.General.ChunkSize <= 0 {
		return fmt.Errorf("general.chunk_size must be greater than zero")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path must be configured")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	for name, ch := range c.Channels.Discord {
		if !ch.Enabled {
			continue
		}
		if ch.WebhookEnv == "" {
			return fmt.Errorf("channels.discord.%s.webhook_env 必须配置", name)
		}
		if err := validateCollections(ch.CollectionFilter); err != nil {
			return fmt.Errorf("channels.discord.%s: %w", name, err)
		}
	}
	for name, ch := range c.Channels.Telegram {
		if !ch.Enabled {
			continue
		}
		if ch.BotTokenEnv == "" {
			return fmt.Errorf("channels.telegram.%s.bot_token_env 必须配置", name)
		}
		if ch.ChatID == "" {
			return fmt.Errorf("channels.telegram.%s.chat_id 必须配置", name)
		}
		if err := validateCollections(ch.CollectionFilter); err != nil {
			return fmt.Errorf("channels.telegram.%s: %w", name, err)
		}
	}
	return nil
}

func validateCollections(collections []string) error {
	for _, c := range collections {
		if !common.IsHexAddress(c) {
			return fmt.Errorf("collection_filter entry %q is not a hex contract address", c)
		}
	}
	return nil
}

// NormalizeCollections returns checksummed-then-lowercased contract addresses
// so filters compare consistently against the feed.
func NormalizeCollections(collections []string) []string {
	normalized := make([]string, 0, len(collections))
	for _, c := range collections {
		normalized = append(normalized, strings.ToLower(common.HexToAddress(c).Hex()))
	}
	return normalized
}

// MinPrice converts a zero-means-unset price filter into an optional decimal.
func MinPrice(filter float64) *decimal.Decimal {
	if filter <= 0 {
		return nil
	}
	min := decimal.NewFromFloat(filter)
	return &min
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
