package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nft-sale-alerts/internal/config"
	"nft-sale-alerts/internal/dispatch"
	"nft-sale-alerts/internal/fetcher"
	"nft-sale-alerts/internal/ledger"
	"nft-sale-alerts/internal/notify"
	"nft-sale-alerts/internal/pricecache"
	"nft-sale-alerts/internal/scheduler"
	"nft-sale-alerts/internal/service"
	"nft-sale-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newClientFactory builds per-cycle marketplace sessions. The API key is
// resolved from the environment once at startup.
func (a *App) newClientFactory() service.ClientFactory {
	apiKey := os.Getenv(a.Config.Marketplace.APIKeyEnv)
	if apiKey == "" {
		a.Logger.Warn().Str("env", a.Config.Marketplace.APIKeyEnv).Msg("marketplace api key env is empty")
	}

	opts := fetcher.MarketplaceOptions{
		BaseURL:   a.Config.Marketplace.BaseURL,
		APIKey:    apiKey,
		Chain:     a.Config.Marketplace.Chain,
		PageSize:  a.Config.General.RecentSalesAmount,
		Timeout:   a.Config.Marketplace.RequestTimeout,
		UserAgent: a.Config.Marketplace.UserAgent,
	}
	logger := a.Logger

	return func() service.MarketplaceClient {
		return fetcher.NewMarketplace(opts, logger)
	}
}

// newChannels builds all enabled notification channels, in stable name order.
func (a *App) newChannels() []notify.Notifier {
	notifiers := make([]notify.Notifier, 0)

	for _, name := range sortedKeys(a.Config.Channels.Discord) {
		ch := a.Config.Channels.Discord[name]
		if !ch.Enabled {
			continue
		}
		webhookURL := os.Getenv(ch.WebhookEnv)
		if webhookURL == "" {
			a.Logger.Warn().Str("channel", name).Str("env", ch.WebhookEnv).Msg("discord webhook env is empty, channel disabled")
			continue
		}
		filter := notify.NewFilter(config.NormalizeCollections(ch.CollectionFilter), config.MinPrice(ch.PriceFilter))
		notifiers = append(notifiers, notify.NewDiscordNotifier(name, webhookURL, ch.BotName, filter, 10*time.Second, a.Logger))
	}

	for _, name := range sortedKeys(a.Config.Channels.Telegram) {
		ch := a.Config.Channels.Telegram[name]
		if !ch.Enabled {
			continue
		}
		botToken := os.Getenv(ch.BotTokenEnv)
		if botToken == "" {
			a.Logger.Warn().Str("channel", name).Str("env", ch.BotTokenEnv).Msg("telegram bot token env is empty, channel disabled")
			continue
		}
		filter := notify.NewFilter(config.NormalizeCollections(ch.CollectionFilter), config.MinPrice(ch.PriceFilter))
		notifiers = append(notifiers, notify.NewTelegramNotifier(name, botToken, ch.ChatID, ch.APIBase, filter, 10*time.Second, a.Logger))
	}

	return notifiers
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running sale monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	led, err := ledger.Load(a.Config.Ledger.Path, a.Logger)
	if err != nil {
		// Missing or corrupt ledger state is a configuration error.
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; sale auditing disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	notifiers := a.newChannels()
	if len(notifiers) == 0 {
		a.Logger.Warn().Msg("no notification channels enabled")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.General.SalesCallInterval,
		StartupDelay: a.Config.General.StartupDelay,
	}, a.Logger)

	oracle := fetcher.NewGraphOracle(fetcher.OracleOptions{
		URL:     a.Config.Oracle.URL,
		Timeout: a.Config.Oracle.RequestTimeout,
	}, a.Logger)
	prices := pricecache.New(a.Config.Oracle.PriceTTL, nil, a.Logger)
	dispatcher := dispatch.New(notifiers, a.Logger)

	var audit storage.SaleRecordStore
	if store != nil {
		audit = store
	}

	svc := service.New(a.Config, sched, a.newClientFactory(), oracle, prices, dispatcher, led, audit, a.Logger)

	a.Logger.Info().Msg("starting sale monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("sale monitoring service stopped")
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ExportOptions hold parameters for exporting the audit trail.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
