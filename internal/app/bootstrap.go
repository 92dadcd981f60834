package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"trade_desk/internal/api"
	"trade_desk/internal/auth"
	"trade_desk/internal/domain"
	"trade_desk/internal/feed"
	"trade_desk/internal/infra"
	"trade_desk/internal/infra/storage"
	"trade_desk/internal/ledger"
	"trade_desk/internal/realtime"
	"trade_desk/internal/service"

	"github.com/shopspring/decimal"
)

// Repository is everything the services persist through.
type Repository interface {
	domain.AccountRepository
	domain.LedgerRepository
	domain.ChatRepository
	domain.CurrencyRepository
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config     *infra.Config
	Repo       Repository
	Downloader *infra.IconDownloader
	Metrics    *infra.Metrics
	Registry   *realtime.Registry
	Prices     *service.PriceService
	Ledger     *ledger.Store
	Server     *http.Server

	closer io.Closer
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize loads config, opens storage and wires every component behind the HTTP server.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping trade desk...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Initialize Storage (DB)
	if err := b.openStorage(); err != nil {
		return err
	}
	slog.Info("✅ Storage initialized", slog.String("driver", cfg.Storage.Driver))

	// 4. Initialize Icon Downloader
	if cfg.Assets.IconDir != "" {
		downloader, err := infra.NewIconDownloader(cfg.Assets.IconDir, cfg.Assets.IconBaseURL)
		if err != nil {
			return err
		}
		b.Downloader = downloader
		slog.Info("✅ Icon downloader ready")
	}

	// 5. Services
	return b.wire()
}

func (b *Bootstrap) openStorage() error {
	cfg := b.Config
	if cfg.Storage.Driver == "memory" {
		b.Repo = storage.NewMemory()
		return nil
	}
	store, err := storage.NewStorage(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	b.Repo = store
	b.closer = store
	return nil
}

func (b *Bootstrap) wire() error {
	cfg := b.Config
	b.Metrics = infra.GlobalMetrics

	verifier, err := auth.NewVerifier(b.Repo, auth.Options{
		Secret:           cfg.Auth.JWTSecret,
		TTL:              time.Duration(cfg.Auth.TokenTTLMin) * time.Minute,
		OperatorUsername: cfg.Auth.OperatorUsername,
		OperatorSecret:   cfg.Auth.OperatorSecret,
		Hasher:           auth.BcryptHasher{Cost: cfg.Auth.BcryptCost},
	})
	if err != nil {
		return err
	}

	b.Registry = realtime.NewRegistry(b.Metrics)
	b.Prices = service.NewPriceService(b.Registry, b.Metrics)
	b.Ledger = ledger.NewStore(b.Repo, b.Repo)

	engine := service.NewTradeEngine(b.Ledger, b.Prices, b.Registry, b.Metrics)
	chat := service.NewChatRelay(b.Ledger, b.Repo, b.Registry)

	ws := realtime.NewHandler(b.Registry, verifier, b.Ledger, engine, chat, b.Prices, b.Metrics, realtime.HandlerConfig{
		SendBuffer:   cfg.Realtime.SendBuffer,
		AuthTimeout:  time.Duration(cfg.Realtime.AuthTimeoutSec) * time.Second,
		PingInterval: time.Duration(cfg.Realtime.PingIntervalSec) * time.Second,
	})

	server := api.NewServer(api.Deps{
		Auth:       verifier,
		Ledger:     b.Ledger,
		Wallet:     service.NewWallet(b.Ledger, b.Registry),
		Moderator:  service.NewModerator(b.Ledger, b.Registry),
		Chat:       chat,
		Currencies: b.Repo,
		Icons:      b.Downloader,
		Publisher:  b.Registry,
		Metrics:    b.Metrics,
		WS:         ws,
	})

	b.Server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}
	return nil
}

// initialPrices normalizes the configured pairs ("btc/eur" -> "BTC/EUR").
func (b *Bootstrap) initialPrices() domain.PriceSnapshot {
	out := make(domain.PriceSnapshot, len(b.Config.Market.Pairs))
	for key, price := range b.Config.Market.Pairs {
		pair, err := domain.ParsePair(key)
		if err != nil {
			continue
		}
		out[pair.String()] = price
	}
	return out
}

// StartFeed seeds the snapshot from config and starts the configured price source.
// The returned function stops it.
func (b *Bootstrap) StartFeed(ctx context.Context) func() {
	cfg := b.Config
	initial := b.initialPrices()
	b.Prices.Update(domain.PriceTick{Prices: initial, Source: "config", At: time.Now().UTC()})
	b.Prices.StartTickProcessor(ctx)

	if cfg.Market.FeedWSURL != "" {
		client := feed.NewWSClient(cfg.Market.FeedWSURL, b.Prices.GetTickChan(), b.Metrics)
		if err := client.Connect(ctx); err != nil {
			slog.Error("Failed to connect price feed", slog.Any("error", err))
		}
		slog.InfoContext(ctx, "✅ Price feed client started", slog.String("url", cfg.Market.FeedWSURL))
		return client.Disconnect
	}

	volatility := cfg.Market.Volatility
	if !volatility.IsPositive() {
		volatility = decimal.RequireFromString("0.005")
	}
	sim := feed.NewSimulator(feed.SimulatorConfig{
		Initial:    initial,
		Interval:   time.Duration(cfg.Market.TickIntervalMS) * time.Millisecond,
		Volatility: volatility,
	}, b.Prices.GetTickChan())

	simCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(simCtx)
	}()
	slog.InfoContext(ctx, "✅ Price simulator started")
	return func() {
		cancel()
		<-done
	}
}

// SyncAssets upserts currency metadata and caches icons in the background.
func (b *Bootstrap) SyncAssets(ctx context.Context) {
	slog.Info("🔄 Starting asset synchronization...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5) // Limit concurrent downloads

	for _, code := range domain.SupportedCurrencies {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			info := &domain.CurrencyInfo{Code: code, Name: domain.CurrencyName(code)}
			if existing, _ := b.Repo.GetCurrency(code); existing != nil {
				info.IconPath = existing.IconPath
				info.LastSyncedAt = existing.LastSyncedAt
				info.CreatedAt = existing.CreatedAt
			}
			if err := b.Repo.UpsertCurrency(info); err != nil {
				slog.Error("Failed to upsert currency", slog.String("code", code), slog.Any("error", err))
				return
			}

			if b.Downloader == nil || !b.Config.Assets.SyncIcons {
				return
			}
			path, err := b.Downloader.DownloadIcon(ctx, code)
			if err != nil {
				slog.Warn("Failed to download icon", slog.String("code", code), slog.Any("error", err))
				return
			}
			info.IconPath = path
			info.LastSyncedAt = time.Now().UTC()
			if err := b.Repo.UpsertCurrency(info); err != nil {
				slog.Error("Failed to store icon path", slog.String("code", code), slog.Any("error", err))
			}
		}(code)
	}

	wg.Wait()
	slog.Info("✨ Asset synchronization completed")
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (b *Bootstrap) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("✅ HTTP server listening", slog.String("addr", b.Server.Addr))
		if err := b.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close releases storage.
func (b *Bootstrap) Close() {
	if b.closer == nil {
		return
	}
	if err := b.closer.Close(); err != nil {
		slog.Warn("Failed to close storage", slog.Any("error", err))
	}
}
