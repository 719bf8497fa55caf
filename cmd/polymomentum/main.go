package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polymomentum/bot"
	"github.com/web3guy0/polymomentum/core"
	"github.com/web3guy0/polymomentum/exec"
	"github.com/web3guy0/polymomentum/feeds"
	"github.com/web3guy0/polymomentum/internal/config"
	"github.com/web3guy0/polymomentum/metrics"
	"github.com/web3guy0/polymomentum/risk"
	"github.com/web3guy0/polymomentum/storage"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yml")
	live := flag.Bool("live", false, "place real orders (overrides dry_run)")
	flag.Parse()

	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *live {
		cfg.DryRun = false
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	pricer := risk.NewFairValuer(cfg.PricingModel, cfg.AnnualVol)
	printBanner(cfg, pricer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Markets
	discoverCtx, cancel := context.WithTimeout(ctx, time.Minute)
	markets, err := feeds.NewDiscovery(cfg.GammaAPIURL).Discover(discoverCtx, cfg.Asset)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Market discovery failed")
	}
	log.Info().Int("count", len(markets)).Msg("✅ Markets discovered")

	// 2. Engine state
	assets := trackedAssets(cfg.Asset)
	detector := feeds.NewMomentumDetector(cfg.ThresholdBps, cfg.WindowSecs)
	state, err := core.NewState(markets, assets, detector, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build engine state")
	}

	// 3. Execution
	var executor exec.Executor
	if cfg.DryRun {
		executor = exec.NewPaperClient()
	} else {
		client, err := exec.NewClient(exec.ClientConfig{
			BaseURL:       cfg.CLOBURL,
			PrivateKey:    cfg.WalletPrivateKey,
			FunderAddress: cfg.FunderAddress,
			SignatureType: cfg.SignatureType,
			Creds: exec.Credentials{
				APIKey:     cfg.CLOBApiKey,
				Secret:     cfg.CLOBApiSecret,
				Passphrase: cfg.CLOBPassphrase,
			},
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize executor")
		}
		executor = client
	}

	// 4. Journal
	var journal core.Journal
	var history *storage.Journal
	if cfg.DatabasePath != "" {
		j, err := storage.Open(cfg.DatabasePath)
		if err != nil {
			log.Warn().Err(err).Msg("Journal unavailable, continuing without it")
		} else {
			defer j.Close()
			journal = j
			history = j
		}
	}

	// 5. Notifications
	var notifier *bot.Notifier
	var tradeNotifier core.TradeNotifier
	if cfg.TelegramToken != "" {
		n, err := bot.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID, executor.Mode())
		if err != nil {
			log.Warn().Err(err).Msg("Telegram unavailable, continuing without it")
		} else {
			notifier = n
			tradeNotifier = n
		}
	}

	// 6. Decision loop
	gate := risk.NewGate(risk.GateConfig{
		Cooldown:     cfg.Cooldown(),
		MinEdgeCents: cfg.MinEdgeCents,
	}, pricer)

	dispatcher := core.NewDispatcher(state, executor, journal, tradeNotifier)
	dispatcher.SetBreaker(risk.NewCircuitBreaker(cfg.MaxOrderFailures, cfg.BreakerCooldown(), nil))
	loop := core.NewDecisionLoop(state, gate, dispatcher, core.DecisionConfig{
		Size:     cfg.Size,
		Interval: cfg.DecisionInterval,
		DryRun:   cfg.DryRun,
	}, nil)

	// 7. Feeds
	priceIngestor := feeds.NewIngestor(
		feeds.NewPriceFeed(cfg.PolygonWSURL, cfg.PolygonAPIKey, state),
		nil,
		feeds.IngestorConfig{ReconnectBackoff: feeds.PriceReconnectBackoff},
	)
	bookIngestor := feeds.NewIngestor(
		feeds.NewBookFeed(cfg.PolymarketWSURL, state),
		nil,
		feeds.IngestorConfig{
			ReconnectBackoff: feeds.BookReconnectBackoff,
			PingInterval:     feeds.BookPingInterval,
		},
	)

	// 8. Metrics
	if cfg.MetricsAddr != "" {
		if _, err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
			log.Warn().Err(err).Msg("Metrics endpoint failed to start")
		}
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	go priceIngestor.Run(ctx)
	go bookIngestor.Run(ctx)

	if notifier != nil {
		notifier.Attach(state, loop)
		if history != nil {
			notifier.AttachHistory(history)
		}
		notifier.NotifyStartup(state.Markets())
		go notifier.Run(ctx)
	}

	log.Info().Msg("🚀 All systems running...")
	loop.Run(ctx)

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	log.Info().Msg("🛑 Shutting down, waiting for in-flight orders...")
	dispatcher.Wait()
	log.Info().Msg("👋 Goodbye!")
}

func trackedAssets(filter string) []string {
	if filter != "" {
		return []string{filter}
	}
	assets := make([]string, 0, len(feeds.SeriesSlugs))
	for a := range feeds.SeriesSlugs {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

func printBanner(cfg *config.Config, pricer risk.FairValuer) {
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              POLYMOMENTUM - SPOT MOMENTUM FRONT-RUNNER")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msgf("  Mode:      %s", cfg.Mode())
	log.Info().Msgf("  Size:      $%s per trade", cfg.Size.StringFixed(2))
	log.Info().Msgf("  Threshold: %dbps in %ds", cfg.ThresholdBps, cfg.WindowSecs)
	log.Info().Msgf("  Min edge:  %d¢", cfg.MinEdgeCents)
	log.Info().Msgf("  Cooldown:  %ds", cfg.CooldownSecs)
	log.Info().Msgf("  Pricing:   %s", pricer.Name())
	if cfg.Asset != "" {
		log.Info().Msgf("  Asset:     %s", cfg.Asset)
	}
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
}
