package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/alerts"
	"github.com/ajitpratap0/futuresfunk/internal/bot"
	"github.com/ajitpratap0/futuresfunk/internal/broker"
	"github.com/ajitpratap0/futuresfunk/internal/collectors"
	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/db"
	"github.com/ajitpratap0/futuresfunk/internal/decision"
	"github.com/ajitpratap0/futuresfunk/internal/events"
	"github.com/ajitpratap0/futuresfunk/internal/journal"
	"github.com/ajitpratap0/futuresfunk/internal/llm"
	"github.com/ajitpratap0/futuresfunk/internal/market"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/orders"
	"github.com/ajitpratap0/futuresfunk/internal/risk"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	symbolFlag := flag.String("symbol", "", "Trade a single symbol, overriding the configured list")
	demoFlag := flag.Bool("demo", false, "Trade against the demo environment")
	liveFlag := flag.Bool("live", false, "Trade against the live environment (asks for confirmation)")
	paperFlag := flag.Bool("paper", false, "Paper trade against the in-process simulated broker")
	noSentiment := flag.Bool("no-sentiment", false, "Disable the sentiment pipeline, trade technicals only")
	maxContracts := flag.Int("max-contracts", 0, "Override the per-trade contract cap")
	maxDailyLoss := flag.Float64("max-daily-loss", 0, "Override the daily loss limit in dollars")
	verifyDeps := flag.Bool("verify-deps", false, "Verify configuration and external dependencies, then exit")
	flag.Parse()

	// Console logging until the configured logger takes over
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	applyFlags(cfg, *symbolFlag, *demoFlag, *liveFlag, *noSentiment, *maxContracts, *maxDailyLoss)

	config.InitLogger(cfg.App.LogLevel, "console")

	if *verifyDeps {
		os.Exit(runStartupValidation(cfg))
	}

	if !*paperFlag && (cfg.Broker.Username == "" || cfg.Broker.Password == "") {
		log.Error().Msg("Missing broker credentials: set TRADOVATE_USERNAME and TRADOVATE_PASSWORD")
		os.Exit(1)
	}

	if !cfg.Broker.Demo && !*paperFlag {
		if !confirmLive(os.Stdin) {
			log.Info().Msg("Live trading not confirmed, exiting")
			return
		}
	}

	log.Info().
		Str("version", config.GetVersion()).
		Strs("symbols", cfg.Trading.Symbols).
		Bool("demo", cfg.Broker.Demo).
		Bool("paper", *paperFlag).
		Bool("sentiment", cfg.Trading.UseSentiment).
		Msg("Starting FuturesFunk trading bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup, cleanup, err := build(ctx, cfg, *paperFlag)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build trading bot")
		os.Exit(1)
	}
	defer cleanup()

	if err := sup.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start trading bot")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("trading bot run error: %w", err)
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		log.Error().Err(err).Msg("Trading bot error")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	sup.Shutdown(shutdownCtx)

	log.Info().Msg("Trading bot shutdown complete")
}

// applyFlags folds command-line overrides into the loaded config.
func applyFlags(cfg *config.Config, symbol string, demo, live, noSentiment bool, maxContracts int, maxDailyLoss float64) {
	if symbol != "" {
		cfg.Trading.Symbols = []string{strings.ToUpper(strings.TrimSpace(symbol))}
	}
	if demo {
		cfg.Broker.Demo = true
	}
	if live {
		cfg.Broker.Demo = false
	}
	if noSentiment {
		cfg.Trading.UseSentiment = false
	}
	if maxContracts > 0 {
		cfg.Trading.MaxContracts = maxContracts
	}
	if maxDailyLoss > 0 {
		cfg.Risk.MaxDailyLoss = maxDailyLoss
	}
}

// confirmLive requires the operator to type YES before real money moves.
func confirmLive(in *os.File) bool {
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("  LIVE TRADING - REAL MONEY AT RISK")
	fmt.Println("========================================")
	fmt.Print("Type YES to continue: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == "YES"
}

// build wires the full pipeline and returns the supervisor plus a
// cleanup function releasing everything built along the way.
func build(ctx context.Context, cfg *config.Config, paper bool) (*bot.Supervisor, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	alertManager := alerts.FromConfig(cfg.Alerts)
	bus := events.NewBus()
	cleanups = append(cleanups, bus.Close)

	if cfg.NATS.Enabled() {
		mirror, err := events.NewMirror(cfg.NATS.URL, cfg.NATS.SubjectPrefix, bus)
		if err != nil {
			log.Warn().Err(err).Msg("NATS mirror unavailable, continuing without it")
		} else {
			mirror.Start(ctx)
			cleanups = append(cleanups, mirror.Close)
		}
	}

	var port broker.Broker
	if paper {
		log.Info().Msg("Paper trading against the simulated broker")
		port = broker.NewMock()
	} else {
		port = broker.New(cfg.Broker)
	}

	gate := risk.NewGate(cfg.Risk, bus, risk.WithAlerts(alertManager))
	store := market.NewStore(bus)
	orderManager := orders.NewManager(cfg.Trading, gate, port, bus)

	scorer := sentiment.Disabled()
	if cfg.LLM.Enabled() {
		scorer = sentiment.NewGeminiScorer(llm.FromConfig(cfg.LLM), config.DefaultSymbolMap())
	}
	aggregator := sentiment.NewAggregator(cfg.Sentiment, nil)
	decider := decision.NewDecider(cfg.Trading, cfg.Sentiment, gate, scorer, bus)

	symbolMap := config.DefaultSymbolMap()
	cols := []collectors.Collector{
		collectors.NewTwitterCollector(cfg.Collectors.Twitter, symbolMap),
		collectors.NewRedditCollector(cfg.Collectors.Reddit, symbolMap),
		collectors.NewNewsCollector(cfg.Collectors.News, symbolMap),
	}

	var (
		tradeJournal *journal.Journal
		recorder     *journal.Recorder
	)
	if cfg.Database.Enabled() {
		database, err := db.New(ctx, cfg.Database)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanups = append(cleanups, database.Close)

		tradeJournal = journal.NewWithPool(database.Pool())
		recorder = journal.NewRecorder(tradeJournal, bus, journal.WithOrderBook(orderManager))

		if cfg.Monitoring.EnableMetrics {
			updater := metrics.NewUpdater(database.Pool(), 30*time.Second)
			updater.Start(ctx)
			cleanups = append(cleanups, updater.Stop)
		}
	} else {
		log.Info().Msg("Trade journal disabled (no DATABASE_URL)")
	}

	if cfg.Monitoring.EnableMetrics {
		metricsServer := metrics.NewServer(cfg.Monitoring.MetricsPort("bot"), config.NewLogger("metrics"))
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		})
	}

	sup := bot.New(cfg.Trading, cfg.Sentiment, bot.Deps{
		Bus:        bus,
		Broker:     port,
		Store:      store,
		Gate:       gate,
		Decider:    decider,
		Orders:     orderManager,
		Aggregator: aggregator,
		Scorer:     scorer,
		Collectors: cols,
		Journal:    tradeJournal,
		Recorder:   recorder,
		Alerts:     alertManager,
	})

	return sup, cleanup, nil
}

// runStartupValidation checks configuration, credentials and external
// dependency reachability. Exit code 0 means everything required is in
// place.
func runStartupValidation(cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	validator := config.NewValidator(cfg, config.DefaultValidatorOptions())
	if err := validator.ValidateStartup(ctx); err != nil {
		log.Error().Err(err).Msg("Startup validation failed")
		return 1
	}

	log.Info().Msg("Startup validation passed")
	return 0
}
