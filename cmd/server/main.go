package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/collectors"
	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/decision"
	"github.com/ajitpratap0/futuresfunk/internal/llm"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/risk"
	"github.com/ajitpratap0/futuresfunk/internal/sentiment"
	"github.com/ajitpratap0/futuresfunk/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	host := flag.String("host", "", "Listen address, overriding SERVER_HOST")
	port := flag.Int("port", 0, "Listen port, overriding SERVER_PORT")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	config.InitLogger(cfg.App.LogLevel, "console")

	log.Info().
		Str("version", config.GetVersion()).
		Str("addr", cfg.Server.GetAddr()).
		Strs("symbols", cfg.Trading.Symbols).
		Msg("Starting FuturesFunk signal server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The façade trades nothing itself, so technicals are out of play:
	// signals come from the sentiment pipeline alone.
	tradingCfg := cfg.Trading
	tradingCfg.UseTechnicals = false
	tradingCfg.UseSentiment = true

	gate := risk.NewGate(cfg.Risk, nil)

	scorer := sentiment.Disabled()
	if cfg.LLM.Enabled() {
		scorer = sentiment.NewGeminiScorer(llm.FromConfig(cfg.LLM), config.DefaultSymbolMap())
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, serving unscored sentiment only")
	}

	symbolMap := config.DefaultSymbolMap()
	cols := []collectors.Collector{
		collectors.NewTwitterCollector(cfg.Collectors.Twitter, symbolMap),
		collectors.NewRedditCollector(cfg.Collectors.Reddit, symbolMap),
		collectors.NewNewsCollector(cfg.Collectors.News, symbolMap),
	}

	var shared *server.RedisSignalCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		shared = server.NewRedisSignalCache(client, cfg.Server.SignalCacheTTL())
		log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("Shared signal cache enabled")
	}

	service := server.NewService(cfg.Server, cfg.Sentiment, cfg.Trading.Symbols, server.Deps{
		Collectors: cols,
		Scorer:     scorer,
		Aggregator: sentiment.NewAggregator(cfg.Sentiment, nil),
		Decider:    decision.NewDecider(tradingCfg, cfg.Sentiment, gate, scorer, nil),
		Gate:       gate,
		Shared:     shared,
	})
	service.Initialize(ctx)

	go func() {
		if err := service.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Background collection stopped")
		}
	}()

	if cfg.Monitoring.EnableMetrics {
		metricsServer := metrics.NewServer(cfg.Monitoring.MetricsPort("server"), config.NewLogger("metrics"))
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	srv := server.NewServer(cfg.Server, service, gate)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		log.Error().Err(err).Msg("Signal server error")
		os.Exit(1)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during server shutdown")
		os.Exit(1)
	}

	log.Info().Msg("Signal server shutdown complete")
}
