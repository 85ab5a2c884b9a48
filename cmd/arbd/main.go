package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polyarb/config"
	"github.com/alejandrodnm/polyarb/internal/adapters/notify"
	"github.com/alejandrodnm/polyarb/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyarb/internal/adapters/storage"
	"github.com/alejandrodnm/polyarb/internal/application"
	"github.com/alejandrodnm/polyarb/internal/application/executor"
	"github.com/alejandrodnm/polyarb/internal/application/risk"
	"github.com/alejandrodnm/polyarb/internal/application/scanner"
	"github.com/alejandrodnm/polyarb/internal/domain"
)

const localUser = "local"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	auto := flag.Bool("auto", false, "execute high-confidence opportunities automatically")
	reportEvery := flag.Duration("report", 30*time.Second, "interval between opportunity reports")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("polyarb starting",
		"config", *configPath,
		"interval", cfg.ScanInterval(),
		"auto", *auto,
	)

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)
	feed := polymarket.NewFeed(client, cfg.API.WSURL)

	history, err := storage.NewSQLiteHistory(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer history.Close()

	sink := notify.NewConsole(*verbose)

	store := scanner.NewStore(sink)
	scn := scanner.New(scanner.Config{
		Arbitrage: domain.ArbitrageConfig{
			MinProfitPercentage: cfg.Arbitrage.MinProfitPercentage,
			MaxPositionSizeUSD:  cfg.Arbitrage.MaxPositionSizeUSD,
			MinLiquidity:        cfg.Arbitrage.MinLiquidity,
			SlippageTolerance:   cfg.Arbitrage.SlippageTolerance,
			MaxGasPriceGwei:     cfg.Arbitrage.MaxGasPriceGwei,
			MaxConcurrentTrades: cfg.Arbitrage.MaxConcurrentTrades,
		},
		ScanInterval: cfg.ScanInterval(),
	}, feed, store, history)

	ledger := risk.NewLedger(domain.RiskLimits{
		MaxDailyLoss:        cfg.Risk.MaxDailyLossUSD,
		MaxPositionSize:     cfg.Arbitrage.MaxPositionSizeUSD,
		MaxConcurrentTrades: cfg.Arbitrage.MaxConcurrentTrades,
		CooldownAfterLoss:   cfg.CooldownAfterLoss(),
		MaxSlippage:         cfg.Arbitrage.SlippageTolerance,
	}, sink)

	var exec *executor.Executor
	if cfg.Chain.PrivateKey != "" {
		auth, err := polymarket.NewAuthClient(client, cfg.Chain.PrivateKey)
		if err != nil {
			slog.Error("invalid private key", "err", err)
			os.Exit(1)
		}
		trader, err := polymarket.NewTrader(auth, cfg.Chain.RPCURL)
		if err != nil {
			slog.Error("failed to create trader", "err", err)
			os.Exit(1)
		}
		exec = executor.New(scn, trader, ledger, sink, history, cfg.Arbitrage.MaxConcurrentTrades)
		slog.Info("trading enabled", "wallet", auth.Address())
	} else {
		slog.Info("watch-only mode: set POLYGON_PRIVATE_KEY to enable execution")
	}

	app := application.New(scn, ledger, exec)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		slog.Error("failed to start scanner", "err", err)
		os.Exit(1)
	}
	defer app.Stop()

	go ledger.RunDailyReset(ctx)

	run(ctx, app, sink, *auto, *reportEvery)

	slog.Info("polyarb stopped cleanly")
}

// run es el loop principal del daemon: reporte periódico de oportunidades
// y, en modo auto, ejecución de la mejor oportunidad HIGH disponible.
func run(ctx context.Context, app *application.App, sink *notify.Console, auto bool, reportEvery time.Duration) {
	ticker := time.NewTicker(reportEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opps := app.ListOpportunities()
			sink.PrintOpportunities(opps)
			sink.PrintRiskSummary(app.RiskMetrics(localUser))
			app.CheckRiskAlerts(localUser)

			if auto && app.Executor != nil {
				autoExecute(ctx, app, opps)
			}
		}
	}
}

// autoExecute ejecuta la mejor oportunidad HIGH con el tamaño óptimo.
func autoExecute(ctx context.Context, app *application.App, opps []domain.ArbitrageOpportunity) {
	for _, opp := range opps {
		if opp.Confidence != domain.ConfidenceHigh {
			continue
		}

		limits := app.RiskLimits(localUser)
		size := opp.OptimalPositionSize(limits.MaxPositionSize, app.Scanner.ArbitrageConfig())
		if size <= 0 {
			return
		}

		result, err := app.Execute(ctx, opp.ID, localUser, size)
		if err != nil {
			slog.Warn("auto execution rejected", "opportunity", opp.ID, "err", err)
			return
		}
		slog.Info("auto execution finished",
			"opportunity", opp.ID,
			"success", result.Success,
			"invested", result.TotalInvested,
			"expected_profit", result.ExpectedProfit,
		)
		return // una por ciclo
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
