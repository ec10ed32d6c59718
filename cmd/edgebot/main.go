package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/edgebot/config"
	"github.com/alejandrodnm/edgebot/internal/adapters/clob"
	"github.com/alejandrodnm/edgebot/internal/adapters/notify"
	"github.com/alejandrodnm/edgebot/internal/adapters/oddsfeed"
	"github.com/alejandrodnm/edgebot/internal/adapters/paper"
	"github.com/alejandrodnm/edgebot/internal/adapters/storage"
	"github.com/alejandrodnm/edgebot/internal/application/engine"
	"github.com/alejandrodnm/edgebot/internal/application/risk"
	"github.com/alejandrodnm/edgebot/internal/application/strategy"
	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/events"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one scan cycle, print the report and exit")
	report := flag.Bool("report", false, "print stored session stats and exit")
	verbose := flag.Bool("verbose", false, "debug logging plus per-opportunity console lines")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
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

	slog.Info("edgebot starting",
		"config", *configPath,
		"scan_interval", cfg.ScanInterval(),
		"risk_interval", cfg.RiskInterval(),
		"capital", cfg.Engine.InitialCapital,
		"once", *once,
	)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole(*verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		runReport(ctx, store, console)
		return
	}

	a := buildApp(cfg, store, console)

	if *once {
		runOnce(ctx, a, console)
		return
	}

	runLoop(ctx, a, cfg, console, store)
	slog.Info("edgebot stopped cleanly")
}

// app bundles the wired components the run modes operate on.
type app struct {
	engine *engine.Engine
	risk   *risk.Manager
	exec   *paper.Executor
	book   *paper.PositionBook
	bus    *events.Bus
}

// buildApp is the composition root: adapters, strategies, risk manager and
// engine, all talking through the event bus.
func buildApp(cfg *config.Config, store *storage.SQLiteStore, console *notify.Console) *app {
	bus := events.NewBus()
	bus.SubscribeAll(console.Publish)
	bus.SubscribeAll(func(ctx context.Context, event domain.Event) {
		if err := store.SaveEvent(ctx, event); err != nil {
			slog.Warn("persist event failed", "err", err)
		}
	})

	markets := clob.NewClient(cfg.Feeds.CLOBBase)
	odds := oddsfeed.NewClient(cfg.Feeds.OddsBase, cfg.Feeds.OddsAPIKey, cfg.OddsCacheTTL())

	book := paper.NewPositionBook(markets)
	exec := paper.NewExecutor(paper.Config{
		InitialCash: cfg.Paper.InitialCash,
		FillRatio:   cfg.Paper.FillRatio,
		Slippage:    cfg.Paper.Slippage,
	}, book)

	riskMgr := risk.NewManager(domain.RiskLimits{
		MaxPositionSize:      cfg.Risk.MaxPositionSize,
		MaxTotalExposure:     cfg.Risk.MaxTotalExposure,
		MaxDrawdownPercent:   cfg.Risk.MaxDrawdownPercent,
		MaxPositions:         cfg.Risk.MaxPositions,
		MaxPerMarketExposure: cfg.Risk.MaxPerMarketExposure,
		DailyLossLimit:       cfg.Risk.DailyLossLimit,
	}, cfg.Engine.InitialCapital, bus)

	eng := engine.New(engine.Config{
		InitialCapital:  cfg.Engine.InitialCapital,
		BreakerLosses:   cfg.Engine.BreakerLosses,
		BreakerCooldown: cfg.BreakerCooldown(),
	}, riskMgr, book, store, bus)

	// Trades seed the breaker and the journal through the bus, so every
	// execution path feeds both without knowing about either.
	bus.Subscribe(domain.EventTradeExecuted, func(ctx context.Context, event domain.Event) {
		trade, ok := event.Payload.(domain.TradeResult)
		if !ok {
			return
		}
		eng.RecordTrade(trade)
		if err := store.SaveTrade(ctx, trade); err != nil {
			slog.Warn("persist trade failed", "err", err)
		}
	})

	cm := cfg.Strategies.CrossMarket
	register(eng, strategy.NewRunner(
		strategy.NewCrossMarket(strategy.CrossMarketConfig{
			MinSpread:     cm.MinSpread,
			Capital:       cm.Capital,
			MinHoursToEnd: cm.MinHoursToEnd,
		}, markets, exec),
		runnerConfig(cm.StrategyConfig), sizerFor(cm.StrategyConfig), bus))

	ov := cfg.Strategies.OddsValue
	register(eng, strategy.NewRunner(
		strategy.NewOddsValue(strategy.OddsValueConfig{
			MinEdge:      ov.MinEdge,
			MaxOverround: ov.MaxOverround,
			Capital:      ov.Capital,
		}, markets, odds, exec),
		runnerConfig(ov.StrategyConfig), sizerFor(ov.StrategyConfig), bus))

	dv := cfg.Strategies.Deviation
	register(eng, strategy.NewRunner(
		strategy.NewDeviation(strategy.DeviationConfig{
			WindowSize: dv.WindowSize,
			MinSamples: dv.MinSamples,
			EntryZ:     dv.EntryZ,
			ExitZ:      dv.ExitZ,
			Capital:    dv.Capital,
		}, markets, exec),
		runnerConfig(dv.StrategyConfig), sizerFor(dv.StrategyConfig), bus))

	return &app{engine: eng, risk: riskMgr, exec: exec, book: book, bus: bus}
}

func register(eng *engine.Engine, r *strategy.Runner) {
	if !r.Enabled() {
		slog.Info("strategy disabled", "strategy", r.Name())
		return
	}
	if err := eng.Register(r); err != nil {
		slog.Error("failed to register strategy", "strategy", r.Name(), "err", err)
		os.Exit(1)
	}
}

func runnerConfig(sc config.StrategyConfig) strategy.Config {
	return strategy.Config{
		Enabled:          !sc.Disabled,
		Capital:          sc.Capital,
		MaxFraction:      sc.MaxFraction,
		MinSize:          sc.MinSize,
		FallbackFraction: sc.Fraction,
	}
}

func sizerFor(sc config.StrategyConfig) domain.PositionSizer {
	if sc.Sizer == "kelly" {
		return domain.NewKellySizer()
	}
	return &domain.FixedFractionSizer{Fraction: sc.Fraction}
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
