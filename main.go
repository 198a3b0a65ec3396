package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"signal-core/internal/api"
	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/gateway"
	"signal-core/internal/instrument"
	"signal-core/internal/notify"
	"signal-core/internal/portfolio"
	"signal-core/internal/predict"
	"signal-core/internal/queue"
	"signal-core/internal/risk"
	tradesig "signal-core/internal/signal"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
)

const buildVersion = "1.4.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("signal-core %s starting (venue=%s dry_run=%v)", buildVersion, cfg.Venue, cfg.DryRun)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Exchange gateway
	gw, err := gateway.New(gateway.FactoryConfig{
		Venue:          cfg.Venue,
		APIKey:         cfg.ExchangeKey,
		APISecret:      cfg.ExchangeSecret,
		Testnet:        cfg.Testnet,
		DryRun:         cfg.DryRun,
		InitialBalance: decimal.NewFromFloat(cfg.DryRunInitialBalance),
		FeeRate:        decimal.NewFromFloat(cfg.DryRunFeeRate),
	})
	if err != nil {
		log.Fatalf("init gateway: %v", err)
	}

	// Event bus and audit store
	bus := events.NewBus()

	var database *db.Database
	if cfg.EnableAudit {
		database, err = db.New(cfg.DBPath)
		if err != nil {
			log.Fatalf("open audit db: %v", err)
		}
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			log.Fatalf("migrate audit db: %v", err)
		}
		recorder := db.NewRecorder(database, bus)
		recorder.Start(ctx)
		defer recorder.Stop()
	}

	// Notifications
	sink := notify.NewTelegramSink(cfg.TelegramEnabled, cfg.TelegramBotToken, cfg.TelegramChatID, "", 0)
	notifier := notify.New("signal-core", sink, notify.Options{})
	if notifier != nil {
		notifier.Attach(bus)
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			_ = notifier.Close(closeCtx)
		}()
	}

	// ML predictor worker (optional)
	var predictor predict.Predictor
	if cfg.EnablePredictor {
		worker, err := predict.NewWorkerClient(cfg.PredictorAddr)
		if err != nil {
			log.Printf("predictor unavailable, momentum fallback only: %v", err)
		} else {
			defer worker.Close()
			predictor = worker
			log.Printf("predictor connected at %s", cfg.PredictorAddr)
		}
	}

	// Core modules
	minNotional := decimal.NewFromInt(5)
	catalog := instrument.New(gw, 0, minNotional)
	pf := portfolio.NewState(gw)

	watchlist, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		log.Fatalf("load watchlist: %v", err)
	}
	genCfg := tradesig.DefaultGeneratorConfig()
	genCfg.MinConfidence = cfg.MinConfidence
	genCfg.MaxCandidates = cfg.MaxCandidates
	genCfg.ExcludeSymbols = watchlist.ExcludeSymbols
	genCfg.OnlySymbols = watchlist.OnlySymbols
	if watchlist.MomentumBuy > 0 {
		genCfg.MomentumBuy = watchlist.MomentumBuy
	}
	if watchlist.MomentumSell > 0 {
		genCfg.MomentumSell = watchlist.MomentumSell
	}
	generator := tradesig.NewGenerator(genCfg, predictor)

	q, err := queue.New(cfg.QueuePath)
	if err != nil {
		log.Fatalf("init signal queue: %v", err)
	}
	if pending := q.Pending(); pending > 0 {
		log.Printf("recovered %d pending signals from %s", pending, cfg.QueuePath)
	}

	riskCfg := risk.DefaultConfig()
	riskCfg.CooldownWindow = time.Duration(cfg.CooldownHours) * time.Hour
	riskCfg.MaxOpenPositions = cfg.MaxOpenPositions
	riskCfg.AllocationCap = decimal.NewFromFloat(cfg.AllocationCap)
	riskCfg.MinSellNotional = decimal.NewFromFloat(cfg.MinSellNotional)

	eng := engine.New(engine.Config{
		CycleInterval:   time.Duration(cfg.CycleIntervalSec) * time.Second,
		BatchSize:       cfg.BatchSize,
		RiskPerTrade:    decimal.NewFromFloat(cfg.RiskPerTrade),
		MaxPerTrade:     decimal.NewFromFloat(cfg.MaxPerTradeUSDT),
		AllocationCap:   decimal.NewFromFloat(cfg.AllocationCap),
		MinSellNotional: decimal.NewFromFloat(cfg.MinSellNotional),
		SubmitRate:      rate.Limit(2),
	}, engine.Deps{
		Gateway:   gw,
		Catalog:   catalog,
		Portfolio: pf,
		Generator: generator,
		Queue:     q,
		Predictor: predictor,
		Bus:       bus,
		RiskCfg:   riskCfg,
	})
	go eng.Run(ctx)

	// Status API
	server := api.NewServer(eng, q, pf, database, api.SystemMeta{
		DryRun:  cfg.DryRun,
		Venue:   cfg.Venue,
		Version: buildVersion,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()
}
