package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	tomb "gopkg.in/tomb.v2"

	"github.com/uhyunpark/hyperspot/params"
	"github.com/uhyunpark/hyperspot/pkg/api"
	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/sequencer"
	"github.com/uhyunpark/hyperspot/pkg/app/core/token"
	"github.com/uhyunpark/hyperspot/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperspot/pkg/app/dex"
	"github.com/uhyunpark/hyperspot/pkg/crypto"
	"github.com/uhyunpark/hyperspot/pkg/devnet"
	"github.com/uhyunpark/hyperspot/pkg/events"
	"github.com/uhyunpark/hyperspot/pkg/metrics"
	"github.com/uhyunpark/hyperspot/pkg/storage"
	"github.com/uhyunpark/hyperspot/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file; LOG_FILE= logs to console only)
	var logger *zap.Logger
	closeLog := func() error { return nil }
	if cfg.Node.LogFile == "" {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	} else {
		logger, closeLog, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLog()
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	if err := run(cfg, sugar); err != nil {
		sugar.Errorw("node_failed", "err", err)
		logger.Sync()
		os.Exit(1)
	}
	sugar.Infow("node_stopped")
}

func run(cfg params.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var store *storage.Store
	var err error
	if cfg.Node.DataDir == "" {
		store, err = storage.OpenInMemory()
		logger.Warnw("storage_in_memory", "hint", "set DATA_DIR to persist state")
	} else {
		store, err = storage.Open(cfg.Node.DataDir)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	// ---- Assets ----
	base := asset.Ticker(cfg.Exchange.BaseTicker)
	if _, err := asset.ParseTicker(string(base)); err != nil {
		return err
	}
	native := token.NewNative()
	registry := asset.NewRegistry(cfg.Exchange.Owner, base, native)

	tokenCfgs := make([]devnet.TokenConfig, len(cfg.Node.DevnetTokens))
	for i, t := range cfg.Node.DevnetTokens {
		tokenCfgs[i] = devnet.TokenConfig{Ticker: asset.Ticker(t.Ticker), Decimals: t.Decimals}
	}
	tokens := devnet.New(cfg.Exchange.Address, base, native, tokenCfgs)

	// ---- Trade sinks ----
	m := metrics.New("hyperspot")
	hub := api.NewHub(logger.Named("ws"))
	sinks := events.Fanout{hub, events.LogSink{Logger: logger.Named("trades")}}

	if cfg.Events.NATSURL != "" {
		nc, err := events.DialNATS(cfg.Events.NATSURL, "hyperspot-node")
		if err != nil {
			return err
		}
		defer nc.Drain()
		sinks = append(sinks, events.NewNATSSink(nc, cfg.Events.NATSSubjectPrefix))
		logger.Infow("nats_sink_enabled", "url", cfg.Events.NATSURL, "prefix", cfg.Events.NATSSubjectPrefix)
	}
	if len(cfg.Events.KafkaBrokers) > 0 {
		ks := events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer ks.Close()
		sinks = append(sinks, ks)
		logger.Infow("kafka_sink_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	trades := events.NewBuffer(sinks, cfg.Events.BufferSize, logger.Named("trade_buffer"))

	// ---- Engine ----
	engine := dex.New(dex.Config{
		Address:          cfg.Exchange.Address,
		CrossLimitOrders: cfg.Exchange.CrossLimitOrders,
		MaxFillsPerOrder: cfg.Exchange.MaxFillsPerOrder,
		RecentTrades:     dex.DefaultConfig().RecentTrades,
	}, registry,
		dex.WithStore(store),
		dex.WithLogger(logger.Named("dex")),
		dex.WithSink(trades),
		dex.WithMetrics(m),
	)
	if err := engine.Restore(tokens.Resolve); err != nil {
		return err
	}
	listed, err := tokens.ListAll(engine)
	if err != nil {
		return err
	}
	logger.Infow("engine_ready",
		"owner", cfg.Exchange.Owner.Hex(),
		"base", base,
		"listed", listed,
		"next_order_id", engine.NextOrderID(),
		"state_root", engine.StateRoot().Hex(),
	)

	// ---- API ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Exchange.ChainID)
	domain.VerifyingContract = cfg.Exchange.Address

	seq := sequencer.New(cfg.Node.SequencerSize)
	server := api.NewServer(engine, seq, transaction.NewVerifier(domain),
		api.WithHub(hub),
		api.WithMetrics(m),
		api.WithLogger(logger.Named("api")),
		api.WithTokenResolver(tokens.Resolve),
		api.WithFaucet(tokens),
		api.WithCORSOrigins(cfg.Node.CORSOrigins),
	)

	// ---- Supervision ----
	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error { return seq.Run(ctx) })
	t.Go(func() error { return hub.Run(ctx) })
	t.Go(func() error { return trades.Run(ctx) })
	t.Go(func() error { return server.Run(ctx, cfg.Node.APIAddr) })

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	if cfg.Node.TxGen {
		feedCfg := devnet.DefaultFeederConfig()
		if cfg.Node.TxGenMode == "high" {
			feedCfg = devnet.HighLoadConfig()
		}
		submit := func(ctx context.Context, tx *transaction.SignedAction) error {
			_, err := server.Submit(ctx, tx)
			return err
		}
		feeder, err := devnet.NewFeeder(feedCfg, tokens, domain, submit, logger.Named("txgen"))
		if err != nil {
			return err
		}
		t.Go(func() error {
			if err := feeder.Bootstrap(ctx); err != nil {
				return err
			}
			return feeder.Run(ctx)
		})
		logger.Infow("txgen_enabled", "mode", cfg.Node.TxGenMode, "accounts", feedCfg.NumAccounts)
	}

	logger.Infow("node_started", "api", cfg.Node.APIAddr, "chain_id", cfg.Exchange.ChainID)
	<-t.Dying()
	logger.Infow("node_stopping", "reason", t.Err())

	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
