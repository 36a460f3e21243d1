package devnet

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperspot/pkg/crypto"
)

// FeederConfig controls simulated trading load
type FeederConfig struct {
	BatchSize   int           // actions per tick
	Interval    time.Duration // how often a batch is sent
	NumAccounts int           // simulated traders
	MidPrice    uint64        // prices are drawn around this
	Spread      uint64        // +/- range around MidPrice
	MaxQty      uint64        // quantities are 1..MaxQty
	MarketRatio int           // percent of actions that are market orders
	Seed        int64         // 0 seeds from the clock
}

// DefaultFeederConfig returns modest load for local testing
func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		NumAccounts: 20,
		MidPrice:    1_000,
		Spread:      50,
		MaxQty:      20,
		MarketRatio: 20,
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() FeederConfig {
	cfg := DefaultFeederConfig()
	cfg.BatchSize = 100
	cfg.NumAccounts = 200
	return cfg
}

// SubmitFunc runs one signed action
type SubmitFunc func(ctx context.Context, tx *transaction.SignedAction) error

// Feeder signs random orders for simulated traders and submits them
type Feeder struct {
	cfg     FeederConfig
	tokens  *Tokens
	domain  crypto.EIP712Domain
	submit  SubmitFunc
	logger  *zap.SugaredLogger
	signers []*crypto.Signer
	nonces  map[int]uint64
	rng     *rand.Rand
	tickers []asset.Ticker
}

// NewFeeder generates cfg.NumAccounts keys; actions are signed for domain
func NewFeeder(cfg FeederConfig, tokens *Tokens, domain crypto.EIP712Domain, submit SubmitFunc, logger *zap.SugaredLogger) (*Feeder, error) {
	if cfg.NumAccounts <= 0 || cfg.BatchSize <= 0 || cfg.MaxQty == 0 {
		return nil, errors.New("feeder: accounts, batch size and max qty must be positive")
	}
	if cfg.Spread >= cfg.MidPrice {
		return nil, errors.New("feeder: spread must be below mid price")
	}
	tickers := tokens.Tickers()
	if len(tickers) == 0 {
		return nil, errors.New("feeder: no devnet tokens to trade")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	f := &Feeder{
		cfg:     cfg,
		tokens:  tokens,
		domain:  domain,
		submit:  submit,
		logger:  logger,
		signers: make([]*crypto.Signer, cfg.NumAccounts),
		nonces:  make(map[int]uint64, cfg.NumAccounts),
		rng:     rand.New(rand.NewSource(seed)),
		tickers: tickers,
	}
	for i := range f.signers {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		f.signers[i] = s
	}
	return f, nil
}

// Signers returns the simulated traders
func (f *Feeder) Signers() []*crypto.Signer { return f.signers }

func (f *Feeder) sign(i int, typ transaction.ActionType, p transaction.ActionPayload) (*transaction.SignedAction, error) {
	f.nonces[i]++
	p.Nonce = strconv.FormatUint(f.nonces[i], 10)
	p.Owner = f.signers[i].Address().Hex()
	tx := &transaction.SignedAction{Type: typ, Action: p}
	if err := transaction.Sign(f.domain, f.signers[i], tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Bootstrap funds every trader through the faucet and deposits it all
func (f *Feeder) Bootstrap(ctx context.Context) error {
	quote := new(uint256.Int).Mul(uint256.NewInt(f.cfg.MaxQty*(f.cfg.MidPrice+f.cfg.Spread)), uint256.NewInt(10_000))
	units := uint256.NewInt(f.cfg.MaxQty * 10_000)

	type deposit struct {
		ticker asset.Ticker
		amount *uint256.Int
	}
	deposits := []deposit{{f.tokens.base, quote}}
	for _, t := range f.tickers {
		deposits = append(deposits, deposit{t, units})
	}

	for i, s := range f.signers {
		for _, d := range deposits {
			if err := f.tokens.Fund(s.Address(), d.ticker, d.amount); err != nil {
				return err
			}
			tx, err := f.sign(i, transaction.TypeDeposit, transaction.ActionPayload{Ticker: d.ticker.String(), Amount: d.amount.Dec()})
			if err != nil {
				return err
			}
			if err := f.submit(ctx, tx); err != nil {
				return fmt.Errorf("bootstrap deposit %s for %s: %w", d.ticker, s.Address().Hex(), err)
			}
		}
	}
	f.logger.Infow("feeder_bootstrapped", "accounts", len(f.signers), "tickers", f.tickers)
	return nil
}

// Next signs one random limit or market order
func (f *Feeder) Next() (*transaction.SignedAction, error) {
	i := f.rng.Intn(len(f.signers))
	p := transaction.ActionPayload{
		Side:   uint8(f.rng.Intn(2)),
		Ticker: f.tickers[f.rng.Intn(len(f.tickers))].String(),
		Amount: strconv.FormatUint(1+uint64(f.rng.Int63n(int64(f.cfg.MaxQty))), 10),
	}
	if f.rng.Intn(100) < f.cfg.MarketRatio {
		return f.sign(i, transaction.TypeMarketOrder, p)
	}

	// buyers quote below mid, sellers above, so books build up without crossing
	offset := uint64(f.rng.Int63n(int64(f.cfg.Spread) + 1))
	price := f.cfg.MidPrice - offset
	if p.Side == 1 {
		price = f.cfg.MidPrice + offset
	}
	p.Price = strconv.FormatUint(price, 10)
	return f.sign(i, transaction.TypeLimitOrder, p)
}

// Run submits a batch every interval until ctx is done
func (f *Feeder) Run(ctx context.Context) error {
	tick := time.NewTicker(f.cfg.Interval)
	defer tick.Stop()

	start := time.Now()
	var accepted, rejected int
	lastReport := start

	f.logger.Infow("feeder_started", "batch", f.cfg.BatchSize, "interval", f.cfg.Interval, "accounts", len(f.signers))
	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			f.logger.Infow("feeder_stopped",
				"accepted", accepted,
				"rejected", rejected,
				"elapsed", elapsed.Round(time.Second),
			)
			return nil

		case <-tick.C:
			for n := 0; n < f.cfg.BatchSize; n++ {
				tx, err := f.Next()
				if err != nil {
					return err
				}
				if err := f.submit(ctx, tx); err != nil {
					if ctx.Err() != nil {
						break
					}
					rejected++
					f.logger.Debugw("feeder_action_rejected", "type", tx.Type, "err", err)
					continue
				}
				accepted++
			}

			if time.Since(lastReport) >= 10*time.Second {
				lastReport = time.Now()
				elapsed := time.Since(start).Seconds()
				f.logger.Infow("feeder_stats",
					"accepted", accepted,
					"rejected", rejected,
					"rate", float64(accepted+rejected)/elapsed,
				)
			}
		}
	}
}
