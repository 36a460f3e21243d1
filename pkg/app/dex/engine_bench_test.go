package dex

import (
	"context"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperspot/pkg/app/core/token"
)

// BenchmarkEngineWorkload mixes market orders (70%) with resting limit orders (30%)
func BenchmarkEngineWorkload(b *testing.B) {
	native, lnk := token.NewNative(), token.New("Chainlink", 18)
	e := New(DefaultConfig(), asset.NewRegistry(owner, eth, native))
	if err := e.AddToken(owner, link, linkAddr, lnk); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	traders := make([]common.Address, 20)
	rich := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	for i := range traders {
		traders[i] = common.BigToAddress(uint256.NewInt(uint64(0x1000 + i)).ToBig())
		native.Mint(traders[i], rich)
		lnk.Mint(traders[i], rich)
		lnk.Approve(traders[i], e.Config().Address, rich)
		if err := e.DepositEth(ctx, traders[i], rich); err != nil {
			b.Fatal(err)
		}
		if err := e.Deposit(ctx, traders[i], rich, link); err != nil {
			b.Fatal(err)
		}
	}

	// 200 levels per side
	for i := 0; i < 200; i++ {
		who := traders[i%len(traders)]
		if _, err := e.CreateLimitOrder(ctx, who, orderbook.Buy, link, 100, uint64(10_000-i)); err != nil {
			b.Fatal(err)
		}
		if _, err := e.CreateLimitOrder(ctx, who, orderbook.Sell, link, 100, uint64(11_000+i)); err != nil {
			b.Fatal(err)
		}
	}

	rng := rand.New(rand.NewSource(7))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		who := traders[rng.Intn(len(traders))]
		side := orderbook.Side(rng.Intn(2))
		if rng.Intn(100) < 70 {
			if _, err := e.CreateMarketOrder(ctx, who, side, link, uint64(1+rng.Intn(20))); err != nil {
				b.Fatal(err)
			}
			continue
		}
		price := uint64(9_900 - rng.Intn(100))
		if side == orderbook.Sell {
			price = 11_100 + uint64(rng.Intn(100))
		}
		if _, err := e.CreateLimitOrder(ctx, who, side, link, uint64(1+rng.Intn(100)), price); err != nil {
			b.Fatal(err)
		}
	}
}
