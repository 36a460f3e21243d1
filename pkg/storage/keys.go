package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
)

// Pebble key schema
// Fixed-width binary components keep prefix scans and ordering exact:
//   - addresses are 20 raw bytes
//   - tickers are their bytes32 form
//   - ids are big-endian uint64 so iteration order matches id order
const (
	prefixBalance = "bal:"   // bal:{addr20}{ticker32} -> decimal amount
	prefixOrder   = "ord:"   // ord:{ticker32}{id8} -> json order
	prefixToken   = "tok:"   // tok:{ticker32} -> token address (20 bytes)
	prefixTrade   = "trade:" // trade:{ticker32}{id8} -> json trade

	keyNextOrderID = "meta:nextid"
	keyNextTradeID = "meta:nexttrade"
	keyOwner       = "meta:owner"
)

func balanceKey(addr common.Address, ticker asset.Ticker) []byte {
	tb := ticker.Bytes32()
	key := make([]byte, 0, len(prefixBalance)+common.AddressLength+common.HashLength)
	key = append(key, prefixBalance...)
	key = append(key, addr[:]...)
	return append(key, tb[:]...)
}

func parseBalanceKey(key []byte) (common.Address, asset.Ticker, error) {
	want := len(prefixBalance) + common.AddressLength + common.HashLength
	if len(key) != want {
		return common.Address{}, "", fmt.Errorf("invalid balance key length: %d", len(key))
	}
	rest := key[len(prefixBalance):]
	addr := common.BytesToAddress(rest[:common.AddressLength])
	ticker := asset.TickerFromBytes32(common.BytesToHash(rest[common.AddressLength:]))
	return addr, ticker, nil
}

func tickerIDKey(prefix string, ticker asset.Ticker, id uint64) []byte {
	tb := ticker.Bytes32()
	key := make([]byte, 0, len(prefix)+common.HashLength+8)
	key = append(key, prefix...)
	key = append(key, tb[:]...)
	return binary.BigEndian.AppendUint64(key, id)
}

func tickerPrefix(prefix string, ticker asset.Ticker) []byte {
	tb := ticker.Bytes32()
	return append([]byte(prefix), tb[:]...)
}

func orderKey(ticker asset.Ticker, id uint64) []byte { return tickerIDKey(prefixOrder, ticker, id) }
func tradeKey(ticker asset.Ticker, id uint64) []byte { return tickerIDKey(prefixTrade, ticker, id) }

func tokenKey(ticker asset.Ticker) []byte { return tickerPrefix(prefixToken, ticker) }

func parseTokenKey(key []byte) (asset.Ticker, error) {
	if len(key) != len(prefixToken)+common.HashLength {
		return "", fmt.Errorf("invalid token key length: %d", len(key))
	}
	return asset.TickerFromBytes32(common.BytesToHash(key[len(prefixToken):])), nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "bal:" -> upper bound "bal;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil // prefix was all 0xff; scan to the end
}
