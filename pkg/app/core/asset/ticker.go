package asset

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Ticker identifies a tradeable asset (e.g., "LINK", "ETH")
// Stored on-chain as a right-padded bytes32
type Ticker string

// MaxTickerLen is the width of the bytes32 slot a ticker is packed into
const MaxTickerLen = 32

// ParseTicker validates a ticker string
// NUL is the bytes32 padding byte, so tickers may not contain it.
func ParseTicker(s string) (Ticker, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty ticker", ErrUnknownAsset)
	}
	if len(s) > MaxTickerLen {
		return "", fmt.Errorf("%w: ticker %q longer than %d bytes", ErrUnknownAsset, s, MaxTickerLen)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return "", fmt.Errorf("%w: ticker %q contains NUL", ErrUnknownAsset, s)
	}
	return Ticker(s), nil
}

// Bytes32 packs the ticker the way web3 fromUtf8 does: utf8 bytes, zero padded on the right
func (t Ticker) Bytes32() common.Hash {
	var h common.Hash
	copy(h[:], t)
	return h
}

// TickerFromBytes32 reverses Bytes32, trimming the zero padding
func TickerFromBytes32(h common.Hash) Ticker {
	return Ticker(bytes.TrimRight(h[:], "\x00"))
}

func (t Ticker) String() string { return string(t) }
