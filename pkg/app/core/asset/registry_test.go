package asset

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopToken struct{ decimals uint8 }

func (nopToken) TransferFrom(context.Context, common.Address, common.Address, common.Address, *uint256.Int) error {
	return nil
}
func (nopToken) Transfer(context.Context, common.Address, common.Address, *uint256.Int) error {
	return nil
}
func (n nopToken) Decimals() uint8 { return n.decimals }

var (
	owner = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	link  = common.HexToAddress("0x1111000000000000000000000000000000000000")
)

func TestOnlyOwnerCanList(t *testing.T) {
	r := NewRegistry(owner, "ETH", nopToken{})

	err := r.ListAsset(alice, "LINK", link, nopToken{})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, r.IsListed("LINK"))

	require.NoError(t, r.ListAsset(owner, "LINK", link, nopToken{}))
	assert.True(t, r.IsListed("LINK"))
}

func TestRelistOverwrites(t *testing.T) {
	r := NewRegistry(owner, "ETH", nopToken{})
	require.NoError(t, r.ListAsset(owner, "LINK", link, nopToken{decimals: 18}))

	other := common.HexToAddress("0x2222000000000000000000000000000000000000")
	require.NoError(t, r.ListAsset(owner, "LINK", other, nopToken{decimals: 6}))

	a, err := r.Get("LINK")
	require.NoError(t, err)
	assert.Equal(t, other, a.Address)
	assert.Equal(t, uint8(6), a.Decimals())
	assert.Len(t, r.Assets(), 2)
}

func TestBaseAlwaysListed(t *testing.T) {
	r := NewRegistry(owner, "ETH", nopToken{})

	assert.True(t, r.IsListed("ETH"))
	a, err := r.Get("ETH")
	require.NoError(t, err)
	assert.True(t, a.Base)

	err = r.ListAsset(owner, "ETH", link, nopToken{})
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestUnknownTicker(t *testing.T) {
	r := NewRegistry(owner, "ETH", nopToken{})

	_, err := r.Token("AAVE")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestTickerValidation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"simple", "LINK", true},
		{"max length", "ABCDEFGHIJKLMNOPQRSTUVWXYZ012345", true},
		{"empty", "", false},
		{"too long", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456", false},
		{"trailing nul", "LINK\x00", false},
		{"embedded nul", "LI\x00NK", false},
		{"only nul", "\x00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTicker(tt.input)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnknownAsset)
			}
		})
	}
}

func TestTickerBytes32RoundTrip(t *testing.T) {
	h := Ticker("LINK").Bytes32()
	assert.Equal(t, "0x4c494e4b00000000000000000000000000000000000000000000000000000000", h.Hex())
	assert.Equal(t, Ticker("LINK"), TickerFromBytes32(h))
}

func TestAssetsOrder(t *testing.T) {
	r := NewRegistry(owner, "ETH", nopToken{})
	require.NoError(t, r.ListAsset(owner, "LINK", link, nopToken{}))
	require.NoError(t, r.ListAsset(owner, "AAVE", link, nopToken{}))

	got := r.Assets()
	require.Len(t, got, 3)
	assert.Equal(t, Ticker("ETH"), got[0].Ticker)
	assert.Equal(t, Ticker("AAVE"), got[1].Ticker)
	assert.Equal(t, Ticker("LINK"), got[2].Ticker)
}
