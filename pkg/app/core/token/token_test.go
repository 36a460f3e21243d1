package token

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice    = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	exchange = common.HexToAddress("0xEE00000000000000000000000000000000000000")
)

func TestTransferFromNeedsAllowance(t *testing.T) {
	ctx := context.Background()
	link := New("Chainlink", 18)
	link.Mint(alice, uint256.NewInt(1000))

	err := link.TransferFrom(ctx, exchange, alice, exchange, uint256.NewInt(100))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	link.Approve(alice, exchange, uint256.NewInt(500))
	require.NoError(t, link.TransferFrom(ctx, exchange, alice, exchange, uint256.NewInt(100)))

	bal := link.BalanceOf(exchange)
	assert.Equal(t, uint64(100), bal.Uint64())
	left := link.Allowance(alice, exchange)
	assert.Equal(t, uint64(400), left.Uint64())
}

func TestTransferFromNeedsBalance(t *testing.T) {
	link := New("Chainlink", 18)
	link.Mint(alice, uint256.NewInt(10))
	link.Approve(alice, exchange, uint256.NewInt(500))

	err := link.TransferFrom(context.Background(), exchange, alice, exchange, uint256.NewInt(100))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	left := link.Allowance(alice, exchange)
	assert.Equal(t, uint64(500), left.Uint64(), "allowance untouched on failure")
}

func TestNativeSkipsAllowance(t *testing.T) {
	eth := NewNative()
	eth.Mint(alice, uint256.NewInt(10))

	require.NoError(t, eth.TransferFrom(context.Background(), exchange, alice, exchange, uint256.NewInt(10)))
	bal := eth.BalanceOf(exchange)
	assert.Equal(t, uint64(10), bal.Uint64())
	assert.Equal(t, uint8(18), eth.Decimals())
}

func TestOnTransferHook(t *testing.T) {
	link := New("Chainlink", 18)
	link.Mint(exchange, uint256.NewInt(5))

	var seen uint64
	link.OnTransfer = func(_, _ common.Address, amount *uint256.Int) { seen += amount.Uint64() }

	require.NoError(t, link.Transfer(context.Background(), exchange, alice, uint256.NewInt(3)))
	assert.Equal(t, uint64(3), seen)
}
