package dex

import (
	"errors"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/ledger"
)

// Every rejection wraps one of these; test with errors.Is
var (
	ErrUnauthorized        = asset.ErrUnauthorized
	ErrUnknownAsset        = asset.ErrUnknownAsset
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrOverflow            = ledger.ErrOverflow

	ErrTransferFailed = errors.New("external transfer failed")
	ErrInvalidOrder   = errors.New("invalid order")
	ErrCallInProgress = errors.New("call already in progress")
)

// Reason returns a short label for err, used in metrics and API responses
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, ErrCallInProgress):
		return "call_in_progress"
	default:
		return "internal"
	}
}
