package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/crypto"
)

// ActionType is the wire name of a signed action
type ActionType string

const (
	TypeDeposit     ActionType = "deposit"
	TypeWithdraw    ActionType = "withdraw"
	TypeLimitOrder  ActionType = "limit_order"
	TypeMarketOrder ActionType = "market_order"
	TypeAddToken    ActionType = "add_token"
)

var kinds = map[ActionType]crypto.ActionKind{
	TypeDeposit:     crypto.KindDeposit,
	TypeWithdraw:    crypto.KindWithdraw,
	TypeLimitOrder:  crypto.KindLimitOrder,
	TypeMarketOrder: crypto.KindMarketOrder,
	TypeAddToken:    crypto.KindAddToken,
}

// Kind returns the EIP-712 primary type for t
func (t ActionType) Kind() (crypto.ActionKind, bool) {
	k, ok := kinds[t]
	return k, ok
}

// SignedAction is the JSON envelope clients submit
//
//	{
//	  "type": "limit_order",
//	  "action": {"side": 0, "ticker": "LINK", "amount": "5", "price": "300", "nonce": "1", "owner": "0x..."},
//	  "signature": "0x..."
//	}
type SignedAction struct {
	Type      ActionType    `json:"type"`
	Action    ActionPayload `json:"action"`
	Signature string        `json:"signature"`
}

// ActionPayload carries the signed fields; integers are decimal strings
type ActionPayload struct {
	Side   uint8  `json:"side,omitempty"`
	Ticker string `json:"ticker"`
	Amount string `json:"amount,omitempty"`
	Price  string `json:"price,omitempty"`
	Token  string `json:"token,omitempty"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

// ToAction converts the payload to the typed message that was signed
func (tx *SignedAction) ToAction() (*crypto.Action, error) {
	kind, ok := tx.Type.Kind()
	if !ok {
		return nil, fmt.Errorf("unknown action type: %q", tx.Type)
	}
	p := tx.Action

	ticker, err := asset.ParseTicker(p.Ticker)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(p.Owner) {
		return nil, fmt.Errorf("invalid owner: %q", p.Owner)
	}
	nonce, err := strconv.ParseUint(p.Nonce, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce %q: %w", p.Nonce, err)
	}

	a := &crypto.Action{
		Kind:   kind,
		Side:   p.Side,
		Ticker: ticker,
		Nonce:  nonce,
		Owner:  common.HexToAddress(p.Owner),
	}

	switch kind {
	case crypto.KindAddToken:
		if !common.IsHexAddress(p.Token) {
			return nil, fmt.Errorf("invalid token address: %q", p.Token)
		}
		a.Token = common.HexToAddress(p.Token)
		return a, nil
	case crypto.KindLimitOrder:
		if a.Price, err = strconv.ParseUint(p.Price, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", p.Price, err)
		}
	}

	if a.Amount, err = uint256.FromDecimal(p.Amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", p.Amount, err)
	}
	if kind == crypto.KindLimitOrder || kind == crypto.KindMarketOrder {
		if !a.Amount.IsUint64() {
			return nil, fmt.Errorf("order amount %s exceeds 64 bits", a.Amount.Dec())
		}
		if p.Side > 1 {
			return nil, fmt.Errorf("invalid side: %d", p.Side)
		}
	}
	return a, nil
}

// FromAction builds an unsigned envelope for a
func FromAction(a *crypto.Action) *SignedAction {
	var t ActionType
	for at, k := range kinds {
		if k == a.Kind {
			t = at
		}
	}
	p := ActionPayload{
		Side:   a.Side,
		Ticker: a.Ticker.String(),
		Nonce:  strconv.FormatUint(a.Nonce, 10),
		Owner:  a.Owner.Hex(),
	}
	if a.Amount != nil {
		p.Amount = a.Amount.Dec()
	}
	if a.Kind == crypto.KindLimitOrder {
		p.Price = strconv.FormatUint(a.Price, 10)
	}
	if a.Kind == crypto.KindAddToken {
		p.Token = a.Token.Hex()
	}
	return &SignedAction{Type: t, Action: p}
}

// Serialize encodes tx as JSON
func (tx *SignedAction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize decodes and structurally validates an envelope
func Deserialize(data []byte) (*SignedAction, error) {
	var tx SignedAction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Validate checks the envelope has everything a verifier needs
func (tx *SignedAction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing action type")
	}
	if _, ok := tx.Type.Kind(); !ok {
		return fmt.Errorf("unknown action type: %q", tx.Type)
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	if tx.Action.Owner == "" {
		return fmt.Errorf("missing owner")
	}
	if tx.Action.Nonce == "" {
		return fmt.Errorf("missing nonce")
	}
	return nil
}
