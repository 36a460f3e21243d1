package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
)

// EIP712Domain is the domain separator for exchange actions
// It binds a signature to one chain and one exchange address.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the local devnet domain
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "HyperSpot",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// ActionKind names the primary EIP-712 type of an action
type ActionKind string

const (
	KindDeposit     ActionKind = "Deposit"
	KindWithdraw    ActionKind = "Withdraw"
	KindLimitOrder  ActionKind = "LimitOrder"
	KindMarketOrder ActionKind = "MarketOrder"
	KindAddToken    ActionKind = "AddToken"
)

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// actionTypes lists the signed fields of each kind, in encoding order
var actionTypes = map[ActionKind][]apitypes.Type{
	KindDeposit: {
		{Name: "ticker", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
	KindWithdraw: {
		{Name: "ticker", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
	KindLimitOrder: {
		{Name: "side", Type: "uint8"},
		{Name: "ticker", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
	KindMarketOrder: {
		{Name: "side", Type: "uint8"},
		{Name: "ticker", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
	KindAddToken: {
		{Name: "ticker", Type: "bytes32"},
		{Name: "token", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

// Valid reports whether k is a known action kind
func (k ActionKind) Valid() bool {
	_, ok := actionTypes[k]
	return ok
}

// Action is the typed message a wallet signs; fields a kind does not use are ignored
type Action struct {
	Kind   ActionKind
	Side   uint8 // 0 = buy, 1 = sell
	Ticker asset.Ticker
	Amount *uint256.Int
	Price  uint64
	Token  common.Address
	Nonce  uint64
	Owner  common.Address
}

// EIP712Signer hashes, signs and recovers exchange actions under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a signer for domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// Domain returns the signer's domain
func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(a *Action) (apitypes.TypedData, error) {
	fields, ok := actionTypes[a.Kind]
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("unknown action kind %q", a.Kind)
	}
	amount := "0"
	if a.Amount != nil {
		amount = a.Amount.Dec()
	}

	msg := apitypes.TypedDataMessage{
		"nonce": fmt.Sprintf("%d", a.Nonce),
		"owner": a.Owner.Hex(),
	}
	for _, f := range fields {
		switch f.Name {
		case "side":
			msg["side"] = fmt.Sprintf("%d", a.Side)
		case "ticker":
			msg["ticker"] = a.Ticker.Bytes32().Hex()
		case "amount":
			msg["amount"] = amount
		case "price":
			msg["price"] = fmt.Sprintf("%d", a.Price)
		case "token":
			msg["token"] = a.Token.Hex()
		}
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			string(a.Kind): fields,
		},
		PrimaryType: string(a.Kind),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}, nil
}

// Hash returns the EIP-712 digest of a
func (e *EIP712Signer) Hash(a *Action) ([]byte, error) {
	td, err := e.typedData(a)
	if err != nil {
		return nil, err
	}

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", a.Kind, err)
	}

	// keccak256("\x19\x01" || domainSeparator || messageHash)
	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// Sign signs a with signer's key
func (e *EIP712Signer) Sign(signer *Signer, a *Action) ([]byte, error) {
	hash, err := e.Hash(a)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", a.Kind, err)
	}
	return sig, nil
}

// Recover returns the address that produced signature over a
func (e *EIP712Signer) Recover(a *Action, signature []byte) (common.Address, error) {
	hash, err := e.Hash(a)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// Verify reports whether signature over a was made by a.Owner
func (e *EIP712Signer) Verify(a *Action, signature []byte) (bool, error) {
	addr, err := e.Recover(a, signature)
	if err != nil {
		return false, err
	}
	return addr == a.Owner, nil
}

// TypedDataJSON renders a in the eth_signTypedData_v4 request format
func (e *EIP712Signer) TypedDataJSON(a *Action) (string, error) {
	td, err := e.typedData(a)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return string(b), nil
}
