package transaction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperspot/pkg/crypto"
)

var (
	// ErrBadSignature means the signature does not recover to the claimed owner
	ErrBadSignature = errors.New("invalid signature")
	// ErrStaleNonce means the nonce is not above the owner's last accepted one
	ErrStaleNonce = errors.New("stale nonce")
)

// Verifier authenticates signed actions and rejects replays
// Nonces must strictly increase per owner; gaps are allowed.
type Verifier struct {
	signer *crypto.EIP712Signer

	mu     sync.Mutex
	nonces map[common.Address]uint64
}

// NewVerifier creates a verifier for actions signed under domain
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{
		signer: crypto.NewEIP712Signer(domain),
		nonces: make(map[common.Address]uint64),
	}
}

// Verify checks tx's signature and consumes its nonce
// It returns the authenticated action; Owner is the caller identity.
func (v *Verifier) Verify(tx *SignedAction) (*crypto.Action, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	a, err := tx.ToAction()
	if err != nil {
		return nil, fmt.Errorf("invalid action: %w", err)
	}

	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, err
	}
	signer, err := v.signer.Recover(a, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if signer != a.Owner {
		return nil, fmt.Errorf("%w: signed by %s, claims %s", ErrBadSignature, signer.Hex(), a.Owner.Hex())
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if last, seen := v.nonces[a.Owner]; seen && a.Nonce <= last {
		return nil, fmt.Errorf("%w: %d, last accepted %d", ErrStaleNonce, a.Nonce, last)
	}
	v.nonces[a.Owner] = a.Nonce
	return a, nil
}

// Nonce returns the last nonce accepted from owner
func (v *Verifier) Nonce(owner common.Address) (uint64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.nonces[owner]
	return n, ok
}

// Sign fills tx.Signature using signer's key; used by clients and tests
func Sign(domain crypto.EIP712Domain, signer *crypto.Signer, tx *SignedAction) error {
	a, err := tx.ToAction()
	if err != nil {
		return err
	}
	sig, err := crypto.NewEIP712Signer(domain).Sign(signer, a)
	if err != nil {
		return err
	}
	tx.Signature = hexutil.Encode(sig)
	return nil
}

func decodeSignature(sig string) ([]byte, error) {
	b, err := hexutil.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if len(b) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrBadSignature, crypto.SignatureLength, len(b))
	}
	return b, nil
}
