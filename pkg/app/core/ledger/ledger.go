package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = errors.New("arithmetic overflow")
)

// Key addresses one balance slot
type Key struct {
	Account common.Address
	Ticker  asset.Ticker
}

// Entry is a balance slot and its amount
type Entry struct {
	Key
	Amount uint256.Int
}

// Ledger holds per-account, per-asset available balances
// Balances are never negative; zero balances are not stored
type Ledger struct {
	mu       sync.RWMutex
	balances map[Key]uint256.Int
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{balances: make(map[Key]uint256.Int)}
}

// Balance returns the current balance (zero if the slot was never touched)
func (l *Ledger) Balance(account common.Address, ticker asset.Ticker) uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[Key{account, ticker}]
}

// Credit adds amount to the slot
func (l *Ledger) Credit(account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	tx := l.Begin()
	if err := tx.Credit(account, ticker, amount); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// Debit subtracts amount from the slot or fails with ErrInsufficientBalance
func (l *Ledger) Debit(account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	tx := l.Begin()
	if err := tx.Debit(account, ticker, amount); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// Set overwrites a slot (restore path only)
func (l *Ledger) Set(account common.Address, ticker asset.Ticker, amount uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.put(Key{account, ticker}, amount)
}

func (l *Ledger) put(k Key, amount uint256.Int) {
	if amount.IsZero() {
		delete(l.balances, k)
		return
	}
	l.balances[k] = amount
}

// Totals sums every account's balance for ticker
func (l *Ledger) Totals(ticker asset.Ticker) uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total uint256.Int
	for k, v := range l.balances {
		if k.Ticker == ticker {
			total.Add(&total, &v)
		}
	}
	return total
}

// Entries dumps all non-zero balances ordered by account, then ticker
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.balances))
	for k, v := range l.balances {
		out = append(out, Entry{Key: k, Amount: v})
	}
	l.mu.RUnlock()

	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if c := bytes.Compare(es[i].Account[:], es[j].Account[:]); c != 0 {
			return c < 0
		}
		return es[i].Ticker < es[j].Ticker
	})
}

// Begin stages balance changes on top of the ledger
// Nothing is visible to readers until Commit; a Tx that is dropped has no effect
// Only one Tx may be open at a time
func (l *Ledger) Begin() *Tx {
	return &Tx{l: l, overlay: make(map[Key]uint256.Int)}
}

// Tx is a staged set of balance changes
type Tx struct {
	l       *Ledger
	overlay map[Key]uint256.Int
	touched []Key
}

// Balance reads through the overlay
func (tx *Tx) Balance(account common.Address, ticker asset.Ticker) uint256.Int {
	k := Key{account, ticker}
	if v, ok := tx.overlay[k]; ok {
		return v
	}
	return tx.l.Balance(account, ticker)
}

// Credit stages an addition, failing on 256-bit overflow
func (tx *Tx) Credit(account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	cur := tx.Balance(account, ticker)
	var next uint256.Int
	if _, overflow := next.AddOverflow(&cur, amount); overflow {
		return fmt.Errorf("%w: credit %s %s to %s", ErrOverflow, amount.Dec(), ticker, account.Hex())
	}
	tx.stage(Key{account, ticker}, next)
	return nil
}

// Debit stages a subtraction
func (tx *Tx) Debit(account common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	cur := tx.Balance(account, ticker)
	if cur.Lt(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s",
			ErrInsufficientBalance, account.Hex(), cur.Dec(), ticker, amount.Dec())
	}
	var next uint256.Int
	next.Sub(&cur, amount)
	tx.stage(Key{account, ticker}, next)
	return nil
}

// Transfer stages a debit of from and a credit of to
func (tx *Tx) Transfer(from, to common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	if err := tx.Debit(from, ticker, amount); err != nil {
		return err
	}
	return tx.Credit(to, ticker, amount)
}

func (tx *Tx) stage(k Key, v uint256.Int) {
	if _, ok := tx.overlay[k]; !ok {
		tx.touched = append(tx.touched, k)
	}
	tx.overlay[k] = v
}

// Changes returns the staged slots in first-touch order
func (tx *Tx) Changes() []Entry {
	out := make([]Entry, 0, len(tx.touched))
	for _, k := range tx.touched {
		out = append(out, Entry{Key: k, Amount: tx.overlay[k]})
	}
	return out
}

// Commit applies every staged change at once and returns them
func (tx *Tx) Commit() []Entry {
	changes := tx.Changes()

	tx.l.mu.Lock()
	for _, e := range changes {
		tx.l.put(e.Key, e.Amount)
	}
	tx.l.mu.Unlock()

	tx.overlay = make(map[Key]uint256.Int)
	tx.touched = nil
	return changes
}
