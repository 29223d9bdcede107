package economy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned by Withdraw when the balance is too low.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("amount must not be negative")
)

// Currency is a balance provider the market pays through.
type Currency interface {
	ID() string
	CanAfford(player uuid.UUID, amount decimal.Decimal) bool
	Withdraw(ctx context.Context, player uuid.UUID, amount decimal.Decimal) error
	Add(ctx context.Context, player uuid.UUID, amount decimal.Decimal) error
}

// Ledger is an in-memory Currency. New players start with the opening balance.
type Ledger struct {
	id       string
	opening  decimal.Decimal
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
}

var _ Currency = (*Ledger)(nil)

// NewLedger creates a ledger for the currency id.
func NewLedger(id string, opening decimal.Decimal) *Ledger {
	return &Ledger{id: id, opening: opening, balances: make(map[uuid.UUID]decimal.Decimal)}
}

func (l *Ledger) ID() string { return l.id }

// balance must be called with mu held.
func (l *Ledger) balance(player uuid.UUID) decimal.Decimal {
	b, ok := l.balances[player]
	if !ok {
		return l.opening
	}
	return b
}

// Balance returns the player's current balance.
func (l *Ledger) Balance(player uuid.UUID) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(player)
}

// SetBalance overwrites the player's balance.
func (l *Ledger) SetBalance(player uuid.UUID, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[player] = amount
}

func (l *Ledger) CanAfford(player uuid.UUID, amount decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(player).GreaterThanOrEqual(amount)
}

func (l *Ledger) Withdraw(ctx context.Context, player uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.balance(player)
	if b.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, player, b, amount)
	}
	l.balances[player] = b.Sub(amount)
	return nil
}

func (l *Ledger) Add(ctx context.Context, player uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[player] = l.balance(player).Add(amount)
	return nil
}
