// Package ledger is the reference in-memory balance bookkeeper. The
// matching engine only ever sees it through the book.Ledger interface;
// a chain-backed implementation can replace it without touching the core.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

type balance struct {
	available int64
	escrowed  int64
}

type accountKey struct {
	owner string
	asset string
}

// Ledger tracks available and escrowed balances per (owner, asset).
type Ledger struct {
	mu       sync.Mutex
	accounts map[accountKey]*balance
}

func New() *Ledger {
	return &Ledger{accounts: make(map[accountKey]*balance)}
}

func (l *Ledger) account(owner, asset string) *balance {
	key := accountKey{owner: owner, asset: asset}
	b, ok := l.accounts[key]
	if !ok {
		b = &balance{}
		l.accounts[key] = b
	}
	return b
}

// Deposit credits an owner's available balance.
func (l *Ledger) Deposit(owner, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: deposit amount must be positive, got %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(owner, asset).available += amount
	return nil
}

func (l *Ledger) Available(owner, asset string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(owner, asset).available
}

func (l *Ledger) Escrowed(owner, asset string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(owner, asset).escrowed
}

func (l *Ledger) MoveToEscrow(owner, asset string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(owner, asset)
	if b.available < amount {
		return fmt.Errorf("%w: %s/%s available %d < %d", ErrInsufficientFunds, owner, asset, b.available, amount)
	}
	b.available -= amount
	b.escrowed += amount
	return nil
}

func (l *Ledger) MoveFromEscrow(owner, asset string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(owner, asset)
	if b.escrowed < amount {
		return fmt.Errorf("%w: %s/%s escrowed %d < %d", ErrInsufficientFunds, owner, asset, b.escrowed, amount)
	}
	b.escrowed -= amount
	b.available += amount
	return nil
}

// SettleFill moves funds for one fill at the maker's price. The taker
// pays out of their available balance; the maker's counter-asset was
// escrowed when their order rested and is released to the taker here.
func (l *Ledger) SettleFill(taker, maker, baseAsset, quoteAsset string, amount, price int64, takerIsBuy bool) error {
	if amount <= 0 || price <= 0 {
		return fmt.Errorf("ledger: non-positive fill amount=%d price=%d", amount, price)
	}
	if amount > math.MaxInt64/price {
		return fmt.Errorf("ledger: fill notional overflows, amount=%d price=%d", amount, price)
	}
	quoteAmount := amount * price

	l.mu.Lock()
	defer l.mu.Unlock()

	if takerIsBuy {
		// taker pays quote, receives the maker's escrowed base
		tq := l.account(taker, quoteAsset)
		mb := l.account(maker, baseAsset)
		if tq.available < quoteAmount {
			return fmt.Errorf("%w: taker %s/%s available %d < %d", ErrInsufficientFunds, taker, quoteAsset, tq.available, quoteAmount)
		}
		if mb.escrowed < amount {
			return fmt.Errorf("%w: maker %s/%s escrowed %d < %d", ErrInsufficientFunds, maker, baseAsset, mb.escrowed, amount)
		}
		tq.available -= quoteAmount
		l.account(maker, quoteAsset).available += quoteAmount
		mb.escrowed -= amount
		l.account(taker, baseAsset).available += amount
		return nil
	}

	// taker pays base, receives the maker's escrowed quote
	tb := l.account(taker, baseAsset)
	mq := l.account(maker, quoteAsset)
	if tb.available < amount {
		return fmt.Errorf("%w: taker %s/%s available %d < %d", ErrInsufficientFunds, taker, baseAsset, tb.available, amount)
	}
	if mq.escrowed < quoteAmount {
		return fmt.Errorf("%w: maker %s/%s escrowed %d < %d", ErrInsufficientFunds, maker, quoteAsset, mq.escrowed, quoteAmount)
	}
	tb.available -= amount
	l.account(maker, baseAsset).available += amount
	mq.escrowed -= quoteAmount
	l.account(taker, quoteAsset).available += quoteAmount
	return nil
}

// UnwindFill is the exact inverse of SettleFill: funds the taker received
// go back to the maker's escrow and the maker's proceeds go back to the
// taker. Used to compensate a settled fill when the rest of its call fails.
func (l *Ledger) UnwindFill(taker, maker, baseAsset, quoteAsset string, amount, price int64, takerIsBuy bool) error {
	if amount <= 0 || price <= 0 {
		return fmt.Errorf("ledger: non-positive fill amount=%d price=%d", amount, price)
	}
	if amount > math.MaxInt64/price {
		return fmt.Errorf("ledger: fill notional overflows, amount=%d price=%d", amount, price)
	}
	quoteAmount := amount * price

	l.mu.Lock()
	defer l.mu.Unlock()

	if takerIsBuy {
		tb := l.account(taker, baseAsset)
		mq := l.account(maker, quoteAsset)
		if tb.available < amount {
			return fmt.Errorf("%w: taker %s/%s available %d < %d", ErrInsufficientFunds, taker, baseAsset, tb.available, amount)
		}
		if mq.available < quoteAmount {
			return fmt.Errorf("%w: maker %s/%s available %d < %d", ErrInsufficientFunds, maker, quoteAsset, mq.available, quoteAmount)
		}
		tb.available -= amount
		l.account(maker, baseAsset).escrowed += amount
		mq.available -= quoteAmount
		l.account(taker, quoteAsset).available += quoteAmount
		return nil
	}

	tq := l.account(taker, quoteAsset)
	mb := l.account(maker, baseAsset)
	if tq.available < quoteAmount {
		return fmt.Errorf("%w: taker %s/%s available %d < %d", ErrInsufficientFunds, taker, quoteAsset, tq.available, quoteAmount)
	}
	if mb.available < amount {
		return fmt.Errorf("%w: maker %s/%s available %d < %d", ErrInsufficientFunds, maker, baseAsset, mb.available, amount)
	}
	tq.available -= quoteAmount
	l.account(maker, quoteAsset).escrowed += quoteAmount
	mb.available -= amount
	l.account(taker, baseAsset).available += amount
	return nil
}
