// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package wallet keeps in-process payout balances.
package wallet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

// Transfer is one completed payout.
type Transfer struct {
	ID     string
	To     models.Address
	Amount models.Amount
	At     time.Time
}

// Ledger credits refunds to in-process balances. Failures can be injected per address.
type Ledger struct {
	mu        sync.Mutex
	balances  map[models.Address]models.Amount
	transfers []Transfer
	failures  map[models.Address]error
}

var _ domain.FundTransferer = (*Ledger)(nil)

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[models.Address]models.Amount),
		failures: make(map[models.Address]error),
	}
}

// Transfer credits amount to the address unless a failure is injected for it.
func (l *Ledger) Transfer(ctx context.Context, to models.Address, amount models.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.failures[to]; ok {
		return err
	}

	balance, ok := l.balances[to].Add(amount)
	if !ok {
		return domain.NewInternalError("wallet balance overflow")
	}
	l.balances[to] = balance

	transfer := Transfer{ID: uuid.NewString(), To: to, Amount: amount, At: time.Now().UTC()}
	l.transfers = append(l.transfers, transfer)
	slog.DebugContext(ctx, "wallet transfer", "transfer_id", transfer.ID, "to", to, "amount", amount)
	return nil
}

// FailTransfersTo makes every transfer to the address return err. A nil err clears the failure.
func (l *Ledger) FailTransfersTo(to models.Address, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err == nil {
		delete(l.failures, to)
		return
	}
	l.failures[to] = err
}

// Balance returns the total credited to the address.
func (l *Ledger) Balance(address models.Address) models.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address]
}

// Transfers returns the completed payouts in order.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transfer(nil), l.transfers...)
}
