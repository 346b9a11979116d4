// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package wallet

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
)

func TestLedger_Transfer(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()

	require.NoError(t, ledger.Transfer(ctx, "alice", 10))
	require.NoError(t, ledger.Transfer(ctx, "alice", 5))
	require.NoError(t, ledger.Transfer(ctx, "bob", 7))

	assert.EqualValues(t, 15, ledger.Balance("alice"))
	assert.EqualValues(t, 7, ledger.Balance("bob"))
	assert.Zero(t, ledger.Balance("carol"))

	transfers := ledger.Transfers()
	require.Len(t, transfers, 3)
	assert.EqualValues(t, "bob", transfers[2].To)
	assert.NotEmpty(t, transfers[0].ID)
}

func TestLedger_InjectedFailure(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()
	rejected := errors.New("recipient rejects funds")

	ledger.FailTransfersTo("mallory", rejected)
	assert.ErrorIs(t, ledger.Transfer(ctx, "mallory", 10), rejected)
	assert.Zero(t, ledger.Balance("mallory"))
	assert.Empty(t, ledger.Transfers())

	ledger.FailTransfersTo("mallory", nil)
	require.NoError(t, ledger.Transfer(ctx, "mallory", 10))
	assert.EqualValues(t, 10, ledger.Balance("mallory"))
}

func TestLedger_Overflow(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()

	require.NoError(t, ledger.Transfer(ctx, "alice", math.MaxUint64))
	err := ledger.Transfer(ctx, "alice", 1)
	assert.Equal(t, domain.ErrorTypeInternal, domain.GetErrorType(err))
	assert.EqualValues(t, uint64(math.MaxUint64), ledger.Balance("alice"))
}

func TestLedger_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewLedger().Transfer(ctx, "alice", 1), context.Canceled)
}
