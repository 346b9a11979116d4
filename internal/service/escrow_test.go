// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/memory"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

func TestLedgerService_WithdrawRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createMeeting(2, fee)

	_, err := h.svc.WithdrawRefund(ctx, "alice", id)
	assertDomainError(t, err, domain.ErrNoPendingRefund, domain.ErrorTypeNotFound)

	_, err = h.svc.RegisterForMeeting(ctx, "alice", id, fee)
	require.NoError(t, err)
	h.wallet.FailTransfersTo("alice", errors.New("payout offline"))
	_, err = h.svc.CancelMeeting(ctx, organizer, id)
	require.NoError(t, err)
	h.drain()

	t.Run("failed retry keeps the refund pending", func(t *testing.T) {
		refund, err := h.svc.WithdrawRefund(ctx, "alice", id)
		require.NoError(t, err)
		assert.True(t, refund.Pending)
		assert.Equal(t, fee, refund.Amount)

		pending, err := h.svc.GetPendingRefund(ctx, id, "alice")
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, fee, pending.Amount, "the restored refund is not doubled")
		assert.Equal(t, []models.EventType{models.EventRefundFailed}, h.drainTypes())
	})

	t.Run("successful withdrawal", func(t *testing.T) {
		h.wallet.FailTransfersTo("alice", nil)

		refund, err := h.svc.WithdrawRefund(ctx, "alice", id)
		require.NoError(t, err)
		assert.Equal(t, &models.Refund{MeetingID: id, Participant: "alice", Amount: fee}, refund)
		assert.Equal(t, fee, h.wallet.Balance("alice"))

		pending, err := h.svc.GetPendingRefund(ctx, id, "alice")
		require.NoError(t, err)
		assert.Nil(t, pending)

		_, err = h.svc.WithdrawRefund(ctx, "alice", id)
		assertDomainError(t, err, domain.ErrNoPendingRefund, domain.ErrorTypeNotFound)
	})
}

func TestLedgerService_PendingRefundsAccumulate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createMeeting(2, fee)
	h.wallet.FailTransfersTo("alice", errors.New("payout offline"))

	for range 2 {
		_, err := h.svc.RegisterForMeeting(ctx, "alice", id, fee)
		require.NoError(t, err)
		_, err = h.svc.CancelRegistration(ctx, "alice", id)
		require.NoError(t, err)
	}

	pending, err := h.svc.GetPendingRefund(ctx, id, "alice")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 2*fee, pending.Amount)
}

func TestLedgerService_EscrowOverflow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createMeeting(3, math.MaxUint64)

	_, err := h.svc.RegisterForMeeting(ctx, "alice", id, math.MaxUint64)
	require.NoError(t, err)
	h.drain()

	_, err = h.svc.RegisterForMeeting(ctx, "bob", id, math.MaxUint64)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeInternal, domain.GetErrorType(err))

	assert.Equal(t, uint32(1), h.meeting(id).CurrentParticipants)
	assert.Equal(t, models.Amount(math.MaxUint64), h.escrow(id))
	assert.Empty(t, h.drain())
}

func TestLedgerService_EscrowTracksActiveFees(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createMeeting(5, fee)

	for _, participant := range []models.Address{"alice", "bob", "carol"} {
		_, err := h.svc.RegisterForMeeting(ctx, participant, id, fee)
		require.NoError(t, err)
	}
	_, err := h.svc.CancelRegistration(ctx, "bob", id)
	require.NoError(t, err)

	assert.Equal(t, 2*fee, h.escrow(id))
}

// flakyRefundStore fails the next failures reads of pending refunds.
type flakyRefundStore struct {
	*memory.Store

	mu       sync.Mutex
	failures int
	reads    int
}

func (s *flakyRefundStore) GetPendingRefund(ctx context.Context, meetingID uint64, participant models.Address) (*models.PendingRefund, error) {
	s.mu.Lock()
	s.reads++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		return nil, domain.NewUnavailableError("escrow bucket unavailable")
	}
	return s.Store.GetPendingRefund(ctx, meetingID, participant)
}

func TestLedgerService_PendingRefundReadFailures(t *testing.T) {
	ctx := context.Background()

	// setup leaves alice with one unclaimed refund and a second registration whose refund fails too
	setup := func(t *testing.T) (*harness, uint64, time.Time) {
		h := newHarness(t)
		id := h.createMeeting(2, fee)
		h.wallet.FailTransfersTo("alice", errors.New("payout offline"))

		_, err := h.svc.RegisterForMeeting(ctx, "alice", id, fee)
		require.NoError(t, err)
		_, err = h.svc.CancelRegistration(ctx, "alice", id)
		require.NoError(t, err)
		firstFailure := h.now

		h.now = h.now.Add(time.Minute)
		_, err = h.svc.RegisterForMeeting(ctx, "alice", id, fee)
		require.NoError(t, err)
		return h, id, firstFailure
	}

	t.Run("transient failures are retried", func(t *testing.T) {
		h, id, _ := setup(t)
		flaky := &flakyRefundStore{Store: h.store, failures: constants.PendingRefundReadAttempts - 1}
		h.svc.Store = flaky

		refund, err := h.svc.CancelRegistration(ctx, "alice", id)
		require.NoError(t, err)
		assert.True(t, refund.Pending)
		assert.Equal(t, constants.PendingRefundReadAttempts, flaky.reads)

		pending, err := h.store.GetPendingRefund(ctx, id, "alice")
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, 2*fee, pending.Amount)
	})

	t.Run("an unreadable refund is never overwritten", func(t *testing.T) {
		h, id, firstFailure := setup(t)
		h.svc.Store = &flakyRefundStore{Store: h.store, failures: math.MaxInt}

		refund, err := h.svc.CancelRegistration(ctx, "alice", id)
		require.NoError(t, err, "the cancellation itself is committed")
		assert.True(t, refund.Pending)

		pending, err := h.store.GetPendingRefund(ctx, id, "alice")
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, fee, pending.Amount)
		assert.Equal(t, "payout offline", pending.Reason)
		assert.True(t, firstFailure.Equal(pending.FailedAt))

		registration, err := h.store.GetRegistration(ctx, id, "alice")
		require.NoError(t, err)
		assert.Nil(t, registration)
	})
}

func TestLedgerService_PendingRefundOverflowKeepsTheUnclaimedRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createMeeting(2, fee)

	earlier := &models.PendingRefund{MeetingID: id, Participant: "alice", Amount: math.MaxUint64, Reason: "earlier failure", FailedAt: h.now}
	require.NoError(t, h.store.Commit(ctx, (&models.Changeset{}).PutPendingRefund(earlier)))

	h.wallet.FailTransfersTo("alice", errors.New("payout offline"))
	_, err := h.svc.RegisterForMeeting(ctx, "alice", id, fee)
	require.NoError(t, err)
	_, err = h.svc.CancelRegistration(ctx, "alice", id)
	require.NoError(t, err)

	pending, err := h.store.GetPendingRefund(ctx, id, "alice")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, models.Amount(math.MaxUint64), pending.Amount)
	assert.Equal(t, "earlier failure", pending.Reason)
}
