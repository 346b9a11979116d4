// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

func TestLedgerService_CreateMeeting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	start := h.now.Add(time.Hour)

	tests := []struct {
		name     string
		req      models.CreateMeetingRequest
		expected error
	}{
		{
			name:     "empty title",
			req:      models.CreateMeetingRequest{Title: "  ", StartTime: start, EndTime: start.Add(time.Hour), MaxParticipants: 1},
			expected: domain.ErrEmptyName,
		},
		{
			name:     "zero capacity",
			req:      models.CreateMeetingRequest{Title: "x", StartTime: start, EndTime: start.Add(time.Hour)},
			expected: domain.ErrInvalidCapacity,
		},
		{
			name:     "starts now",
			req:      models.CreateMeetingRequest{Title: "x", StartTime: h.now, EndTime: start, MaxParticipants: 1},
			expected: domain.ErrInvalidTimeRange,
		},
		{
			name:     "ends before start",
			req:      models.CreateMeetingRequest{Title: "x", StartTime: start, EndTime: start, MaxParticipants: 1},
			expected: domain.ErrInvalidTimeRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateMeeting(ctx, organizer, tt.req)
			assertDomainError(t, err, tt.expected, domain.ErrorTypeValidation)
		})
	}

	total, err := h.svc.GetTotalMeetings(ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "rejected meetings are not counted")
	assert.Empty(t, h.drain())

	t.Run("valid meeting", func(t *testing.T) {
		id, err := h.svc.CreateMeeting(ctx, organizer, models.CreateMeetingRequest{
			Title:           " Ledger sync ",
			Description:     "weekly",
			StartTime:       start,
			EndTime:         start.Add(time.Hour),
			MaxParticipants: 100,
			RegistrationFee: fee,
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id, "ids start at 1")

		meeting := h.meeting(id)
		assert.Equal(t, models.MeetingKindMeeting, meeting.Kind)
		assert.Equal(t, "Ledger sync", meeting.Title)
		assert.Equal(t, organizer, meeting.Organizer)
		assert.True(t, meeting.IsActive)
		assert.False(t, meeting.RequiresSignUp)
		assert.Equal(t, h.now, meeting.CreatedAt)

		events := h.drain()
		require.Len(t, events, 1)
		assert.Equal(t, models.EventMeetingCreated, events[0].Type)
		assert.Equal(t, id, events[0].MeetingID)
		assert.Equal(t, "Ledger sync", events[0].Title)
		assert.Equal(t, uint32(100), events[0].MaxParticipants)
		assert.NotEmpty(t, events[0].ID)
	})
}

func TestLedgerService_NewConference(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.NewConference(ctx, "mallory", "GopherCon", 10)
	assertDomainError(t, err, domain.ErrNotAdministrator, domain.ErrorTypeUnauthorized)

	_, err = h.svc.NewConference(ctx, admin, "", 10)
	assertDomainError(t, err, domain.ErrEmptyName, domain.ErrorTypeValidation)

	_, err = h.svc.NewConference(ctx, admin, "GopherCon", 0)
	assertDomainError(t, err, domain.ErrInvalidCapacity, domain.ErrorTypeValidation)

	id, err := h.svc.NewConference(ctx, "ADMIN", "GopherCon", 10)
	require.NoError(t, err)

	meeting := h.meeting(id)
	assert.Equal(t, models.MeetingKindConference, meeting.Kind)
	assert.True(t, meeting.RequiresSignUp)
	assert.True(t, meeting.IsFree())
	assert.False(t, meeting.HasTimeWindow())

	info, err := h.svc.GetConferenceInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ConferenceInfo{Name: "GopherCon", MaxParticipants: 10}, info)

	unknown, err := h.svc.GetConferenceInfo(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.ConferenceInfo{}, unknown)

	assert.Equal(t, []models.EventType{models.EventMeetingCreated}, h.drainTypes())
}

func TestLedgerService_GetMeeting_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetMeeting(context.Background(), 1)
	assertDomainError(t, err, domain.ErrMeetingNotFound, domain.ErrorTypeNotFound)
}

func TestLedgerService_Counts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first := h.createMeeting(1, 0)
	h.createMeeting(1, 0)
	_, err := h.svc.NewConference(ctx, admin, "conf", 1)
	require.NoError(t, err)

	_, err = h.svc.RegisterForMeeting(ctx, "alice", first, 0)
	require.NoError(t, err)
	_, err = h.svc.CancelMeeting(ctx, organizer, first)
	require.NoError(t, err)

	total, err := h.svc.GetTotalMeetings(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total, "full and cancelled meetings are counted")

	count, err := h.svc.GetConferenceCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, count)
}

func TestLedgerService_QueryConfList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	open := h.createMeeting(5, 0)
	full := h.createMeeting(1, 0)
	cancelled := h.createMeeting(5, 0)
	conference, err := h.svc.NewConference(ctx, admin, "conf", 5)
	require.NoError(t, err)

	_, err = h.svc.RegisterForMeeting(ctx, "alice", full, 0)
	require.NoError(t, err)
	_, err = h.svc.CancelMeeting(ctx, organizer, cancelled)
	require.NoError(t, err)

	ids, err := h.svc.QueryConfList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{open, conference}, ids)

	// Once the meetings start only the conference, which has no window, stays joinable
	h.now = h.now.Add(48 * time.Hour)
	ids, err = h.svc.QueryConfList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{conference}, ids)
}

func TestLedgerService_CancelMeeting(t *testing.T) {
	ctx := context.Background()

	t.Run("organizer only", func(t *testing.T) {
		h := newHarness(t)
		id := h.createMeeting(2, fee)

		_, err := h.svc.CancelMeeting(ctx, "alice", id)
		assertDomainError(t, err, domain.ErrNotOrganizer, domain.ErrorTypeUnauthorized)

		_, err = h.svc.CancelMeeting(ctx, organizer, 99)
		assertDomainError(t, err, domain.ErrMeetingNotFound, domain.ErrorTypeNotFound)
	})

	t.Run("mass refund", func(t *testing.T) {
		h := newHarness(t)
		id := h.createMeeting(5, fee)
		for _, participant := range []models.Address{"alice", "bob", "carol"} {
			_, err := h.svc.RegisterForMeeting(ctx, participant, id, fee)
			require.NoError(t, err)
		}
		h.drain()

		report, err := h.svc.CancelMeeting(ctx, organizer, id)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Refunded)
		assert.Equal(t, 3*fee, report.RefundedAmount)
		assert.Empty(t, report.Pending)

		meeting := h.meeting(id)
		assert.False(t, meeting.IsActive)
		require.NotNil(t, meeting.CancelledAt)
		assert.Equal(t, uint32(3), meeting.CurrentParticipants, "participant count is kept")
		assert.Zero(t, h.escrow(id))

		for _, participant := range []models.Address{"alice", "bob", "carol"} {
			assert.Equal(t, fee, h.wallet.Balance(participant))
			registered, err := h.svc.IsUserRegistered(ctx, id, participant)
			require.NoError(t, err)
			assert.True(t, registered, "registrations survive cancellation")
		}
		assert.Equal(t, []models.EventType{models.EventMeetingCancelled}, h.drainTypes())

		_, err = h.svc.CancelMeeting(ctx, organizer, id)
		assertDomainError(t, err, domain.ErrAlreadyCancelled, domain.ErrorTypeConflict)
		assert.Len(t, h.wallet.Transfers(), 3, "no second refund")
	})

	t.Run("failed transfers become pending refunds", func(t *testing.T) {
		h := newHarness(t)
		id := h.createMeeting(5, fee)
		for _, participant := range []models.Address{"alice", "bob", "carol"} {
			_, err := h.svc.RegisterForMeeting(ctx, participant, id, fee)
			require.NoError(t, err)
		}
		h.drain()
		h.wallet.FailTransfersTo("bob", errors.New("recipient rejects funds"))

		report, err := h.svc.CancelMeeting(ctx, organizer, id)
		require.NoError(t, err, "a failed refund never reverts the cancellation")
		assert.Equal(t, 2, report.Refunded)
		assert.Equal(t, 2*fee, report.RefundedAmount)
		require.Len(t, report.Pending, 1)
		assert.Equal(t, models.Address("bob"), report.Pending[0].Participant)
		assert.Equal(t, fee, report.Pending[0].Amount)

		assert.False(t, h.meeting(id).IsActive)
		assert.Equal(t, fee, h.wallet.Balance("alice"))
		assert.Equal(t, fee, h.wallet.Balance("carol"))
		assert.Zero(t, h.wallet.Balance("bob"))

		pending, err := h.svc.GetPendingRefund(ctx, id, "bob")
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, fee, pending.Amount)
		assert.Contains(t, pending.Reason, "recipient rejects funds")

		events := h.drain()
		require.Len(t, events, 2)
		assert.Equal(t, models.EventMeetingCancelled, events[0].Type)
		assert.Equal(t, models.EventRefundFailed, events[1].Type)
		assert.Equal(t, models.Address("bob"), events[1].Participant)
		assert.Equal(t, fee, events[1].Amount)
	})

	t.Run("free meeting has nothing to transfer", func(t *testing.T) {
		h := newHarness(t)
		id := h.createMeeting(5, 0)
		_, err := h.svc.RegisterForMeeting(ctx, "alice", id, 0)
		require.NoError(t, err)

		report, err := h.svc.CancelMeeting(ctx, organizer, id)
		require.NoError(t, err)
		assert.Zero(t, report.Refunded)
		assert.Empty(t, h.wallet.Transfers())
	})
}
