// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package storetest holds the behavior every domain.LedgerStore backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) domain.LedgerStore

// ReplicaFactory returns two stores over the same empty backend, as two service instances see it.
type ReplicaFactory func(t *testing.T) (domain.LedgerStore, domain.LedgerStore)

// Run exercises a LedgerStore backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("empty store", func(t *testing.T) { testEmptyStore(t, newStore(t)) })
	t.Run("meetings and joinable index", func(t *testing.T) { testMeetings(t, newStore(t)) })
	t.Run("registrations", func(t *testing.T) { testRegistrations(t, newStore(t)) })
	t.Run("delegations", func(t *testing.T) { testDelegations(t, newStore(t)) })
	t.Run("escrow and pending refunds", func(t *testing.T) { testEscrow(t, newStore(t)) })
	t.Run("directory", func(t *testing.T) { testDirectory(t, newStore(t)) })
	t.Run("stale writes conflict", func(t *testing.T) { testStaleWrites(t, newStore(t)) })
}

// RunReplicas exercises two instances writing to one backend.
func RunReplicas(t *testing.T, newReplicas ReplicaFactory) {
	t.Run("write lock is shared", func(t *testing.T) { testSharedLock(t, newReplicas) })
	t.Run("stale cancellation conflicts", func(t *testing.T) { testReplicaStaleCancellation(t, newReplicas) })
	t.Run("meeting id taken by another replica", func(t *testing.T) { testReplicaMeetingID(t, newReplicas) })
}

func newMeeting(id uint64, maxParticipants uint32) *models.Meeting {
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	return &models.Meeting{
		ID:              id,
		Kind:            models.MeetingKindMeeting,
		Organizer:       "organizer",
		Title:           "meeting",
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		MaxParticipants: maxParticipants,
		RegistrationFee: 10,
		IsActive:        true,
		CreatedAt:       start.Add(-24 * time.Hour),
	}
}

func testEmptyStore(t *testing.T, store domain.LedgerStore) {
	ctx := context.Background()

	meeting, err := store.GetMeeting(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, meeting)

	count, err := store.CountMeetings(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	next, err := store.NextMeetingID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	joinable, err := store.ListJoinableMeetingIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, joinable)

	participant, err := store.GetParticipant(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, participant)

	account, err := store.GetEscrow(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, account.Balance)
	assert.Zero(t, account.Revision)

	require.NoError(t, store.Commit(ctx, &models.Changeset{}))
}

// reload reads a meeting that must exist, with its current revision.
func reload(t *testing.T, store domain.LedgerStore, id uint64) *models.Meeting {
	t.Helper()
	meeting, err := store.GetMeeting(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, meeting)
	require.NotZero(t, meeting.Revision)
	return meeting
}

func assertStale(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStaleRecord)
	assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
}

func testMeetings(t *testing.T, store domain.LedgerStore) {
	ctx := context.Background()

	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutMeeting(newMeeting(id, 2))))
	}

	count, err := store.CountMeetings(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	next, err := store.NextMeetingID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next)

	joinable, err := store.ListJoinableMeetingIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, joinable)

	// A full meeting and a cancelled meeting leave the index
	full := reload(t, store, 2)
	full.CurrentParticipants = 2
	cancelled := reload(t, store, 3)
	cancelled.IsActive = false
	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutMeeting(full).PutMeeting(cancelled)))

	joinable, err = store.ListJoinableMeetingIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, joinable)

	count, err = store.CountMeetings(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count, "updates never change the meeting count")

	stored, err := store.GetMeeting(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, uint32(2), stored.CurrentParticipants)
	assert.True(t, stored.StartTime.Equal(full.StartTime))

	// Freeing a seat puts the meeting back
	full = reload(t, store, 2)
	full.CurrentParticipants = 1
	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutMeeting(full)))

	joinable, err = store.ListJoinableMeetingIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, joinable)
}

func testRegistrations(t *testing.T, store domain.LedgerStore) {
	ctx := context.Background()
	now := time.Date(2029, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutMeeting(newMeeting(1, 5)).PutMeeting(newMeeting(2, 5))))

	meeting := reload(t, store, 1)
	second := reload(t, store, 2)
	meeting.CurrentParticipants = 2
	second.CurrentParticipants = 1
	changes := (&models.Changeset{}).
		PutMeeting(meeting).
		PutMeeting(second).
		PutRegistration(&models.Registration{MeetingID: 1, Participant: "bob", RegisteredBy: "bob", PaidAmount: 10, RegisteredAt: now}).
		PutRegistration(&models.Registration{MeetingID: 1, Participant: "alice", RegisteredBy: "carol", PaidAmount: 10, RegisteredAt: now}).
		PutRegistration(&models.Registration{MeetingID: 2, Participant: "alice", RegisteredBy: "alice", PaidAmount: 10, RegisteredAt: now})
	require.NoError(t, store.Commit(ctx, changes))

	registration, err := store.GetRegistration(ctx, 1, "alice")
	require.NoError(t, err)
	require.NotNil(t, registration)
	assert.Equal(t, models.Address("carol"), registration.RegisteredBy)
	assert.True(t, registration.RegisteredAt.Equal(now))

	missing, err := store.GetRegistration(ctx, 1, "dave")
	require.NoError(t, err)
	assert.Nil(t, missing)

	registrations, err := store.ListRegistrations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, registrations, 2)
	assert.Equal(t, models.Address("alice"), registrations[0].Participant)
	assert.Equal(t, models.Address("bob"), registrations[1].Participant)

	ids, err := store.ListParticipantMeetingIDs(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	// Refund marking keeps the relation
	registration.Refunded = true
	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutRegistration(registration)))
	ids, err = store.ListParticipantMeetingIDs(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).DeleteRegistration(1, "alice")))

	ids, err = store.ListParticipantMeetingIDs(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids)

	registrations, err = store.ListRegistrations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, registrations, 1)
	assert.Equal(t, models.Address("bob"), registrations[0].Participant)

	// Deleting a missing registration is a no-op
	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).DeleteRegistration(1, "alice")))
}

func testDelegations(t *testing.T, store domain.LedgerStore) {
	ctx := context.Background()
	now := time.Now().UTC()

	changes := (&models.Changeset{}).
		PutDelegation(&models.DelegatePermission{Grantor: "alice", Trustee: "carol", GrantedAt: now}).
		PutDelegation(&models.DelegatePermission{Grantor: "alice", Trustee: "bob", GrantedAt: now}).
		PutDelegation(&models.DelegatePermission{Grantor: "dave", Trustee: "bob", GrantedAt: now})
	require.NoError(t, store.Commit(ctx, changes))

	has, err := store.HasDelegation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasDelegation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, has, "delegation is directional")

	trustees, err := store.ListTrustees(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []models.Address{"bob", "carol"}, trustees)

	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).DeleteDelegation("alice", "bob")))

	has, err = store.HasDelegation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, has)

	has, err = store.HasDelegation(ctx, "dave", "bob")
	require.NoError(t, err)
	assert.True(t, has, "revoking removes exactly one relation")

	trustees, err = store.ListTrustees(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []models.Address{"carol"}, trustees)
}

func testEscrow(t *testing.T, store domain.LedgerStore) {
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).
		PutMeeting(newMeeting(1, 3)).
		SetEscrow(models.EscrowAccount{MeetingID: 1}, 30)))

	account, err := store.GetEscrow(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.Amount(30), account.Balance)
	assert.NotZero(t, account.Revision)

	failedAt := time.Date(2029, 6, 1, 0, 0, 0, 0, time.UTC)
	refund := &models.PendingRefund{MeetingID: 1, Participant: "alice", Amount: 10, Reason: "payout rejected", FailedAt: failedAt}
	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).SetEscrow(account, 0).PutPendingRefund(refund)))

	account, err = store.GetEscrow(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, account.Balance)

	pending, err := store.GetPendingRefund(ctx, 1, "alice")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, models.Amount(10), pending.Amount)
	assert.Equal(t, "payout rejected", pending.Reason)
	assert.True(t, pending.FailedAt.Equal(failedAt))

	// A merged refund replaces the record it was read from
	merged := *pending
	merged.Amount = 25
	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutPendingRefund(&merged)))

	pending, err = store.GetPendingRefund(ctx, 1, "alice")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, models.Amount(25), pending.Amount)

	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).DeletePendingRefund(pending)))

	pending, err = store.GetPendingRefund(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Nil(t, pending)

	// A withdrawn refund can be owed again
	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutPendingRefund(refund)))
	pending, err = store.GetPendingRefund(ctx, 1, "alice")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, models.Amount(10), pending.Amount)
}

func testDirectory(t *testing.T, store domain.LedgerStore) {
	ctx := context.Background()
	signedUp := time.Date(2029, 6, 1, 0, 0, 0, 0, time.UTC)

	participant := &models.Participant{Address: "alice", Name: "Alice", IsRegistered: true, SignedUpAt: &signedUp}
	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutParticipant(participant)))

	stored, err := store.GetParticipant(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Alice", stored.Name)
	assert.True(t, stored.IsRegistered)
	require.NotNil(t, stored.SignedUpAt)
	assert.True(t, stored.SignedUpAt.Equal(signedUp))
}

func testStaleWrites(t *testing.T, store domain.LedgerStore) {
	ctx := context.Background()
	now := time.Date(2029, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Commit(ctx, (&models.Changeset{}).
		PutMeeting(newMeeting(1, 5)).
		SetEscrow(models.EscrowAccount{MeetingID: 1}, 10)))

	t.Run("meeting", func(t *testing.T) {
		first := reload(t, store, 1)
		second := reload(t, store, 1)

		first.CurrentParticipants = 1
		require.NoError(t, store.Commit(ctx, (&models.Changeset{}).
			PutMeeting(first).
			PutRegistration(&models.Registration{MeetingID: 1, Participant: "alice", RegisteredBy: "alice", RegisteredAt: now})))

		// The second writer planned on the meeting before the first commit
		second.CurrentParticipants = 1
		err := store.Commit(ctx, (&models.Changeset{}).
			PutMeeting(second).
			PutRegistration(&models.Registration{MeetingID: 1, Participant: "bob", RegisteredBy: "bob", RegisteredAt: now}))
		assertStale(t, err)

		registration, err := store.GetRegistration(ctx, 1, "bob")
		require.NoError(t, err)
		assert.Nil(t, registration, "nothing of a stale changeset is applied")
		assert.Equal(t, uint32(1), reload(t, store, 1).CurrentParticipants)
	})

	t.Run("meeting id already taken", func(t *testing.T) {
		err := store.Commit(ctx, (&models.Changeset{}).PutMeeting(newMeeting(1, 9)))
		assertStale(t, err)
		assert.Equal(t, uint32(5), reload(t, store, 1).MaxParticipants)
	})

	t.Run("escrow account", func(t *testing.T) {
		account, err := store.GetEscrow(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, (&models.Changeset{}).SetEscrow(account, 20)))

		err = store.Commit(ctx, (&models.Changeset{}).SetEscrow(account, 0))
		assertStale(t, err)

		account, err = store.GetEscrow(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, models.Amount(20), account.Balance)
	})

	t.Run("pending refund", func(t *testing.T) {
		refund := &models.PendingRefund{MeetingID: 1, Participant: "carol", Amount: 10, FailedAt: now}
		require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutPendingRefund(refund)))

		// Creating it again would overwrite the unclaimed amount
		err := store.Commit(ctx, (&models.Changeset{}).PutPendingRefund(&models.PendingRefund{MeetingID: 1, Participant: "carol", Amount: 3, FailedAt: now}))
		assertStale(t, err)

		read, err := store.GetPendingRefund(ctx, 1, "carol")
		require.NoError(t, err)
		require.NotNil(t, read)

		merged := *read
		merged.Amount = 30
		require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutPendingRefund(&merged)))

		// A withdrawal planned on the old record cannot claim the merged amount
		err = store.Commit(ctx, (&models.Changeset{}).DeletePendingRefund(read))
		assertStale(t, err)

		current, err := store.GetPendingRefund(ctx, 1, "carol")
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Equal(t, models.Amount(30), current.Amount)
	})

	t.Run("participant", func(t *testing.T) {
		participant := &models.Participant{Address: "dave", Name: "Dave", IsRegistered: true, SignedUpAt: &now}
		require.NoError(t, store.Commit(ctx, (&models.Changeset{}).PutParticipant(participant)))

		err := store.Commit(ctx, (&models.Changeset{}).PutParticipant(&models.Participant{Address: "dave", Name: "Mallory", IsRegistered: true, SignedUpAt: &now}))
		assertStale(t, err)

		stored, err := store.GetParticipant(ctx, "dave")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "Dave", stored.Name)
	})
}

func testSharedLock(t *testing.T, newReplicas ReplicaFactory) {
	a, b := newReplicas(t)

	unlock, err := a.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx)
	require.Error(t, err, "the other replica waits while the lock is held")
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))

	unlock()

	acquired := make(chan func(), 1)
	go func() {
		release, err := b.Lock(context.Background())
		if err == nil {
			acquired <- release
		}
	}()
	select {
	case release := <-acquired:
		release()
	case <-time.After(5 * time.Second):
		t.Fatal("lock was not handed over after release")
	}
}

// testReplicaStaleCancellation is a cancellation planned on replica a while replica b
// registers a participant: a's commit must fail instead of zeroing b's escrow credit.
func testReplicaStaleCancellation(t *testing.T, newReplicas ReplicaFactory) {
	ctx := context.Background()
	now := time.Date(2029, 6, 1, 0, 0, 0, 0, time.UTC)
	a, b := newReplicas(t)

	require.NoError(t, a.Commit(ctx, (&models.Changeset{}).PutMeeting(newMeeting(1, 5))))
	alice := reload(t, a, 1)
	alice.CurrentParticipants = 1
	require.NoError(t, a.Commit(ctx, (&models.Changeset{}).
		PutMeeting(alice).
		PutRegistration(&models.Registration{MeetingID: 1, Participant: "alice", RegisteredBy: "alice", PaidAmount: 10, RegisteredAt: now}).
		SetEscrow(models.EscrowAccount{MeetingID: 1}, 10)))

	// Replica a plans the cancellation
	cancelled := reload(t, a, 1)
	escrow, err := a.GetEscrow(ctx, 1)
	require.NoError(t, err)
	registrations, err := a.ListRegistrations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, registrations, 1)

	// Replica b registers bob in between
	joined := reload(t, b, 1)
	joined.CurrentParticipants = 2
	bobEscrow, err := b.GetEscrow(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, b.Commit(ctx, (&models.Changeset{}).
		PutMeeting(joined).
		PutRegistration(&models.Registration{MeetingID: 1, Participant: "bob", RegisteredBy: "bob", PaidAmount: 10, RegisteredAt: now}).
		SetEscrow(bobEscrow, 20)))

	cancelled.IsActive = false
	changes := (&models.Changeset{}).PutMeeting(cancelled).SetEscrow(escrow, 0)
	for _, registration := range registrations {
		registration.Refunded = true
		changes.PutRegistration(registration)
	}
	assertStale(t, a.Commit(ctx, changes))

	meeting := reload(t, b, 1)
	assert.True(t, meeting.IsActive)
	assert.Equal(t, uint32(2), meeting.CurrentParticipants)

	account, err := b.GetEscrow(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.Amount(20), account.Balance, "bob's fee stays in escrow")

	registration, err := b.GetRegistration(ctx, 1, "alice")
	require.NoError(t, err)
	require.NotNil(t, registration)
	assert.False(t, registration.Refunded)
}

func testReplicaMeetingID(t *testing.T, newReplicas ReplicaFactory) {
	ctx := context.Background()
	a, b := newReplicas(t)

	idA, err := a.NextMeetingID(ctx)
	require.NoError(t, err)
	idB, err := b.NextMeetingID(ctx)
	require.NoError(t, err)
	require.Equal(t, idA, idB)

	first := newMeeting(idA, 3)
	first.Title = "first"
	require.NoError(t, a.Commit(ctx, (&models.Changeset{}).PutMeeting(first)))

	second := newMeeting(idB, 4)
	second.Title = "second"
	assertStale(t, b.Commit(ctx, (&models.Changeset{}).PutMeeting(second)))

	stored := reload(t, b, idA)
	assert.Equal(t, "first", stored.Title)

	count, err := b.CountMeetings(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}
