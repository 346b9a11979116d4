// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/eventbus"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/memory"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/wallet"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

const (
	admin     models.Address = "admin"
	organizer models.Address = "organizer"
	fee       models.Amount  = 100_000_000_000_000_000 // 0.1 ETH in wei
)

// harness wires a LedgerService to the in-process store, wallet and event bus.
type harness struct {
	t      *testing.T
	svc    *LedgerService
	store  *memory.Store
	wallet *wallet.Ledger
	events *eventbus.Subscription
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		store:  memory.NewStore(),
		wallet: wallet.NewLedger(),
		now:    time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	broker := eventbus.NewBroker(256)
	h.events = broker.Subscribe()

	svc, err := NewLedgerService(h.store, broker, h.wallet, ServiceConfig{
		Administrator: admin,
		Now:           func() time.Time { return h.now },
		RefundWorkers: 4,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

// drain returns every event published so far.
func (h *harness) drain() []models.LedgerEvent {
	var events []models.LedgerEvent
	for {
		select {
		case event := <-h.events.Events:
			events = append(events, event)
		default:
			return events
		}
	}
}

func (h *harness) drainTypes() []models.EventType {
	events := h.drain()
	types := make([]models.EventType, len(events))
	for i, event := range events {
		types[i] = event.Type
	}
	return types
}

// createMeeting opens a meeting starting tomorrow and discards its events.
func (h *harness) createMeeting(maxParticipants uint32, registrationFee models.Amount) uint64 {
	h.t.Helper()
	id, err := h.svc.CreateMeeting(context.Background(), organizer, models.CreateMeetingRequest{
		Title:           "Ledger sync",
		StartTime:       h.now.Add(24 * time.Hour),
		EndTime:         h.now.Add(25 * time.Hour),
		MaxParticipants: maxParticipants,
		RegistrationFee: registrationFee,
	})
	require.NoError(h.t, err)
	h.drain()
	return id
}

func (h *harness) meeting(id uint64) *models.Meeting {
	h.t.Helper()
	meeting, err := h.svc.GetMeeting(context.Background(), id)
	require.NoError(h.t, err)
	return meeting
}

func (h *harness) escrow(id uint64) models.Amount {
	h.t.Helper()
	balance, err := h.svc.GetEscrowBalance(context.Background(), id)
	require.NoError(h.t, err)
	return balance
}

func assertDomainError(t *testing.T, err error, sentinel error, errorType domain.ErrorType) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, errorType, domain.GetErrorType(err))
}

func TestNewLedgerService(t *testing.T) {
	t.Run("administrator is required", func(t *testing.T) {
		_, err := NewLedgerService(memory.NewStore(), eventbus.NewBroker(1), wallet.NewLedger(), ServiceConfig{})
		assertDomainError(t, err, domain.ErrInvalidAddress, domain.ErrorTypeValidation)
	})

	t.Run("defaults are filled in", func(t *testing.T) {
		svc, err := NewLedgerService(memory.NewStore(), eventbus.NewBroker(1), wallet.NewLedger(), ServiceConfig{
			Administrator: "  Admin ",
		})
		require.NoError(t, err)
		assert.Equal(t, admin, svc.Config.Administrator)
		assert.Equal(t, constants.DefaultRefundWorkers, svc.Config.RefundWorkers)
		assert.NotNil(t, svc.Config.Now)
		assert.True(t, svc.ServiceReady())
	})
}

func TestLedgerService_ServiceReady(t *testing.T) {
	tests := []struct {
		name     string
		svc      *LedgerService
		expected bool
	}{
		{
			name:     "all dependencies",
			svc:      &LedgerService{Store: memory.NewStore(), Publisher: eventbus.NewBroker(1), Transferer: wallet.NewLedger()},
			expected: true,
		},
		{
			name:     "missing store",
			svc:      &LedgerService{Publisher: eventbus.NewBroker(1), Transferer: wallet.NewLedger()},
			expected: false,
		},
		{
			name:     "missing transferer",
			svc:      &LedgerService{Store: memory.NewStore(), Publisher: eventbus.NewBroker(1)},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.svc.ServiceReady())
		})
	}
}

func TestLedgerService_NotReady(t *testing.T) {
	svc := &LedgerService{}
	_, err := svc.SignUp(context.Background(), "alice", "Alice")
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
}

// failingStore rejects every commit.
type failingStore struct {
	*memory.Store
	err error
}

func (s *failingStore) Commit(ctx context.Context, changes *models.Changeset) error {
	return s.err
}

func TestLedgerService_FailedCommitHasNoEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createMeeting(3, fee)

	// Swap in a store that cannot commit, sharing the committed state
	commitErr := domain.NewUnavailableError("store down")
	h.svc.Store = &failingStore{Store: h.store, err: commitErr}
	transferer := new(domain.MockFundTransferer)
	h.svc.Transferer = transferer

	_, err := h.svc.RegisterForMeeting(ctx, "alice", id, fee)
	assert.ErrorIs(t, err, commitErr)

	_, err = h.svc.CancelMeeting(ctx, organizer, id)
	assert.ErrorIs(t, err, commitErr)

	h.svc.Store = h.store
	assert.Zero(t, h.meeting(id).CurrentParticipants)
	assert.True(t, h.meeting(id).IsActive)
	assert.Empty(t, h.drain())
	transferer.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything)
}

// commitHookStore runs hook once inside the first commit, while the write lock is held.
type commitHookStore struct {
	*memory.Store
	once sync.Once
	hook func()
}

func (s *commitHookStore) Commit(ctx context.Context, changes *models.Changeset) error {
	s.once.Do(s.hook)
	return s.Store.Commit(ctx, changes)
}

func TestLedgerService_InstancesShareTheWriteLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createMeeting(3, fee)
	_, err := h.svc.RegisterForMeeting(ctx, "alice", id, fee)
	require.NoError(t, err)

	// A second instance over the same store, as another replica would be
	replica, err := NewLedgerService(h.store, eventbus.NewBroker(1), wallet.NewLedger(), ServiceConfig{
		Administrator: admin,
		Now:           func() time.Time { return h.now },
	})
	require.NoError(t, err)

	var racedErr error
	h.svc.Store = &commitHookStore{Store: h.store, hook: func() {
		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, racedErr = replica.RegisterForMeeting(waitCtx, "bob", id, fee)
	}}

	_, err = h.svc.CancelMeeting(ctx, organizer, id)
	require.NoError(t, err)
	h.svc.Store = h.store

	require.Error(t, racedErr)
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(racedErr), "the replica waits for the cancellation")

	_, err = replica.RegisterForMeeting(ctx, "bob", id, fee)
	assertDomainError(t, err, domain.ErrMeetingInactive, domain.ErrorTypeConflict)

	assert.Zero(t, h.escrow(id))
	assert.Equal(t, fee, h.wallet.Balance("alice"))
	registration, err := h.store.GetRegistration(ctx, id, "bob")
	require.NoError(t, err)
	assert.Nil(t, registration)
}

func TestLedgerService_PublisherErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	publisher := new(domain.MockEventPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats down"))
	h.svc.Publisher = publisher

	_, err := h.svc.SignUp(ctx, "alice", "Alice")
	require.NoError(t, err)

	participant, err := h.svc.GetParticipantInfo(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, participant.IsRegistered)
	publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestLedgerService_InvalidAddress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createMeeting(2, 0)

	_, err := h.svc.RegisterForMeeting(ctx, "  ", id, 0)
	assertDomainError(t, err, domain.ErrInvalidAddress, domain.ErrorTypeValidation)

	_, err = h.svc.RegisterForMeeting(ctx, "bad/address", id, 0)
	assertDomainError(t, err, domain.ErrInvalidAddress, domain.ErrorTypeValidation)

	// Addresses are normalized before use
	_, err = h.svc.RegisterForMeeting(ctx, "  0xABCdef ", id, 0)
	require.NoError(t, err)
	registered, err := h.svc.IsUserRegistered(ctx, id, "0xabcdef")
	require.NoError(t, err)
	assert.True(t, registered)
}
