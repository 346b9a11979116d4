// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

// MockLedgerStore implements LedgerStore for testing
type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) GetMeeting(ctx context.Context, meetingID uint64) (*models.Meeting, error) {
	args := m.Called(ctx, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Meeting), args.Error(1)
}

func (m *MockLedgerStore) CountMeetings(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockLedgerStore) NextMeetingID(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockLedgerStore) ListJoinableMeetingIDs(ctx context.Context) ([]uint64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

func (m *MockLedgerStore) GetParticipant(ctx context.Context, address models.Address) (*models.Participant, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockLedgerStore) GetRegistration(ctx context.Context, meetingID uint64, participant models.Address) (*models.Registration, error) {
	args := m.Called(ctx, meetingID, participant)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Registration), args.Error(1)
}

func (m *MockLedgerStore) ListRegistrations(ctx context.Context, meetingID uint64) ([]*models.Registration, error) {
	args := m.Called(ctx, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Registration), args.Error(1)
}

func (m *MockLedgerStore) ListParticipantMeetingIDs(ctx context.Context, participant models.Address) ([]uint64, error) {
	args := m.Called(ctx, participant)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

func (m *MockLedgerStore) HasDelegation(ctx context.Context, grantor, trustee models.Address) (bool, error) {
	args := m.Called(ctx, grantor, trustee)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerStore) ListTrustees(ctx context.Context, grantor models.Address) ([]models.Address, error) {
	args := m.Called(ctx, grantor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Address), args.Error(1)
}

func (m *MockLedgerStore) GetEscrow(ctx context.Context, meetingID uint64) (models.EscrowAccount, error) {
	args := m.Called(ctx, meetingID)
	return args.Get(0).(models.EscrowAccount), args.Error(1)
}

func (m *MockLedgerStore) GetPendingRefund(ctx context.Context, meetingID uint64, participant models.Address) (*models.PendingRefund, error) {
	args := m.Called(ctx, meetingID, participant)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingRefund), args.Error(1)
}

func (m *MockLedgerStore) Lock(ctx context.Context) (func(), error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func (m *MockLedgerStore) Commit(ctx context.Context, changes *models.Changeset) error {
	args := m.Called(ctx, changes)
	return args.Error(0)
}

// MockEventPublisher implements EventPublisher for testing
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event models.LedgerEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockFundTransferer implements FundTransferer for testing
type MockFundTransferer struct {
	mock.Mock
}

func (m *MockFundTransferer) Transfer(ctx context.Context, to models.Address, amount models.Amount) error {
	args := m.Called(ctx, to, amount)
	return args.Error(0)
}

// MockMessage implements Message for testing
type MockMessage struct {
	mock.Mock
	data    []byte
	subject string
	headers map[string]string
}

func (m *MockMessage) Subject() string {
	return m.subject
}

func (m *MockMessage) Data() []byte {
	return m.data
}

func (m *MockMessage) Header(key string) string {
	return m.headers[key]
}

func (m *MockMessage) HasReply() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMessage) Respond(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

// NewMockMessage creates a mock message for testing
func NewMockMessage(data []byte, subject string) *MockMessage {
	return &MockMessage{
		data:    data,
		subject: subject,
		headers: map[string]string{},
	}
}

// WithHeader sets a header on the mock message.
func (m *MockMessage) WithHeader(key, value string) *MockMessage {
	m.headers[key] = value
	return m
}
