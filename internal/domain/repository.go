// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

// LedgerStore defines the interface for ledger storage operations.
// This interface can be implemented by different storage backends (memory, NATS, PostgreSQL).
//
// Reads of missing records return a nil record and a nil error; only backend
// failures are reported as errors. Every write goes through Commit.
//
// Several service instances may share one backend. Lock serializes their
// read-plan-commit cycles, and Commit still checks the revision of every guarded
// record so a write planned on a stale read fails with ErrStaleRecord.
type LedgerStore interface {
	// Meetings
	GetMeeting(ctx context.Context, meetingID uint64) (*models.Meeting, error)
	CountMeetings(ctx context.Context) (uint64, error)
	NextMeetingID(ctx context.Context) (uint64, error)
	ListJoinableMeetingIDs(ctx context.Context) ([]uint64, error)

	// Directory
	GetParticipant(ctx context.Context, address models.Address) (*models.Participant, error)

	// Registrations
	GetRegistration(ctx context.Context, meetingID uint64, participant models.Address) (*models.Registration, error)
	ListRegistrations(ctx context.Context, meetingID uint64) ([]*models.Registration, error)
	ListParticipantMeetingIDs(ctx context.Context, participant models.Address) ([]uint64, error)

	// Delegations
	HasDelegation(ctx context.Context, grantor, trustee models.Address) (bool, error)
	ListTrustees(ctx context.Context, grantor models.Address) ([]models.Address, error)

	// Escrow
	GetEscrow(ctx context.Context, meetingID uint64) (models.EscrowAccount, error)
	GetPendingRefund(ctx context.Context, meetingID uint64, participant models.Address) (*models.PendingRefund, error)

	// Lock acquires the write lock shared by every instance over the same backend.
	// The returned function releases it.
	Lock(ctx context.Context) (func(), error)

	// Commit applies every write of the changeset or none of them.
	Commit(ctx context.Context, changes *models.Changeset) error
}
