// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/concurrent"
)

// LedgerService owns the registration, authorization and escrow state machine.
//
// Every mutation runs check, plan and commit while holding mu and the store write lock,
// which other instances over the same store share. Transfers and events happen only
// after the changeset is committed and both locks are released.
type LedgerService struct {
	Store      domain.LedgerStore
	Publisher  domain.EventPublisher
	Transferer domain.FundTransferer
	Config     ServiceConfig

	mu      sync.Mutex
	refunds *concurrent.WorkerPool
	metrics *ledgerMetrics
}

var _ Service = (*LedgerService)(nil)

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	store domain.LedgerStore,
	publisher domain.EventPublisher,
	transferer domain.FundTransferer,
	config ServiceConfig,
) (*LedgerService, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	return &LedgerService{
		Store:      store,
		Publisher:  publisher,
		Transferer: transferer,
		Config:     config,
		refunds:    concurrent.NewWorkerPool(config.RefundWorkers),
		metrics:    newLedgerMetrics(),
	}, nil
}

// ServiceReady checks if the service is ready for use.
func (s *LedgerService) ServiceReady() bool {
	return s.Store != nil &&
		s.Publisher != nil &&
		s.Transferer != nil
}

func (s *LedgerService) now() time.Time {
	return s.Config.Now().UTC()
}

// outcome is what a mutation planned under the lock: the changeset to commit,
// the events to announce and the refunds to transfer once committed.
type outcome struct {
	changes *models.Changeset
	events  []models.LedgerEvent
	refunds []refundOrder
}

func (o *outcome) emit(event models.LedgerEvent) {
	o.events = append(o.events, event)
}

// execute runs plan and commits its changeset inside the atomicity boundary.
// Nothing is committed when plan or the commit fails.
func (s *LedgerService) execute(ctx context.Context, plan func(ctx context.Context) (*outcome, error)) (*outcome, error) {
	if !s.ServiceReady() {
		slog.ErrorContext(ctx, "service not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("ledger service is not ready")
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out, err := plan(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Store.Commit(ctx, out.changes); err != nil {
		slog.ErrorContext(ctx, "failed to commit ledger changes", logging.ErrKey, err)
		return nil, err
	}
	return out, nil
}

// lock takes the in-process lock, then the write lock of the store.
func (s *LedgerService) lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	release, err := s.Store.Lock(ctx)
	if err != nil {
		s.mu.Unlock()
		slog.ErrorContext(ctx, "failed to acquire the ledger write lock", logging.ErrKey, err)
		return nil, err
	}
	return func() {
		release()
		s.mu.Unlock()
	}, nil
}

// finish performs the interactions of a committed outcome: refunds first, then every event in order.
func (s *LedgerService) finish(ctx context.Context, out *outcome) []refundResult {
	results := s.transferRefunds(ctx, out.refunds)
	events := out.events
	for _, result := range results {
		if result.pending != nil {
			events = append(events, s.newEvent(models.EventRefundFailed, func(e *models.LedgerEvent) {
				e.MeetingID = result.pending.MeetingID
				e.Participant = result.pending.Participant
				e.Amount = result.pending.Amount
			}))
		}
	}
	s.notify(ctx, events)
	return results
}

// normalize validates a caller supplied address.
func normalize(address models.Address) (models.Address, error) {
	normalized := models.NormalizeAddress(string(address))
	if !normalized.Valid() {
		return "", domain.NewValidationError("invalid address "+string(address), domain.ErrInvalidAddress)
	}
	return normalized, nil
}

// loadMeeting reads a meeting that must exist.
func (s *LedgerService) loadMeeting(ctx context.Context, meetingID uint64) (*models.Meeting, error) {
	meeting, err := s.Store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, domain.NewNotFoundError("meeting lookup failed", domain.ErrMeetingNotFound)
	}
	return meeting, nil
}
