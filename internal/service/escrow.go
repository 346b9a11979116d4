// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

// refundOrder is a transfer owed once its changeset is committed.
type refundOrder struct {
	MeetingID   uint64
	Participant models.Address
	Amount      models.Amount
}

// refundResult reports one transferred refund. pending is set when the transfer failed.
type refundResult struct {
	order   refundOrder
	pending *models.PendingRefund
}

// creditEscrow stages the escrow balance of meetingID increased by amount.
func (s *LedgerService) creditEscrow(ctx context.Context, changes *models.Changeset, meetingID uint64, amount models.Amount) error {
	if amount == 0 {
		return nil
	}
	account, err := s.Store.GetEscrow(ctx, meetingID)
	if err != nil {
		return err
	}
	credited, ok := account.Balance.Add(amount)
	if !ok {
		return domain.NewInternalError("escrow balance overflow")
	}
	changes.SetEscrow(account, credited)
	return nil
}

// debitEscrow stages the escrow balance of meetingID decreased by amount.
func (s *LedgerService) debitEscrow(ctx context.Context, changes *models.Changeset, meetingID uint64, amount models.Amount) error {
	if amount == 0 {
		return nil
	}
	account, err := s.Store.GetEscrow(ctx, meetingID)
	if err != nil {
		return err
	}
	if account.Balance < amount {
		slog.ErrorContext(ctx, "escrow balance below refund amount",
			"meeting_id", meetingID,
			"balance", account.Balance,
			"amount", amount,
			logging.PriorityCritical(),
		)
	}
	changes.SetEscrow(account, account.Balance.Sub(amount))
	return nil
}

// transferRefunds pays every order on the refund worker pool. A failed transfer never
// stops the others; it is kept as a pending refund the participant can withdraw later.
func (s *LedgerService) transferRefunds(ctx context.Context, orders []refundOrder) []refundResult {
	if len(orders) == 0 {
		return nil
	}

	transfers := make([]func() error, len(orders))
	for i, order := range orders {
		transfers[i] = func() error {
			return s.Transferer.Transfer(ctx, order.Participant, order.Amount)
		}
	}
	errs := s.refunds.RunEach(ctx, transfers...)

	results := make([]refundResult, len(orders))
	var pending []*models.PendingRefund
	for i, order := range orders {
		results[i] = refundResult{order: order}
		if errs[i] == nil {
			s.metrics.refunded(ctx, false)
			continue
		}

		slog.ErrorContext(ctx, "refund transfer failed, keeping it as a pending refund",
			logging.ErrKey, errs[i],
			"meeting_id", order.MeetingID,
			"participant", order.Participant,
			"amount", order.Amount,
			logging.PriorityCritical(),
		)
		s.metrics.refunded(ctx, true)
		refund := &models.PendingRefund{
			MeetingID:   order.MeetingID,
			Participant: order.Participant,
			Amount:      order.Amount,
			Reason:      errs[i].Error(),
			FailedAt:    s.now(),
		}
		results[i].pending = refund
		pending = append(pending, refund)
	}

	s.recordPendingRefunds(ctx, pending)
	return results
}

// recordPendingRefunds commits failed refunds, merging them with anything still unclaimed.
// A refund that cannot be recorded is logged as critical for manual reconciliation.
func (s *LedgerService) recordPendingRefunds(ctx context.Context, refunds []*models.PendingRefund) {
	if len(refunds) == 0 {
		return
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		for _, refund := range refunds {
			logUnrecordedRefund(ctx, refund, err)
		}
		return
	}
	defer unlock()

	for _, refund := range refunds {
		if err := s.recordPendingRefund(ctx, refund); err != nil {
			logUnrecordedRefund(ctx, refund, err)
		}
	}
}

// recordPendingRefund adds refund to the unclaimed refund of the same pair. When the
// unclaimed refund cannot be read, refund is only created if none exists, so an
// earlier amount is never overwritten.
func (s *LedgerService) recordPendingRefund(ctx context.Context, refund *models.PendingRefund) error {
	stored := *refund
	stored.Revision = 0

	existing, err := s.readPendingRefund(ctx, refund.MeetingID, refund.Participant)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "unclaimed refund unreadable, recording the new refund only if none exists",
			logging.ErrKey, err,
			"meeting_id", refund.MeetingID,
			"participant", refund.Participant,
		)
	case existing != nil:
		merged, ok := existing.Amount.Add(refund.Amount)
		if !ok {
			return domain.NewInternalError("pending refund overflow")
		}
		stored.Amount = merged
		stored.Revision = existing.Revision
	}
	return s.Store.Commit(ctx, (&models.Changeset{}).PutPendingRefund(&stored))
}

// readPendingRefund retries transient read failures of an unclaimed refund.
func (s *LedgerService) readPendingRefund(ctx context.Context, meetingID uint64, participant models.Address) (*models.PendingRefund, error) {
	var err error
	for attempt := 1; attempt <= constants.PendingRefundReadAttempts; attempt++ {
		var refund *models.PendingRefund
		refund, err = s.Store.GetPendingRefund(ctx, meetingID, participant)
		if err == nil {
			return refund, nil
		}
		if attempt == constants.PendingRefundReadAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(time.Duration(attempt) * constants.PendingRefundRetryInterval):
		}
	}
	return nil, err
}

func logUnrecordedRefund(ctx context.Context, refund *models.PendingRefund, err error) {
	slog.ErrorContext(ctx, "failed to record pending refund",
		logging.ErrKey, err,
		"meeting_id", refund.MeetingID,
		"participant", refund.Participant,
		"amount", refund.Amount,
		logging.PriorityCritical(),
	)
}

// WithdrawRefund retries the transfer of the caller's pending refund for a meeting.
// A failed retry keeps the refund pending and the receipt reports it.
func (s *LedgerService) WithdrawRefund(ctx context.Context, caller models.Address, meetingID uint64) (*models.Refund, error) {
	caller, err := normalize(caller)
	if err != nil {
		return nil, err
	}

	out, err := s.execute(ctx, func(ctx context.Context) (*outcome, error) {
		pending, err := s.Store.GetPendingRefund(ctx, meetingID, caller)
		if err != nil {
			return nil, err
		}
		if pending == nil {
			return nil, domain.NewNotFoundError("withdraw rejected", domain.ErrNoPendingRefund)
		}
		return &outcome{
			changes: (&models.Changeset{}).DeletePendingRefund(pending),
			refunds: []refundOrder{{MeetingID: meetingID, Participant: caller, Amount: pending.Amount}},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	result := s.finish(ctx, out)[0]
	return &models.Refund{
		MeetingID:   meetingID,
		Participant: caller,
		Amount:      result.order.Amount,
		Pending:     result.pending != nil,
	}, nil
}

// GetEscrowBalance returns the fees held for a meeting.
func (s *LedgerService) GetEscrowBalance(ctx context.Context, meetingID uint64) (models.Amount, error) {
	account, err := s.Store.GetEscrow(ctx, meetingID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// GetPendingRefund returns the unclaimed refund of address for a meeting, or nil.
func (s *LedgerService) GetPendingRefund(ctx context.Context, meetingID uint64, address models.Address) (*models.PendingRefund, error) {
	address, err := normalize(address)
	if err != nil {
		return nil, err
	}
	return s.Store.GetPendingRefund(ctx, meetingID, address)
}
