// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

// admission is one registration request. payer is the caller, owner the registered participant.
type admission struct {
	meetingID uint64
	owner     models.Address
	payer     models.Address
	paid      models.Amount
}

func (a admission) delegated() bool {
	return a.owner != a.payer
}

// RegisterForMeeting registers the caller, who pays exactly the registration fee.
func (s *LedgerService) RegisterForMeeting(ctx context.Context, caller models.Address, meetingID uint64, paid models.Amount) (*models.Registration, error) {
	caller, err := normalize(caller)
	if err != nil {
		return nil, err
	}
	return s.admit(ctx, admission{meetingID: meetingID, owner: caller, payer: caller, paid: paid})
}

// Enroll registers the caller in a conference.
func (s *LedgerService) Enroll(ctx context.Context, caller models.Address, meetingID uint64) (*models.Registration, error) {
	return s.RegisterForMeeting(ctx, caller, meetingID, 0)
}

// DelegateRegister registers principal on behalf of trustee, who pays the fee.
func (s *LedgerService) DelegateRegister(ctx context.Context, trustee models.Address, meetingID uint64, principal models.Address, paid models.Amount) (*models.Registration, error) {
	trustee, err := normalize(trustee)
	if err != nil {
		return nil, err
	}
	principal, err = normalize(principal)
	if err != nil {
		return nil, err
	}
	return s.admit(ctx, admission{meetingID: meetingID, owner: principal, payer: trustee, paid: paid})
}

// EnrollFor enrolls principal in a conference on behalf of trustee.
func (s *LedgerService) EnrollFor(ctx context.Context, trustee, principal models.Address, meetingID uint64) (*models.Registration, error) {
	return s.DelegateRegister(ctx, trustee, meetingID, principal, 0)
}

// admit checks a registration in order and commits it with the seat and the escrow credit.
func (s *LedgerService) admit(ctx context.Context, req admission) (*models.Registration, error) {
	var (
		registration *models.Registration
		meeting      *models.Meeting
	)
	out, err := s.execute(ctx, func(ctx context.Context) (*outcome, error) {
		if req.delegated() {
			if err := s.requireDelegation(ctx, req.owner, req.payer); err != nil {
				return nil, err
			}
		}

		var err error
		meeting, err = s.loadMeeting(ctx, req.meetingID)
		if err != nil {
			return nil, err
		}
		if err := s.checkAdmission(ctx, meeting, req); err != nil {
			return nil, err
		}

		registration = &models.Registration{
			MeetingID:    meeting.ID,
			Participant:  req.owner,
			RegisteredBy: req.payer,
			PaidAmount:   req.paid,
			RegisteredAt: s.now(),
		}
		meeting.CurrentParticipants++

		out := &outcome{changes: (&models.Changeset{}).PutMeeting(meeting).PutRegistration(registration)}
		if err := s.creditEscrow(ctx, out.changes, meeting.ID, req.paid); err != nil {
			return nil, err
		}

		out.emit(s.newEvent(models.EventRegistrationSucceeded, func(e *models.LedgerEvent) {
			e.MeetingID = meeting.ID
			e.Participant = req.owner
			e.Amount = req.paid
		}))
		// Keeps the participant's own conference list current without a query back
		if meeting.Kind == models.MeetingKindConference {
			out.emit(s.newEvent(models.EventConferenceJoined, func(e *models.LedgerEvent) {
				e.MeetingID = meeting.ID
				e.Participant = req.owner
				e.Title = meeting.Title
			}))
		}
		if req.delegated() {
			out.emit(s.newEvent(models.EventDelegateRegistration, func(e *models.LedgerEvent) {
				e.MeetingID = meeting.ID
				e.Participant = req.owner
				e.Trustee = req.payer
			}))
		}
		if meeting.IsFull() {
			out.emit(s.newEvent(models.EventMeetingFull, func(e *models.LedgerEvent) {
				e.MeetingID = meeting.ID
				e.Title = meeting.Title
			}))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.registered(ctx, meeting, req.delegated())
	slog.DebugContext(ctx, "registration admitted",
		"meeting_id", meeting.ID,
		"participant", req.owner,
		"registered_by", req.payer,
		"current_participants", meeting.CurrentParticipants,
	)
	s.finish(ctx, out)
	return registration, nil
}

// checkAdmission evaluates the meeting state preconditions against the registration owner.
func (s *LedgerService) checkAdmission(ctx context.Context, meeting *models.Meeting, req admission) error {
	if !meeting.IsActive {
		return domain.NewConflictError("registration rejected", domain.ErrMeetingInactive)
	}
	if meeting.HasStarted(s.now()) {
		return domain.NewConflictError("registration rejected", domain.ErrMeetingStarted)
	}
	if meeting.RequiresSignUp {
		signedUp, err := s.isSignedUp(ctx, req.owner)
		if err != nil {
			return err
		}
		if !signedUp {
			return domain.NewUnauthorizedError("registration rejected", domain.ErrNotRegisteredParticipant)
		}
	}

	existing, err := s.Store.GetRegistration(ctx, meeting.ID, req.owner)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.NewConflictError("registration rejected", domain.ErrAlreadyRegistered)
	}
	if meeting.IsFull() {
		return domain.NewConflictError("registration rejected", domain.ErrMeetingFull)
	}
	if req.paid != meeting.RegistrationFee {
		return domain.NewPaymentError("registration rejected", domain.ErrInsufficientFee)
	}
	return nil
}

// CancelRegistration removes the caller from a meeting that has not started and refunds the paid fee.
func (s *LedgerService) CancelRegistration(ctx context.Context, caller models.Address, meetingID uint64) (*models.Refund, error) {
	caller, err := normalize(caller)
	if err != nil {
		return nil, err
	}

	var registration *models.Registration
	out, err := s.execute(ctx, func(ctx context.Context) (*outcome, error) {
		meeting, err := s.loadMeeting(ctx, meetingID)
		if err != nil {
			return nil, err
		}
		registration, err = s.Store.GetRegistration(ctx, meetingID, caller)
		if err != nil {
			return nil, err
		}
		if registration == nil {
			return nil, domain.NewConflictError("cancellation rejected", domain.ErrNotRegistered)
		}
		if !meeting.IsActive {
			return nil, domain.NewConflictError("cancellation rejected", domain.ErrMeetingInactive)
		}
		if meeting.HasStarted(s.now()) {
			return nil, domain.NewConflictError("cancellation rejected", domain.ErrMeetingStarted)
		}

		if meeting.CurrentParticipants > 0 {
			meeting.CurrentParticipants--
		}
		out := &outcome{changes: (&models.Changeset{}).
			PutMeeting(meeting).
			DeleteRegistration(meetingID, caller)}

		if !registration.Refunded && registration.PaidAmount > 0 {
			if err := s.debitEscrow(ctx, out.changes, meetingID, registration.PaidAmount); err != nil {
				return nil, err
			}
			out.refunds = append(out.refunds, refundOrder{
				MeetingID:   meetingID,
				Participant: caller,
				Amount:      registration.PaidAmount,
			})
		}
		out.emit(s.newEvent(models.EventRegistrationCancelled, func(e *models.LedgerEvent) {
			e.MeetingID = meetingID
			e.Participant = caller
			e.Amount = registration.PaidAmount
		}))
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	refund := &models.Refund{MeetingID: meetingID, Participant: caller}
	for _, result := range s.finish(ctx, out) {
		refund.Amount = result.order.Amount
		refund.Pending = result.pending != nil
	}
	return refund, nil
}

// IsUserRegistered reports whether address holds a registration for the meeting.
func (s *LedgerService) IsUserRegistered(ctx context.Context, meetingID uint64, address models.Address) (bool, error) {
	address, err := normalize(address)
	if err != nil {
		return false, err
	}
	registration, err := s.Store.GetRegistration(ctx, meetingID, address)
	if err != nil {
		return false, err
	}
	return registration != nil, nil
}

// IsEnrolledInConference is IsUserRegistered with the conference argument order.
func (s *LedgerService) IsEnrolledInConference(ctx context.Context, address models.Address, meetingID uint64) (bool, error) {
	return s.IsUserRegistered(ctx, meetingID, address)
}

// GetUserMeetings returns the ascending ids of the meetings address is registered for,
// including meetings cancelled afterwards.
func (s *LedgerService) GetUserMeetings(ctx context.Context, address models.Address) ([]uint64, error) {
	address, err := normalize(address)
	if err != nil {
		return nil, err
	}
	return s.Store.ListParticipantMeetingIDs(ctx, address)
}

// QueryMyConf returns the meetings of the caller.
func (s *LedgerService) QueryMyConf(ctx context.Context, caller models.Address) ([]uint64, error) {
	return s.GetUserMeetings(ctx, caller)
}
