// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/utils"
)

// CreateMeeting opens a fee-bearing meeting organized by the caller and returns its id.
func (s *LedgerService) CreateMeeting(ctx context.Context, caller models.Address, req models.CreateMeetingRequest) (uint64, error) {
	caller, err := normalize(caller)
	if err != nil {
		return 0, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return 0, domain.NewValidationError("meeting rejected", domain.ErrEmptyName)
	}
	if req.MaxParticipants == 0 {
		return 0, domain.NewValidationError("meeting rejected", domain.ErrInvalidCapacity)
	}
	now := s.now()
	if !req.StartTime.After(now) || !req.EndTime.After(req.StartTime) {
		return 0, domain.NewValidationError("meeting rejected", domain.ErrInvalidTimeRange)
	}

	return s.openMeeting(ctx, &models.Meeting{
		Kind:            models.MeetingKindMeeting,
		Organizer:       caller,
		Title:           title,
		Description:     strings.TrimSpace(req.Description),
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		MaxParticipants: req.MaxParticipants,
		RegistrationFee: req.RegistrationFee,
	})
}

// NewConference opens a free conference without a time window. Administrator only.
func (s *LedgerService) NewConference(ctx context.Context, caller models.Address, name string, maxParticipants uint32) (uint64, error) {
	caller, err := normalize(caller)
	if err != nil {
		return 0, err
	}
	if err := s.requireAdministrator(caller); err != nil {
		return 0, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return 0, domain.NewValidationError("conference rejected", domain.ErrEmptyName)
	}
	if maxParticipants == 0 {
		return 0, domain.NewValidationError("conference rejected", domain.ErrInvalidCapacity)
	}

	return s.openMeeting(ctx, &models.Meeting{
		Kind:            models.MeetingKindConference,
		Organizer:       caller,
		Title:           name,
		MaxParticipants: maxParticipants,
		RequiresSignUp:  true,
	})
}

// openMeeting assigns the next id to a validated record and commits it.
func (s *LedgerService) openMeeting(ctx context.Context, meeting *models.Meeting) (uint64, error) {
	out, err := s.execute(ctx, func(ctx context.Context) (*outcome, error) {
		id, err := s.Store.NextMeetingID(ctx)
		if err != nil {
			return nil, err
		}
		meeting.ID = id
		meeting.IsActive = true
		meeting.CreatedAt = s.now()

		out := &outcome{changes: (&models.Changeset{}).PutMeeting(meeting)}
		out.emit(s.newEvent(models.EventMeetingCreated, func(e *models.LedgerEvent) {
			e.MeetingID = meeting.ID
			e.Title = meeting.Title
			e.MaxParticipants = meeting.MaxParticipants
		}))
		return out, nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "meeting created",
		"meeting_id", meeting.ID,
		"kind", meeting.Kind,
		"organizer", meeting.Organizer,
	)
	s.finish(ctx, out)
	return meeting.ID, nil
}

// GetMeeting returns the record of a meeting or conference.
func (s *LedgerService) GetMeeting(ctx context.Context, meetingID uint64) (*models.Meeting, error) {
	return s.loadMeeting(ctx, meetingID)
}

// GetConferenceInfo returns the conference read model. Unknown ids read as the zero value.
func (s *LedgerService) GetConferenceInfo(ctx context.Context, meetingID uint64) (models.ConferenceInfo, error) {
	meeting, err := s.Store.GetMeeting(ctx, meetingID)
	if err != nil {
		return models.ConferenceInfo{}, err
	}
	return models.ConferenceInfoFrom(meeting), nil
}

// CancelMeeting deactivates a meeting and refunds every registrant. Organizer only.
// Refund transfers are best effort: a failed transfer becomes a pending refund and never
// reverts the cancellation.
func (s *LedgerService) CancelMeeting(ctx context.Context, caller models.Address, meetingID uint64) (*models.CancellationReport, error) {
	caller, err := normalize(caller)
	if err != nil {
		return nil, err
	}

	out, err := s.execute(ctx, func(ctx context.Context) (*outcome, error) {
		meeting, err := s.loadMeeting(ctx, meetingID)
		if err != nil {
			return nil, err
		}
		if err := requireOrganizer(meeting, caller); err != nil {
			return nil, err
		}
		if !meeting.IsActive {
			return nil, domain.NewConflictError("cancellation rejected", domain.ErrAlreadyCancelled)
		}

		registrations, err := s.Store.ListRegistrations(ctx, meetingID)
		if err != nil {
			return nil, err
		}
		escrow, err := s.Store.GetEscrow(ctx, meetingID)
		if err != nil {
			return nil, err
		}

		meeting.IsActive = false
		meeting.CancelledAt = utils.TimePtr(s.now())
		out := &outcome{changes: (&models.Changeset{}).PutMeeting(meeting)}
		if escrow.Balance > 0 {
			out.changes.SetEscrow(escrow, 0)
		}
		for _, registration := range registrations {
			if registration.Refunded {
				continue
			}
			registration.Refunded = true
			out.changes.PutRegistration(registration)
			if registration.PaidAmount > 0 {
				out.refunds = append(out.refunds, refundOrder{
					MeetingID:   meetingID,
					Participant: registration.Participant,
					Amount:      registration.PaidAmount,
				})
			}
		}
		out.emit(s.newEvent(models.EventMeetingCancelled, func(e *models.LedgerEvent) {
			e.MeetingID = meetingID
			e.Title = meeting.Title
		}))
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "meeting cancelled",
		"meeting_id", meetingID,
		"refunds", len(out.refunds),
	)

	report := &models.CancellationReport{MeetingID: meetingID}
	for _, result := range s.finish(ctx, out) {
		if result.pending != nil {
			report.Pending = append(report.Pending, *result.pending)
			continue
		}
		report.Refunded++
		// Sum cannot overflow: it is bounded by the escrow balance that was zeroed
		report.RefundedAmount += result.order.Amount
	}
	return report, nil
}

// QueryConfList returns the ascending ids of meetings that can currently be joined.
func (s *LedgerService) QueryConfList(ctx context.Context) ([]uint64, error) {
	ids, err := s.Store.ListJoinableMeetingIDs(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	joinable := make([]uint64, 0, len(ids))
	for _, id := range ids {
		meeting, err := s.Store.GetMeeting(ctx, id)
		if err != nil {
			return nil, err
		}
		if meeting != nil && meeting.Joinable(now) {
			joinable = append(joinable, id)
		}
	}
	return joinable, nil
}

// GetTotalMeetings returns how many meetings and conferences were ever created.
func (s *LedgerService) GetTotalMeetings(ctx context.Context) (uint64, error) {
	return s.Store.CountMeetings(ctx)
}

// GetConferenceCount is GetTotalMeetings under its conference name.
func (s *LedgerService) GetConferenceCount(ctx context.Context) (uint64, error) {
	return s.GetTotalMeetings(ctx)
}
