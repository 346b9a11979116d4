// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"strings"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

// SignUp adds the caller to the participant directory under name.
func (s *LedgerService) SignUp(ctx context.Context, caller models.Address, name string) (*models.Participant, error) {
	caller, err := normalize(caller)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewValidationError("sign up rejected", domain.ErrEmptyName)
	}

	var participant *models.Participant
	out, err := s.execute(ctx, func(ctx context.Context) (*outcome, error) {
		existing, err := s.Store.GetParticipant(ctx, caller)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.IsRegistered {
			return nil, domain.NewConflictError("sign up rejected", domain.ErrParticipantAlreadyRegistered)
		}

		signedUpAt := s.now()
		participant = &models.Participant{
			Address:      caller,
			Name:         name,
			IsRegistered: true,
			SignedUpAt:   &signedUpAt,
		}
		if existing != nil {
			participant.Revision = existing.Revision
		}

		out := &outcome{changes: (&models.Changeset{}).PutParticipant(participant)}
		out.emit(s.newEvent(models.EventParticipantRegistered, func(e *models.LedgerEvent) {
			e.Participant = caller
			e.Name = name
		}))
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, out)
	return participant, nil
}

// GetParticipantInfo returns the directory entry of address. Unknown addresses read as an unregistered entry.
func (s *LedgerService) GetParticipantInfo(ctx context.Context, address models.Address) (*models.Participant, error) {
	address, err := normalize(address)
	if err != nil {
		return nil, err
	}
	participant, err := s.Store.GetParticipant(ctx, address)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return &models.Participant{Address: address}, nil
	}
	return participant, nil
}

// isSignedUp reports whether address has a directory entry.
func (s *LedgerService) isSignedUp(ctx context.Context, address models.Address) (bool, error) {
	participant, err := s.Store.GetParticipant(ctx, address)
	if err != nil {
		return false, err
	}
	return participant != nil && participant.IsRegistered, nil
}
