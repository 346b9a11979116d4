// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

func (s *LedgerService) requireAdministrator(caller models.Address) error {
	if caller != s.Config.Administrator {
		return domain.NewUnauthorizedError("administrator check failed", domain.ErrNotAdministrator)
	}
	return nil
}

func requireOrganizer(meeting *models.Meeting, caller models.Address) error {
	if meeting.Organizer != caller {
		return domain.NewUnauthorizedError("organizer check failed", domain.ErrNotOrganizer)
	}
	return nil
}

func (s *LedgerService) requireDelegation(ctx context.Context, grantor, trustee models.Address) error {
	has, err := s.Store.HasDelegation(ctx, grantor, trustee)
	if err != nil {
		return err
	}
	if !has {
		return domain.NewUnauthorizedError("delegation check failed", domain.ErrNoDelegationPermission)
	}
	return nil
}

func delegationPair(grantor, trustee models.Address) (models.Address, models.Address, error) {
	grantor, err := normalize(grantor)
	if err != nil {
		return "", "", err
	}
	trustee, err = normalize(trustee)
	if err != nil {
		return "", "", err
	}
	if grantor == trustee {
		return "", "", domain.NewValidationError("delegation rejected", domain.ErrSelfDelegation)
	}
	return grantor, trustee, nil
}

// planGrant stages the relation when it does not exist yet.
func (s *LedgerService) planGrant(ctx context.Context, out *outcome, grantor, trustee models.Address) error {
	has, err := s.Store.HasDelegation(ctx, grantor, trustee)
	if err != nil || has {
		return err
	}
	out.changes.PutDelegation(&models.DelegatePermission{Grantor: grantor, Trustee: trustee, GrantedAt: s.now()})
	out.emit(s.newEvent(models.EventPermissionGranted, func(e *models.LedgerEvent) {
		e.Grantor = grantor
		e.Trustee = trustee
	}))
	return nil
}

func (s *LedgerService) planRevoke(out *outcome, grantor, trustee models.Address) {
	out.changes.DeleteDelegation(grantor, trustee)
	out.emit(s.newEvent(models.EventPermissionRevoked, func(e *models.LedgerEvent) {
		e.Grantor = grantor
		e.Trustee = trustee
	}))
}

// GrantDelegatePermission lets trustee register grantor. Granting an existing relation changes nothing.
func (s *LedgerService) GrantDelegatePermission(ctx context.Context, grantor, trustee models.Address) error {
	grantor, trustee, err := delegationPair(grantor, trustee)
	if err != nil {
		return err
	}

	out, err := s.execute(ctx, func(ctx context.Context) (*outcome, error) {
		out := &outcome{changes: &models.Changeset{}}
		return out, s.planGrant(ctx, out, grantor, trustee)
	})
	if err != nil {
		return err
	}
	s.finish(ctx, out)
	return nil
}

// RevokeDelegatePermission removes exactly the grantor to trustee relation. A missing relation is a no-op.
func (s *LedgerService) RevokeDelegatePermission(ctx context.Context, grantor, trustee models.Address) error {
	grantor, trustee, err := delegationPair(grantor, trustee)
	if err != nil {
		return err
	}

	out, err := s.execute(ctx, func(ctx context.Context) (*outcome, error) {
		out := &outcome{changes: &models.Changeset{}}
		has, err := s.Store.HasDelegation(ctx, grantor, trustee)
		if err != nil {
			return nil, err
		}
		if has {
			s.planRevoke(out, grantor, trustee)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	s.finish(ctx, out)
	return nil
}

// Delegate makes trustee the only trustee of grantor.
func (s *LedgerService) Delegate(ctx context.Context, grantor, trustee models.Address) error {
	grantor, trustee, err := delegationPair(grantor, trustee)
	if err != nil {
		return err
	}

	out, err := s.execute(ctx, func(ctx context.Context) (*outcome, error) {
		out := &outcome{changes: &models.Changeset{}}
		trustees, err := s.Store.ListTrustees(ctx, grantor)
		if err != nil {
			return nil, err
		}
		for _, other := range trustees {
			if other != trustee {
				s.planRevoke(out, grantor, other)
			}
		}
		return out, s.planGrant(ctx, out, grantor, trustee)
	})
	if err != nil {
		return err
	}
	s.finish(ctx, out)
	return nil
}

// HasDelegatePermission reports whether trustee may register grantor.
func (s *LedgerService) HasDelegatePermission(ctx context.Context, grantor, trustee models.Address) (bool, error) {
	grantor, err := normalize(grantor)
	if err != nil {
		return false, err
	}
	trustee, err = normalize(trustee)
	if err != nil {
		return false, err
	}
	return s.Store.HasDelegation(ctx, grantor, trustee)
}

// ListTrustees returns the trustees of grantor in ascending order.
func (s *LedgerService) ListTrustees(ctx context.Context, grantor models.Address) ([]models.Address, error) {
	grantor, err := normalize(grantor)
	if err != nil {
		return nil, err
	}
	return s.Store.ListTrustees(ctx, grantor)
}
