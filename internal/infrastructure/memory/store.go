// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package memory provides an in-process domain.LedgerStore.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

// Store keeps the ledger in maps guarded by a single lock.
// Records are copied on the way in and out so callers never share state with the store.
type Store struct {
	mu        sync.RWMutex
	writeLock chan struct{}

	meetings      map[uint64]models.Meeting
	participants  map[models.Address]models.Participant
	registrations map[models.RegistrationKey]models.Registration
	delegations   map[models.DelegationKey]models.DelegatePermission
	escrow        map[uint64]models.EscrowAccount
	pending       map[models.RegistrationKey]models.PendingRefund

	// revision is bumped by every guarded write, like a stream sequence
	revision            uint64
	lastMeetingID       uint64
	joinable            map[uint64]struct{}
	registrants         map[uint64]map[models.Address]struct{}
	participantMeetings map[models.Address]map[uint64]struct{}
	trustees            map[models.Address]map[models.Address]struct{}
}

// NewStore creates an empty in-memory ledger store.
func NewStore() *Store {
	return &Store{
		writeLock:           make(chan struct{}, 1),
		meetings:            make(map[uint64]models.Meeting),
		participants:        make(map[models.Address]models.Participant),
		registrations:       make(map[models.RegistrationKey]models.Registration),
		delegations:         make(map[models.DelegationKey]models.DelegatePermission),
		escrow:              make(map[uint64]models.EscrowAccount),
		pending:             make(map[models.RegistrationKey]models.PendingRefund),
		joinable:            make(map[uint64]struct{}),
		registrants:         make(map[uint64]map[models.Address]struct{}),
		participantMeetings: make(map[models.Address]map[uint64]struct{}),
		trustees:            make(map[models.Address]map[models.Address]struct{}),
	}
}

// GetMeeting returns a copy of the meeting record or nil.
func (s *Store) GetMeeting(ctx context.Context, meetingID uint64) (*models.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meeting, ok := s.meetings[meetingID]
	if !ok {
		return nil, nil
	}
	return copyMeeting(meeting), nil
}

// CountMeetings returns the number of created meeting records.
func (s *Store) CountMeetings(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMeetingID, nil
}

// NextMeetingID returns the id the next committed meeting must carry.
func (s *Store) NextMeetingID(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMeetingID + 1, nil
}

// ListJoinableMeetingIDs returns the ascending ids of active meetings below capacity.
func (s *Store) ListJoinableMeetingIDs(ctx context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.joinable), nil
}

// GetParticipant returns a copy of the directory entry or nil.
func (s *Store) GetParticipant(ctx context.Context, address models.Address) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participant, ok := s.participants[address]
	if !ok {
		return nil, nil
	}
	if participant.SignedUpAt != nil {
		signedUpAt := *participant.SignedUpAt
		participant.SignedUpAt = &signedUpAt
	}
	return &participant, nil
}

// GetRegistration returns a copy of the registration or nil.
func (s *Store) GetRegistration(ctx context.Context, meetingID uint64, participant models.Address) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	registration, ok := s.registrations[models.RegistrationKey{MeetingID: meetingID, Participant: participant}]
	if !ok {
		return nil, nil
	}
	return &registration, nil
}

// ListRegistrations returns the registrations of a meeting ordered by participant.
func (s *Store) ListRegistrations(ctx context.Context, meetingID uint64) ([]*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := sortedKeys(s.registrants[meetingID])
	registrations := make([]*models.Registration, 0, len(participants))
	for _, participant := range participants {
		registration := s.registrations[models.RegistrationKey{MeetingID: meetingID, Participant: participant}]
		registrations = append(registrations, &registration)
	}
	return registrations, nil
}

// ListParticipantMeetingIDs returns the ascending ids of meetings the participant holds a registration for.
func (s *Store) ListParticipantMeetingIDs(ctx context.Context, participant models.Address) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.participantMeetings[participant]), nil
}

// HasDelegation reports whether trustee may act for grantor.
func (s *Store) HasDelegation(ctx context.Context, grantor, trustee models.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.delegations[models.DelegationKey{Grantor: grantor, Trustee: trustee}]
	return ok, nil
}

// ListTrustees returns the ascending trustees of grantor.
func (s *Store) ListTrustees(ctx context.Context, grantor models.Address) ([]models.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.trustees[grantor]), nil
}

// GetEscrow returns the escrow account of a meeting.
func (s *Store) GetEscrow(ctx context.Context, meetingID uint64) (models.EscrowAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.escrow[meetingID]
	if !ok {
		return models.EscrowAccount{MeetingID: meetingID}, nil
	}
	return account, nil
}

// GetPendingRefund returns a copy of the pending refund or nil.
func (s *Store) GetPendingRefund(ctx context.Context, meetingID uint64, participant models.Address) (*models.PendingRefund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refund, ok := s.pending[models.RegistrationKey{MeetingID: meetingID, Participant: participant}]
	if !ok {
		return nil, nil
	}
	return &refund, nil
}

// Lock takes the write lock shared by every service over this store.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	select {
	case s.writeLock <- struct{}{}:
		return func() { <-s.writeLock }, nil
	case <-ctx.Done():
		return nil, domain.NewUnavailableError("ledger write lock not acquired", ctx.Err())
	}
}

// Commit checks every guarded revision, then applies the changeset under the map lock.
// It cannot fail halfway.
func (s *Store) Commit(ctx context.Context, changes *models.Changeset) error {
	if changes.IsEmpty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRevisions(changes); err != nil {
		return err
	}

	for _, meeting := range changes.Meetings {
		stored := copyMeeting(*meeting)
		stored.Revision = s.nextRevision()
		s.meetings[meeting.ID] = *stored
		s.lastMeetingID = max(s.lastMeetingID, meeting.ID)
		if meeting.Listed() {
			s.joinable[meeting.ID] = struct{}{}
		} else {
			delete(s.joinable, meeting.ID)
		}
	}

	for _, participant := range changes.Participants {
		stored := *participant
		if participant.SignedUpAt != nil {
			signedUpAt := *participant.SignedUpAt
			stored.SignedUpAt = &signedUpAt
		}
		stored.Revision = s.nextRevision()
		s.participants[participant.Address] = stored
	}

	for _, registration := range changes.PutRegistrations {
		s.registrations[models.RegistrationKey{MeetingID: registration.MeetingID, Participant: registration.Participant}] = *registration
		addToSet(s.registrants, registration.MeetingID, registration.Participant)
		addToSet(s.participantMeetings, registration.Participant, registration.MeetingID)
	}

	for _, key := range changes.DeleteRegistrations {
		delete(s.registrations, key)
		removeFromSet(s.registrants, key.MeetingID, key.Participant)
		removeFromSet(s.participantMeetings, key.Participant, key.MeetingID)
	}

	for _, permission := range changes.PutDelegations {
		s.delegations[models.DelegationKey{Grantor: permission.Grantor, Trustee: permission.Trustee}] = *permission
		addToSet(s.trustees, permission.Grantor, permission.Trustee)
	}

	for _, key := range changes.DeleteDelegations {
		delete(s.delegations, key)
		removeFromSet(s.trustees, key.Grantor, key.Trustee)
	}

	for _, account := range changes.EscrowAccounts {
		account.Revision = s.nextRevision()
		s.escrow[account.MeetingID] = account
	}

	for _, refund := range changes.PutPendingRefunds {
		stored := *refund
		stored.Revision = s.nextRevision()
		s.pending[refundKey(refund)] = stored
	}

	for _, refund := range changes.DeletePendingRefunds {
		delete(s.pending, refundKey(refund))
	}

	return nil
}

// checkRevisions rejects the changeset when a guarded record changed since it was read.
func (s *Store) checkRevisions(changes *models.Changeset) error {
	for _, meeting := range changes.Meetings {
		current, ok := s.meetings[meeting.ID]
		if !sameRevision(current.Revision, ok, meeting.Revision) {
			return staleRecord("meeting", meeting.ID)
		}
	}
	for _, participant := range changes.Participants {
		current, ok := s.participants[participant.Address]
		if !sameRevision(current.Revision, ok, participant.Revision) {
			return staleRecord("participant", participant.Address)
		}
	}
	for _, account := range changes.EscrowAccounts {
		current, ok := s.escrow[account.MeetingID]
		if !sameRevision(current.Revision, ok, account.Revision) {
			return staleRecord("escrow account", account.MeetingID)
		}
	}
	for _, refund := range changes.PutPendingRefunds {
		current, ok := s.pending[refundKey(refund)]
		if !sameRevision(current.Revision, ok, refund.Revision) {
			return staleRecord("pending refund", refund.Participant)
		}
	}
	for _, refund := range changes.DeletePendingRefunds {
		current, ok := s.pending[refundKey(refund)]
		if !ok || current.Revision != refund.Revision {
			return staleRecord("pending refund", refund.Participant)
		}
	}
	return nil
}

func (s *Store) nextRevision() uint64 {
	s.revision++
	return s.revision
}

// sameRevision reports whether a write read at expected may replace the current record.
func sameRevision(current uint64, exists bool, expected uint64) bool {
	if !exists {
		return expected == 0
	}
	return current == expected
}

func staleRecord(kind string, key any) error {
	return domain.NewConflictError(fmt.Sprintf("%s %v changed since it was read", kind, key), domain.ErrStaleRecord)
}

func refundKey(refund *models.PendingRefund) models.RegistrationKey {
	return models.RegistrationKey{MeetingID: refund.MeetingID, Participant: refund.Participant}
}

func copyMeeting(meeting models.Meeting) *models.Meeting {
	if meeting.CancelledAt != nil {
		cancelledAt := *meeting.CancelledAt
		meeting.CancelledAt = &cancelledAt
	}
	return &meeting
}

func addToSet[K, V comparable](sets map[K]map[V]struct{}, key K, value V) {
	set, ok := sets[key]
	if !ok {
		set = make(map[V]struct{})
		sets[key] = set
	}
	set[value] = struct{}{}
}

func removeFromSet[K, V comparable](sets map[K]map[V]struct{}, key K, value V) {
	set, ok := sets[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(sets, key)
	}
}

func sortedKeys[K cmp.Ordered](set map[K]struct{}) []K {
	return slices.Sorted(maps.Keys(set))
}
