// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// meetingIDSet is an index document holding ascending meeting ids.
type meetingIDSet struct {
	IDs []uint64 `json:"ids" msgpack:"ids"`
}

// addressSet is an index document holding ascending addresses.
type addressSet struct {
	Addresses []models.Address `json:"addresses" msgpack:"addresses"`
}

// meetingSequence holds the last assigned meeting id.
type meetingSequence struct {
	Last uint64 `json:"last" msgpack:"last"`
}

// writeLease names the instance allowed to commit. An empty holder is a released lease.
type writeLease struct {
	Holder    string    `json:"holder" msgpack:"holder"`
	ExpiresAt time.Time `json:"expires_at" msgpack:"expires_at"`
}

func (l *writeLease) free(now time.Time) bool {
	return l == nil || l.Holder == "" || now.After(l.ExpiresAt)
}

// NatsLedgerBuckets are the key-value buckets backing a NatsLedgerStore.
type NatsLedgerBuckets struct {
	Meetings      INatsKeyValue
	Participants  INatsKeyValue
	Registrations INatsKeyValue
	Delegations   INatsKeyValue
	Escrow        INatsKeyValue
	Index         INatsKeyValue
}

// NatsLedgerStore is the JetStream key-value implementation of domain.LedgerStore.
// Commits are undone on failure. Instances sharing the buckets take turns through a
// write lease in the index bucket. Every guarded record and index document is written
// at the revision it was read at, so a commit planned on stale reads fails with a
// conflict even when a lease expired under a slow holder.
type NatsLedgerStore struct {
	kb            *KeyBuilder
	meetings      *NatsBaseRepository[models.Meeting]
	participants  *NatsBaseRepository[models.Participant]
	registrations *NatsBaseRepository[models.Registration]
	delegations   *NatsBaseRepository[models.DelegatePermission]
	escrow        *NatsBaseRepository[models.EscrowAccount]
	pending       *NatsBaseRepository[models.PendingRefund]
	idSets        *NatsBaseRepository[meetingIDSet]
	addressSets   *NatsBaseRepository[addressSet]
	sequence      *NatsBaseRepository[meetingSequence]
	leases        *NatsBaseRepository[writeLease]

	holder string
	now    func() time.Time

	mu sync.Mutex
}

// NewNatsLedgerStore creates a ledger store over the given buckets.
func NewNatsLedgerStore(buckets NatsLedgerBuckets, codec Codec) *NatsLedgerStore {
	return &NatsLedgerStore{
		kb:            NewKeyBuilder(""),
		meetings:      NewNatsBaseRepository[models.Meeting](buckets.Meetings, "meeting", codec),
		participants:  NewNatsBaseRepository[models.Participant](buckets.Participants, "participant", codec),
		registrations: NewNatsBaseRepository[models.Registration](buckets.Registrations, "registration", codec),
		delegations:   NewNatsBaseRepository[models.DelegatePermission](buckets.Delegations, "delegation", codec),
		escrow:        NewNatsBaseRepository[models.EscrowAccount](buckets.Escrow, "escrow account", codec),
		pending:       NewNatsBaseRepository[models.PendingRefund](buckets.Escrow, "pending refund", codec),
		idSets:        NewNatsBaseRepository[meetingIDSet](buckets.Index, "meeting index", codec),
		addressSets:   NewNatsBaseRepository[addressSet](buckets.Index, "address index", codec),
		sequence:      NewNatsBaseRepository[meetingSequence](buckets.Index, "meeting sequence", codec),
		leases:        NewNatsBaseRepository[writeLease](buckets.Index, "write lease", codec),
		holder:        uuid.NewString(),
		now:           time.Now,
	}
}

// IsReady checks if every bucket is available
func (s *NatsLedgerStore) IsReady() bool {
	return s.meetings.IsReady() &&
		s.participants.IsReady() &&
		s.registrations.IsReady() &&
		s.delegations.IsReady() &&
		s.escrow.IsReady() &&
		s.idSets.IsReady()
}

// GetMeeting returns the meeting record or nil when the id was never assigned.
func (s *NatsLedgerStore) GetMeeting(ctx context.Context, meetingID uint64) (*models.Meeting, error) {
	meeting, revision, err := s.meetings.Find(ctx, s.kb.MeetingKey(meetingID))
	if meeting != nil {
		meeting.Revision = revision
	}
	return meeting, err
}

// CountMeetings returns the number of created meeting records.
func (s *NatsLedgerStore) CountMeetings(ctx context.Context) (uint64, error) {
	seq, _, err := s.sequence.Find(ctx, s.kb.MeetingSequenceKey())
	if err != nil || seq == nil {
		return 0, err
	}
	return seq.Last, nil
}

// NextMeetingID returns the id the next committed meeting must carry.
func (s *NatsLedgerStore) NextMeetingID(ctx context.Context) (uint64, error) {
	count, err := s.CountMeetings(ctx)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

// ListJoinableMeetingIDs returns the ascending ids of active meetings below capacity.
func (s *NatsLedgerStore) ListJoinableMeetingIDs(ctx context.Context) ([]uint64, error) {
	set, _, err := s.idSets.Find(ctx, s.kb.JoinableIndexKey())
	if err != nil || set == nil {
		return nil, err
	}
	return slices.Clone(set.IDs), nil
}

// GetParticipant returns the directory entry or nil for unknown addresses.
func (s *NatsLedgerStore) GetParticipant(ctx context.Context, address models.Address) (*models.Participant, error) {
	participant, revision, err := s.participants.Find(ctx, s.kb.ParticipantKey(address))
	if participant != nil {
		participant.Revision = revision
	}
	return participant, err
}

// GetRegistration returns the registration of the pair or nil.
func (s *NatsLedgerStore) GetRegistration(ctx context.Context, meetingID uint64, participant models.Address) (*models.Registration, error) {
	registration, _, err := s.registrations.Find(ctx, s.kb.RegistrationKey(meetingID, participant))
	return registration, err
}

// ListRegistrations returns the registrations of a meeting ordered by participant.
func (s *NatsLedgerStore) ListRegistrations(ctx context.Context, meetingID uint64) ([]*models.Registration, error) {
	set, _, err := s.addressSets.Find(ctx, s.kb.MeetingRegistrantsIndexKey(meetingID))
	if err != nil || set == nil {
		return nil, err
	}

	registrations := make([]*models.Registration, 0, len(set.Addresses))
	for _, participant := range set.Addresses {
		registration, err := s.GetRegistration(ctx, meetingID, participant)
		if err != nil {
			return nil, err
		}
		if registration == nil {
			slog.WarnContext(ctx, "registrant index points to a missing registration",
				"meeting_id", meetingID, "participant", participant)
			continue
		}
		registrations = append(registrations, registration)
	}
	return registrations, nil
}

// ListParticipantMeetingIDs returns the ascending ids of meetings the participant holds a registration for.
func (s *NatsLedgerStore) ListParticipantMeetingIDs(ctx context.Context, participant models.Address) ([]uint64, error) {
	set, _, err := s.idSets.Find(ctx, s.kb.ParticipantMeetingsIndexKey(participant))
	if err != nil || set == nil {
		return nil, err
	}
	return slices.Clone(set.IDs), nil
}

// HasDelegation reports whether trustee may act for grantor.
func (s *NatsLedgerStore) HasDelegation(ctx context.Context, grantor, trustee models.Address) (bool, error) {
	return s.delegations.Exists(ctx, s.kb.DelegationKey(grantor, trustee))
}

// ListTrustees returns the ascending trustees of grantor.
func (s *NatsLedgerStore) ListTrustees(ctx context.Context, grantor models.Address) ([]models.Address, error) {
	set, _, err := s.addressSets.Find(ctx, s.kb.TrusteesIndexKey(grantor))
	if err != nil || set == nil {
		return nil, err
	}
	return slices.Clone(set.Addresses), nil
}

// GetEscrow returns the escrow account of a meeting.
func (s *NatsLedgerStore) GetEscrow(ctx context.Context, meetingID uint64) (models.EscrowAccount, error) {
	account, revision, err := s.escrow.Find(ctx, s.kb.EscrowKey(meetingID))
	if err != nil {
		return models.EscrowAccount{}, err
	}
	if account == nil {
		return models.EscrowAccount{MeetingID: meetingID}, nil
	}
	account.Revision = revision
	return *account, nil
}

// GetPendingRefund returns the pending refund of the pair or nil.
func (s *NatsLedgerStore) GetPendingRefund(ctx context.Context, meetingID uint64, participant models.Address) (*models.PendingRefund, error) {
	refund, revision, err := s.pending.Find(ctx, s.kb.PendingRefundKey(meetingID, participant))
	if refund != nil {
		refund.Revision = revision
	}
	return refund, err
}

// Lock takes the write lease, waiting while another instance holds it.
func (s *NatsLedgerStore) Lock(ctx context.Context) (func(), error) {
	if !s.IsReady() {
		return nil, domain.NewUnavailableError("ledger store is not available")
	}

	key := s.kb.WriteLockKey()
	for {
		revision, err := s.tryLease(ctx, key)
		if err == nil {
			return func() { s.releaseLease(ctx, key, revision) }, nil
		}
		if domain.GetErrorType(err) != domain.ErrorTypeConflict {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, domain.NewUnavailableError("ledger write lock not acquired", ctx.Err())
		case <-time.After(constants.WriteLockRetryInterval):
		}
	}
}

// tryLease writes our holder over a free lease. A held lease is reported as a conflict.
func (s *NatsLedgerStore) tryLease(ctx context.Context, key string) (uint64, error) {
	current, revision, err := s.leases.Find(ctx, key)
	if err != nil {
		return 0, err
	}
	now := s.now()
	if !current.free(now) {
		return 0, domain.NewConflictError("write lease is held", domain.ErrStaleRecord)
	}
	if current != nil && current.Holder != "" {
		slog.WarnContext(ctx, "taking over an expired write lease",
			"holder", current.Holder, "expired_at", current.ExpiresAt)
	}

	lease := &writeLease{Holder: s.holder, ExpiresAt: now.Add(constants.WriteLeaseTTL)}
	return s.leases.Save(ctx, key, lease, revision)
}

// releaseLease frees the lease unless another instance took it over after expiry.
func (s *NatsLedgerStore) releaseLease(ctx context.Context, key string, revision uint64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.leases.Save(ctx, key, &writeLease{}, revision); err != nil {
		slog.WarnContext(ctx, "failed to release the write lease", logging.ErrKey, err)
	}
}

// Commit applies the changeset. On failure every applied write is reverted.
func (s *NatsLedgerStore) Commit(ctx context.Context, changes *models.Changeset) error {
	if changes.IsEmpty() {
		return nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "nats.kv.commit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "nats"),
			attribute.String("db.operation", "commit"),
			attribute.Int("ledger.meetings", len(changes.Meetings)),
			attribute.Int("ledger.registrations", len(changes.PutRegistrations)+len(changes.DeleteRegistrations)),
		),
	)
	defer span.End()

	if !s.IsReady() {
		err := domain.NewUnavailableError("ledger store is not available")
		recordSpanError(span, err, err.Error())
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &kvTxn{}
	if err := s.apply(ctx, txn, changes); err != nil {
		if rbErr := txn.rollback(ctx); rbErr != nil {
			slog.ErrorContext(ctx, "failed to roll back ledger commit",
				logging.ErrKey, rbErr, logging.PriorityCritical())
		}
		recordSpanError(span, err, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *NatsLedgerStore) apply(ctx context.Context, txn *kvTxn, changes *models.Changeset) error {
	idSets := newDocStage(s.idSets)
	addressSets := newDocStage(s.addressSets)
	sequence := newDocStage(s.sequence)

	for _, meeting := range changes.Meetings {
		if err := s.meetings.StageSave(ctx, txn, s.kb.MeetingKey(meeting.ID), meeting, meeting.Revision); err != nil {
			return err
		}

		seq, err := sequence.load(ctx, s.kb.MeetingSequenceKey())
		if err != nil {
			return err
		}
		if meeting.ID > seq.value.Last {
			seq.value.Last = meeting.ID
			seq.dirty = true
		}

		joinable, err := idSets.load(ctx, s.kb.JoinableIndexKey())
		if err != nil {
			return err
		}
		if meeting.Listed() {
			joinable.value.IDs, joinable.dirty = insertSorted(joinable.value.IDs, meeting.ID, joinable.dirty)
		} else {
			joinable.value.IDs, joinable.dirty = removeSorted(joinable.value.IDs, meeting.ID, joinable.dirty)
		}
	}

	for _, participant := range changes.Participants {
		if err := s.participants.StageSave(ctx, txn, s.kb.ParticipantKey(participant.Address), participant, participant.Revision); err != nil {
			return err
		}
	}

	for _, registration := range changes.PutRegistrations {
		key := s.kb.RegistrationKey(registration.MeetingID, registration.Participant)
		if err := s.registrations.StagePut(ctx, txn, key, registration); err != nil {
			return err
		}
		if err := s.indexRegistration(ctx, idSets, addressSets, registration.MeetingID, registration.Participant, true); err != nil {
			return err
		}
	}

	for _, removed := range changes.DeleteRegistrations {
		key := s.kb.RegistrationKey(removed.MeetingID, removed.Participant)
		if err := s.registrations.StageDelete(ctx, txn, key); err != nil {
			return err
		}
		if err := s.indexRegistration(ctx, idSets, addressSets, removed.MeetingID, removed.Participant, false); err != nil {
			return err
		}
	}

	for _, permission := range changes.PutDelegations {
		if err := s.delegations.StagePut(ctx, txn, s.kb.DelegationKey(permission.Grantor, permission.Trustee), permission); err != nil {
			return err
		}
		trustees, err := addressSets.load(ctx, s.kb.TrusteesIndexKey(permission.Grantor))
		if err != nil {
			return err
		}
		trustees.value.Addresses, trustees.dirty = insertSorted(trustees.value.Addresses, permission.Trustee, trustees.dirty)
	}

	for _, revoked := range changes.DeleteDelegations {
		if err := s.delegations.StageDelete(ctx, txn, s.kb.DelegationKey(revoked.Grantor, revoked.Trustee)); err != nil {
			return err
		}
		trustees, err := addressSets.load(ctx, s.kb.TrusteesIndexKey(revoked.Grantor))
		if err != nil {
			return err
		}
		trustees.value.Addresses, trustees.dirty = removeSorted(trustees.value.Addresses, revoked.Trustee, trustees.dirty)
	}

	for i := range changes.EscrowAccounts {
		account := changes.EscrowAccounts[i]
		if err := s.escrow.StageSave(ctx, txn, s.kb.EscrowKey(account.MeetingID), &account, account.Revision); err != nil {
			return err
		}
	}

	for _, refund := range changes.PutPendingRefunds {
		if err := s.pending.StageSave(ctx, txn, s.kb.PendingRefundKey(refund.MeetingID, refund.Participant), refund, refund.Revision); err != nil {
			return err
		}
	}

	for _, claimed := range changes.DeletePendingRefunds {
		if err := s.pending.StageDeleteAt(ctx, txn, s.kb.PendingRefundKey(claimed.MeetingID, claimed.Participant), claimed.Revision); err != nil {
			return err
		}
	}

	if err := idSets.flush(ctx, txn); err != nil {
		return err
	}
	if err := addressSets.flush(ctx, txn); err != nil {
		return err
	}
	return sequence.flush(ctx, txn)
}

func (s *NatsLedgerStore) indexRegistration(ctx context.Context, idSets *docStage[meetingIDSet], addressSets *docStage[addressSet],
	meetingID uint64, participant models.Address, add bool) error {
	meetings, err := idSets.load(ctx, s.kb.ParticipantMeetingsIndexKey(participant))
	if err != nil {
		return err
	}
	registrants, err := addressSets.load(ctx, s.kb.MeetingRegistrantsIndexKey(meetingID))
	if err != nil {
		return err
	}

	if add {
		meetings.value.IDs, meetings.dirty = insertSorted(meetings.value.IDs, meetingID, meetings.dirty)
		registrants.value.Addresses, registrants.dirty = insertSorted(registrants.value.Addresses, participant, registrants.dirty)
		return nil
	}
	meetings.value.IDs, meetings.dirty = removeSorted(meetings.value.IDs, meetingID, meetings.dirty)
	registrants.value.Addresses, registrants.dirty = removeSorted(registrants.value.Addresses, participant, registrants.dirty)
	return nil
}

// stagedDoc is an index document read once per commit and written back when dirty.
type stagedDoc[T any] struct {
	value    *T
	revision uint64
	dirty    bool
}

type docStage[T any] struct {
	repo *NatsBaseRepository[T]
	docs map[string]*stagedDoc[T]
}

func newDocStage[T any](repo *NatsBaseRepository[T]) *docStage[T] {
	return &docStage[T]{repo: repo, docs: make(map[string]*stagedDoc[T])}
}

func (d *docStage[T]) load(ctx context.Context, key string) (*stagedDoc[T], error) {
	if doc, ok := d.docs[key]; ok {
		return doc, nil
	}

	value, revision, err := d.repo.Find(ctx, key)
	if err != nil {
		return nil, err
	}

	doc := &stagedDoc[T]{value: value, revision: revision}
	if value == nil {
		doc.value = new(T)
	}
	d.docs[key] = doc
	return doc, nil
}

func (d *docStage[T]) flush(ctx context.Context, txn *kvTxn) error {
	keys := make([]string, 0, len(d.docs))
	for key, doc := range d.docs {
		if doc.dirty {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	for _, key := range keys {
		doc := d.docs[key]
		if err := d.repo.StageSave(ctx, txn, key, doc.value, doc.revision); err != nil {
			return err
		}
	}
	return nil
}

// insertSorted adds v to the ascending slice s when absent.
func insertSorted[E cmp.Ordered](s []E, v E, dirty bool) ([]E, bool) {
	i, found := slices.BinarySearch(s, v)
	if found {
		return s, dirty
	}
	return slices.Insert(s, i, v), true
}

// removeSorted drops v from the ascending slice s when present.
func removeSorted[E cmp.Ordered](s []E, v E, dirty bool) ([]E, bool) {
	i, found := slices.BinarySearch(s, v)
	if !found {
		return s, dirty
	}
	return slices.Delete(s, i, i+1), true
}
