// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

const tracerName = "github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/postgres"

// uniqueViolation is the SQLSTATE of a primary key collision.
const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Ping(ctx context.Context) error
}

// Store implements domain.LedgerStore on PostgreSQL. Every Commit is one transaction.
// Writers from every replica serialize on a session advisory lock, and guarded rows
// are updated only at the version they were read at.
type Store struct {
	db DB
}

var _ domain.LedgerStore = (*Store)(nil)

// NewStore creates a Store over a migrated database.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// IsReady pings the database.
func (s *Store) IsReady(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const meetingColumns = `id, kind, organizer, title, description, start_time, end_time,
	max_participants, current_participants, registration_fee, requires_sign_up,
	is_active, created_at, cancelled_at`

// versionedMeetingColumns is meetingColumns plus the row version.
const versionedMeetingColumns = meetingColumns + `, version`

func (s *Store) GetMeeting(ctx context.Context, meetingID uint64) (*models.Meeting, error) {
	row := s.db.QueryRow(ctx, `SELECT `+versionedMeetingColumns+` FROM meetings WHERE id = $1`, int64(meetingID))
	meeting, err := scanMeeting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return meeting, nil
}

func (s *Store) CountMeetings(ctx context.Context) (uint64, error) {
	var last int64
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM meetings`).Scan(&last); err != nil {
		return 0, fmt.Errorf("count meetings: %w", err)
	}
	return uint64(last), nil
}

// NextMeetingID peeks at the next id. A writer that takes it first makes Commit fail with a conflict.
func (s *Store) NextMeetingID(ctx context.Context) (uint64, error) {
	count, err := s.CountMeetings(ctx)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

func (s *Store) ListJoinableMeetingIDs(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM meetings
		WHERE is_active AND current_participants < max_participants
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list joinable meetings: %w", err)
	}
	return collectIDs(rows, "list joinable meetings")
}

func (s *Store) GetParticipant(ctx context.Context, address models.Address) (*models.Participant, error) {
	var (
		participant models.Participant
		signedUpAt  *time.Time
		version     int64
	)
	err := s.db.QueryRow(ctx, `SELECT address, name, is_registered, signed_up_at, version
		FROM participants WHERE address = $1`, string(address)).
		Scan(&participant.Address, &participant.Name, &participant.IsRegistered, &signedUpAt, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	participant.SignedUpAt = utcPtr(signedUpAt)
	participant.Revision = uint64(version)
	return &participant, nil
}

const registrationColumns = `meeting_id, participant, registered_by, paid_amount, refunded, registered_at`

func (s *Store) GetRegistration(ctx context.Context, meetingID uint64, participant models.Address) (*models.Registration, error) {
	row := s.db.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations
		WHERE meeting_id = $1 AND participant = $2`, int64(meetingID), string(participant))
	registration, err := scanRegistration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return registration, nil
}

func (s *Store) ListRegistrations(ctx context.Context, meetingID uint64) ([]*models.Registration, error) {
	rows, err := s.db.Query(ctx, `SELECT `+registrationColumns+` FROM registrations
		WHERE meeting_id = $1 ORDER BY participant`, int64(meetingID))
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	registrations := []*models.Registration{}
	for rows.Next() {
		registration, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("list registrations: %w", err)
		}
		registrations = append(registrations, registration)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return registrations, nil
}

func (s *Store) ListParticipantMeetingIDs(ctx context.Context, participant models.Address) ([]uint64, error) {
	rows, err := s.db.Query(ctx, `SELECT meeting_id FROM registrations
		WHERE participant = $1 ORDER BY meeting_id`, string(participant))
	if err != nil {
		return nil, fmt.Errorf("list participant meetings: %w", err)
	}
	return collectIDs(rows, "list participant meetings")
}

func (s *Store) HasDelegation(ctx context.Context, grantor, trustee models.Address) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM delegations WHERE grantor = $1 AND trustee = $2)`,
		string(grantor), string(trustee)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has delegation: %w", err)
	}
	return exists, nil
}

func (s *Store) ListTrustees(ctx context.Context, grantor models.Address) ([]models.Address, error) {
	rows, err := s.db.Query(ctx, `SELECT trustee FROM delegations
		WHERE grantor = $1 ORDER BY trustee`, string(grantor))
	if err != nil {
		return nil, fmt.Errorf("list trustees: %w", err)
	}
	trustees, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list trustees: %w", err)
	}
	addresses := make([]models.Address, len(trustees))
	for i, trustee := range trustees {
		addresses[i] = models.Address(trustee)
	}
	return addresses, nil
}

func (s *Store) GetEscrow(ctx context.Context, meetingID uint64) (models.EscrowAccount, error) {
	account := models.EscrowAccount{MeetingID: meetingID}
	var (
		balance pgtype.Numeric
		version int64
	)
	err := s.db.QueryRow(ctx, `SELECT balance, version FROM escrow_accounts WHERE meeting_id = $1`,
		int64(meetingID)).Scan(&balance, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return account, nil
	}
	if err != nil {
		return models.EscrowAccount{}, fmt.Errorf("get escrow: %w", err)
	}
	if account.Balance, err = amountFromNumeric(balance); err != nil {
		return models.EscrowAccount{}, err
	}
	account.Revision = uint64(version)
	return account, nil
}

func (s *Store) GetPendingRefund(ctx context.Context, meetingID uint64, participant models.Address) (*models.PendingRefund, error) {
	var (
		refund models.PendingRefund
		id      int64
		amount  pgtype.Numeric
		version int64
	)
	err := s.db.QueryRow(ctx, `SELECT meeting_id, participant, amount, reason, failed_at, version
		FROM pending_refunds WHERE meeting_id = $1 AND participant = $2`,
		int64(meetingID), string(participant)).
		Scan(&id, &refund.Participant, &amount, &refund.Reason, &refund.FailedAt, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending refund: %w", err)
	}
	refund.MeetingID = uint64(id)
	refund.FailedAt = refund.FailedAt.UTC()
	refund.Revision = uint64(version)
	if refund.Amount, err = amountFromNumeric(amount); err != nil {
		return nil, err
	}
	return &refund, nil
}

// Lock takes the ledger-wide advisory lock on a dedicated connection.
// The lock is a session lock, so it is held until released or until the connection dies.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, domain.NewUnavailableError("no connection for the ledger write lock", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, constants.PostgresWriteLockKey); err != nil {
		conn.Release()
		return nil, domain.NewUnavailableError("ledger write lock not acquired", err)
	}

	return func() {
		ctx := context.WithoutCancel(ctx)
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, constants.PostgresWriteLockKey); err != nil {
			slog.WarnContext(ctx, "failed to release the ledger write lock, dropping its connection", logging.ErrKey, err)
			if closeErr := conn.Conn().Close(ctx); closeErr != nil {
				slog.ErrorContext(ctx, "failed to close the ledger write lock connection", logging.ErrKey, closeErr)
			}
		}
		conn.Release()
	}, nil
}

// Commit applies the changeset in one transaction.
func (s *Store) Commit(ctx context.Context, changes *models.Changeset) (err error) {
	if changes.IsEmpty() {
		return nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "postgres.commit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "commit"),
			attribute.Int("ledger.meetings", len(changes.Meetings)),
			attribute.Int("ledger.registrations", len(changes.PutRegistrations)+len(changes.DeleteRegistrations)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.NewUnavailableError("failed to begin ledger transaction", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.ErrorContext(ctx, "failed to roll back ledger transaction",
				logging.ErrKey, rbErr, logging.PriorityCritical())
		}
	}()

	batch, guarded := buildBatch(changes)
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return commitError(err)
		}
		if guarded[i] != "" && tag.RowsAffected() == 0 {
			_ = results.Close()
			return domain.NewConflictError(fmt.Sprintf("%s has been modified", guarded[i]), domain.ErrStaleRecord)
		}
	}
	if err := results.Close(); err != nil {
		return commitError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return commitError(err)
	}
	return nil
}

// ledgerBatch queues statements and remembers which ones are guarded by a row version.
type ledgerBatch struct {
	pgx.Batch
	guarded []string
}

func (b *ledgerBatch) queue(sql string, args ...any) {
	b.Queue(sql, args...)
	b.guarded = append(b.guarded, "")
}

// queueGuarded queues a statement that must affect exactly one row.
func (b *ledgerBatch) queueGuarded(entity, sql string, args ...any) {
	b.Queue(sql, args...)
	b.guarded = append(b.guarded, entity)
}

// buildBatch turns a changeset into statements. A zero revision inserts and collides
// with any existing row; any other revision updates only the row still at that version.
func buildBatch(changes *models.Changeset) (*pgx.Batch, []string) {
	b := &ledgerBatch{}

	for _, m := range changes.Meetings {
		if m.Revision == 0 {
			b.queue(`INSERT INTO meetings (`+meetingColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				int64(m.ID), string(m.Kind), string(m.Organizer), m.Title, m.Description,
				nullTime(m.StartTime), nullTime(m.EndTime),
				int64(m.MaxParticipants), int64(m.CurrentParticipants), numeric(m.RegistrationFee),
				m.RequiresSignUp, m.IsActive, m.CreatedAt, m.CancelledAt)
			continue
		}
		b.queueGuarded("meeting", `UPDATE meetings SET
				title = $2,
				description = $3,
				max_participants = $4,
				current_participants = $5,
				registration_fee = $6,
				is_active = $7,
				cancelled_at = $8,
				version = version + 1
			WHERE id = $1 AND version = $9`,
			int64(m.ID), m.Title, m.Description, int64(m.MaxParticipants), int64(m.CurrentParticipants),
			numeric(m.RegistrationFee), m.IsActive, m.CancelledAt, int64(m.Revision))
	}

	for _, p := range changes.Participants {
		if p.Revision == 0 {
			b.queue(`INSERT INTO participants (address, name, is_registered, signed_up_at)
				VALUES ($1, $2, $3, $4)`,
				string(p.Address), p.Name, p.IsRegistered, p.SignedUpAt)
			continue
		}
		b.queueGuarded("participant", `UPDATE participants SET
				name = $2,
				is_registered = $3,
				signed_up_at = $4,
				version = version + 1
			WHERE address = $1 AND version = $5`,
			string(p.Address), p.Name, p.IsRegistered, p.SignedUpAt, int64(p.Revision))
	}

	for _, r := range changes.PutRegistrations {
		b.queue(`INSERT INTO registrations (`+registrationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (meeting_id, participant) DO UPDATE SET
				registered_by = EXCLUDED.registered_by,
				paid_amount = EXCLUDED.paid_amount,
				refunded = EXCLUDED.refunded,
				registered_at = EXCLUDED.registered_at`,
			int64(r.MeetingID), string(r.Participant), string(r.RegisteredBy),
			numeric(r.PaidAmount), r.Refunded, r.RegisteredAt)
	}

	for _, key := range changes.DeleteRegistrations {
		b.queue(`DELETE FROM registrations WHERE meeting_id = $1 AND participant = $2`,
			int64(key.MeetingID), string(key.Participant))
	}

	for _, d := range changes.PutDelegations {
		b.queue(`INSERT INTO delegations (grantor, trustee, granted_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (grantor, trustee) DO UPDATE SET granted_at = EXCLUDED.granted_at`,
			string(d.Grantor), string(d.Trustee), d.GrantedAt)
	}

	for _, key := range changes.DeleteDelegations {
		b.queue(`DELETE FROM delegations WHERE grantor = $1 AND trustee = $2`,
			string(key.Grantor), string(key.Trustee))
	}

	for _, account := range changes.EscrowAccounts {
		if account.Revision == 0 {
			b.queue(`INSERT INTO escrow_accounts (meeting_id, balance) VALUES ($1, $2)`,
				int64(account.MeetingID), numeric(account.Balance))
			continue
		}
		b.queueGuarded("escrow account", `UPDATE escrow_accounts SET balance = $2, version = version + 1
			WHERE meeting_id = $1 AND version = $3`,
			int64(account.MeetingID), numeric(account.Balance), int64(account.Revision))
	}

	for _, r := range changes.PutPendingRefunds {
		if r.Revision == 0 {
			b.queue(`INSERT INTO pending_refunds (meeting_id, participant, amount, reason, failed_at)
				VALUES ($1, $2, $3, $4, $5)`,
				int64(r.MeetingID), string(r.Participant), numeric(r.Amount), r.Reason, r.FailedAt)
			continue
		}
		b.queueGuarded("pending refund", `UPDATE pending_refunds SET
				amount = $3,
				reason = $4,
				failed_at = $5,
				version = version + 1
			WHERE meeting_id = $1 AND participant = $2 AND version = $6`,
			int64(r.MeetingID), string(r.Participant), numeric(r.Amount), r.Reason, r.FailedAt, int64(r.Revision))
	}

	for _, r := range changes.DeletePendingRefunds {
		b.queueGuarded("pending refund", `DELETE FROM pending_refunds
			WHERE meeting_id = $1 AND participant = $2 AND version = $3`,
			int64(r.MeetingID), string(r.Participant), int64(r.Revision))
	}

	return &b.Batch, b.guarded
}

func commitError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.NewConflictError("ledger record was modified concurrently", domain.ErrStaleRecord, err)
	}
	return domain.NewInternalError("failed to commit ledger changes", err)
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var (
		m                 models.Meeting
		id, maxP, current int64
		kind, organizer   string
		start, end        *time.Time
		fee               pgtype.Numeric
		cancelledAt       *time.Time
		version           int64
	)
	err := row.Scan(&id, &kind, &organizer, &m.Title, &m.Description, &start, &end,
		&maxP, &current, &fee, &m.RequiresSignUp, &m.IsActive, &m.CreatedAt, &cancelledAt, &version)
	if err != nil {
		return nil, err
	}

	m.ID = uint64(id)
	m.Kind = models.MeetingKind(kind)
	m.Organizer = models.Address(organizer)
	if start != nil {
		m.StartTime = start.UTC()
	}
	if end != nil {
		m.EndTime = end.UTC()
	}
	m.MaxParticipants = uint32(maxP)
	m.CurrentParticipants = uint32(current)
	m.CreatedAt = m.CreatedAt.UTC()
	m.CancelledAt = utcPtr(cancelledAt)
	m.Revision = uint64(version)
	if m.RegistrationFee, err = amountFromNumeric(fee); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var (
		r    models.Registration
		id   int64
		paid pgtype.Numeric
	)
	if err := row.Scan(&id, &r.Participant, &r.RegisteredBy, &paid, &r.Refunded, &r.RegisteredAt); err != nil {
		return nil, err
	}
	r.MeetingID = uint64(id)
	r.RegisteredAt = r.RegisteredAt.UTC()

	var err error
	if r.PaidAmount, err = amountFromNumeric(paid); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectIDs(rows pgx.Rows, operation string) ([]uint64, error) {
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out, nil
}

func numeric(a models.Amount) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(uint64(a)), Valid: true}
}

func amountFromNumeric(n pgtype.Numeric) (models.Amount, error) {
	if !n.Valid || n.Int == nil {
		return 0, nil
	}

	value := new(big.Int).Set(n.Int)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs(n.Exp))), nil)
	if n.Exp > 0 {
		value.Mul(value, scale)
	} else if n.Exp < 0 {
		value.Quo(value, scale)
	}

	if !value.IsUint64() {
		return 0, domain.NewInternalError(fmt.Sprintf("stored amount %s is out of range", value))
	}
	return models.Amount(value.Uint64()), nil
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
