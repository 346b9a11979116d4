// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation name for the store package.
const tracerName = "github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/store"

// INatsKeyValue is the subset of jetstream.KeyValue used by the ledger store.
// It allows for mocking in tests.
type INatsKeyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(context.Context, string, []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Update(context.Context, string, []byte, uint64) (uint64, error)
	Delete(context.Context, string, ...jetstream.KVDeleteOpt) error
}

// NatsBaseRepository provides common NATS KV operations that can be reused across all record types
type NatsBaseRepository[T any] struct {
	kvStore    INatsKeyValue
	codec      Codec
	entityName string // Used in error messages (e.g., "meeting", "registration")
}

// NewNatsBaseRepository creates a new base repository for NATS KV operations
func NewNatsBaseRepository[T any](kvStore INatsKeyValue, entityName string, codec Codec) *NatsBaseRepository[T] {
	if codec == nil {
		codec = JSONCodec
	}
	return &NatsBaseRepository[T]{
		kvStore:    kvStore,
		codec:      codec,
		entityName: entityName,
	}
}

// IsReady checks if the repository is ready for use
func (r *NatsBaseRepository[T]) IsReady() bool {
	return r.kvStore != nil
}

func (r *NatsBaseRepository[T]) startSpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "nats.kv."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "nats"),
			attribute.String("db.operation", operation),
			attribute.String("db.nats.key", key),
			attribute.String("db.nats.entity", r.entityName),
			attribute.String("db.nats.codec", r.codec.Name()),
		),
	)
}

func recordSpanError(span trace.Span, err error, description string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, description)
}

// GetRaw retrieves a raw entry from NATS KV store
func (r *NatsBaseRepository[T]) GetRaw(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	ctx, span := r.startSpan(ctx, "get", key)
	defer span.End()

	if !r.IsReady() {
		err := domain.NewUnavailableError(fmt.Sprintf("%s repository is not available", r.entityName))
		recordSpanError(span, err, err.Error())
		return nil, err
	}

	entry, err := r.kvStore.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			err = domain.NewNotFoundError(
				fmt.Sprintf("%s with key '%s' not found", r.entityName, key), err)
			recordSpanError(span, err, "not found")
			return nil, err
		}
		slog.ErrorContext(ctx, fmt.Sprintf("error getting %s from NATS KV", r.entityName),
			logging.ErrKey, err, "key", key)
		err = domain.NewInternalError(
			fmt.Sprintf("failed to retrieve %s from store", r.entityName), err)
		recordSpanError(span, err, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return entry, nil
}

// GetWithRevision retrieves an entity with its revision from NATS KV store
func (r *NatsBaseRepository[T]) GetWithRevision(ctx context.Context, key string) (*T, uint64, error) {
	entry, err := r.GetRaw(ctx, key)
	if err != nil {
		return nil, 0, err
	}

	entity, err := r.Unmarshal(ctx, entry.Value())
	if err != nil {
		return nil, 0, domain.NewInternalError(
			fmt.Sprintf("failed to unmarshal %s data", r.entityName), err)
	}

	return entity, entry.Revision(), nil
}

// Find is GetWithRevision with a missing key reported as a nil entity instead of an error
func (r *NatsBaseRepository[T]) Find(ctx context.Context, key string) (*T, uint64, error) {
	entity, revision, err := r.GetWithRevision(ctx, key)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return entity, revision, nil
}

// Exists checks if an entity exists in the store
func (r *NatsBaseRepository[T]) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.GetRaw(ctx, key)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Unmarshal decodes a stored value into the entity type
func (r *NatsBaseRepository[T]) Unmarshal(ctx context.Context, data []byte) (*T, error) {
	var entity T
	if err := r.codec.Unmarshal(data, &entity); err != nil {
		slog.ErrorContext(ctx, fmt.Sprintf("error unmarshaling %s", r.entityName),
			logging.ErrKey, err, "codec", r.codec.Name())
		return nil, err
	}

	return &entity, nil
}

// Marshal encodes an entity with the repository codec
func (r *NatsBaseRepository[T]) Marshal(ctx context.Context, entity *T) ([]byte, error) {
	data, err := r.codec.Marshal(entity)
	if err != nil {
		slog.ErrorContext(ctx, fmt.Sprintf("error marshaling %s", r.entityName),
			logging.ErrKey, err, "codec", r.codec.Name())
		return nil, err
	}

	return data, nil
}

// StagePut writes an entity as part of txn
func (r *NatsBaseRepository[T]) StagePut(ctx context.Context, txn *kvTxn, key string, entity *T) error {
	return r.stage(ctx, "put", key, 0, entity, func(data []byte) error {
		return txn.put(ctx, r.kvStore, key, data)
	})
}

// StageCreate writes an entity that must not exist yet as part of txn
func (r *NatsBaseRepository[T]) StageCreate(ctx context.Context, txn *kvTxn, key string, entity *T) error {
	return r.stage(ctx, "create", key, 0, entity, func(data []byte) error {
		return txn.create(ctx, r.kvStore, key, data)
	})
}

// StageUpdate writes an entity with optimistic concurrency control as part of txn
func (r *NatsBaseRepository[T]) StageUpdate(ctx context.Context, txn *kvTxn, key string, entity *T, revision uint64) error {
	return r.stage(ctx, "update", key, revision, entity, func(data []byte) error {
		return txn.update(ctx, r.kvStore, key, data, revision)
	})
}

// StageSave writes an entity read at revision as part of txn. A zero revision creates it.
func (r *NatsBaseRepository[T]) StageSave(ctx context.Context, txn *kvTxn, key string, entity *T, revision uint64) error {
	if revision == 0 {
		return r.StageCreate(ctx, txn, key, entity)
	}
	return r.StageUpdate(ctx, txn, key, entity, revision)
}

// Save writes an entity read at revision outside of any txn and returns the new revision.
// A zero revision creates it.
func (r *NatsBaseRepository[T]) Save(ctx context.Context, key string, entity *T, revision uint64) (uint64, error) {
	var written uint64
	err := r.stage(ctx, "save", key, revision, entity, func(data []byte) error {
		var err error
		if revision == 0 {
			written, err = r.kvStore.Create(ctx, key, data)
		} else {
			written, err = r.kvStore.Update(ctx, key, data, revision)
		}
		return err
	})
	return written, err
}

func (r *NatsBaseRepository[T]) stage(ctx context.Context, operation, key string, revision uint64, entity *T, write func([]byte) error) error {
	ctx, span := r.startSpan(ctx, operation, key)
	if revision != 0 {
		span.SetAttributes(attribute.Int64("db.nats.revision", int64(revision)))
	}
	defer span.End()

	if !r.IsReady() {
		err := domain.NewUnavailableError(fmt.Sprintf("%s repository is not available", r.entityName))
		recordSpanError(span, err, err.Error())
		return err
	}

	data, err := r.Marshal(ctx, entity)
	if err != nil {
		err = domain.NewInternalError(fmt.Sprintf("failed to marshal %s", r.entityName), err)
		recordSpanError(span, err, err.Error())
		return err
	}

	if err := write(data); err != nil {
		err = r.writeError(ctx, err, operation, key, revision)
		recordSpanError(span, err, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// StageDelete removes an entity as part of txn. Deleting a missing key is a no-op.
func (r *NatsBaseRepository[T]) StageDelete(ctx context.Context, txn *kvTxn, key string) error {
	return r.stageDelete(ctx, "delete", key, 0, func() error {
		return txn.delete(ctx, r.kvStore, key)
	})
}

// StageDeleteAt removes an entity read at revision as part of txn
func (r *NatsBaseRepository[T]) StageDeleteAt(ctx context.Context, txn *kvTxn, key string, revision uint64) error {
	return r.stageDelete(ctx, "delete", key, revision, func() error {
		return txn.deleteAt(ctx, r.kvStore, key, revision)
	})
}

func (r *NatsBaseRepository[T]) stageDelete(ctx context.Context, operation, key string, revision uint64, remove func() error) error {
	ctx, span := r.startSpan(ctx, operation, key)
	if revision != 0 {
		span.SetAttributes(attribute.Int64("db.nats.revision", int64(revision)))
	}
	defer span.End()

	if !r.IsReady() {
		err := domain.NewUnavailableError(fmt.Sprintf("%s repository is not available", r.entityName))
		recordSpanError(span, err, err.Error())
		return err
	}

	if err := remove(); err != nil {
		err = r.writeError(ctx, err, operation, key, revision)
		recordSpanError(span, err, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// writeError maps a failed write to a domain error. Revision mismatches are conflicts.
func (r *NatsBaseRepository[T]) writeError(ctx context.Context, err error, operation, key string, revision uint64) error {
	switch {
	case errors.Is(err, jetstream.ErrKeyExists), errors.Is(err, errRevisionMismatch),
		strings.Contains(err.Error(), "wrong last sequence"):
		return domain.NewConflictError(fmt.Sprintf("%s has been modified", r.entityName), domain.ErrStaleRecord, err)
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return domain.NewNotFoundError(fmt.Sprintf("%s not found", r.entityName), err)
	}

	slog.ErrorContext(ctx, fmt.Sprintf("error writing %s to NATS KV", r.entityName),
		logging.ErrKey, err, "operation", operation, "key", key, "revision", revision)
	return domain.NewInternalError(fmt.Sprintf("failed to %s %s in store", operation, r.entityName), err)
}

// errRevisionMismatch reports a guarded write whose key moved past the revision it was read at.
var errRevisionMismatch = errors.New("revision mismatch")

// kvWrite is the undo record of one applied write.
type kvWrite struct {
	kv       INatsKeyValue
	key      string
	previous []byte
	existed  bool
}

// kvTxn applies writes immediately and remembers how to revert them.
// NATS KV has no multi-key transaction; a failed commit is undone in reverse order.
type kvTxn struct {
	undo []kvWrite
}

func snapshot(ctx context.Context, kv INatsKeyValue, key string) ([]byte, uint64, bool, error) {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}
	return entry.Value(), entry.Revision(), true, nil
}

func (t *kvTxn) record(kv INatsKeyValue, key string, previous []byte, existed bool) {
	t.undo = append(t.undo, kvWrite{kv: kv, key: key, previous: previous, existed: existed})
}

func (t *kvTxn) put(ctx context.Context, kv INatsKeyValue, key string, data []byte) error {
	previous, _, existed, err := snapshot(ctx, kv, key)
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return err
	}
	t.record(kv, key, previous, existed)
	return nil
}

func (t *kvTxn) create(ctx context.Context, kv INatsKeyValue, key string, data []byte) error {
	if _, err := kv.Create(ctx, key, data); err != nil {
		return err
	}
	t.record(kv, key, nil, false)
	return nil
}

func (t *kvTxn) update(ctx context.Context, kv INatsKeyValue, key string, data []byte, revision uint64) error {
	previous, _, existed, err := snapshot(ctx, kv, key)
	if err != nil {
		return err
	}
	if _, err := kv.Update(ctx, key, data, revision); err != nil {
		return err
	}
	t.record(kv, key, previous, existed)
	return nil
}

func (t *kvTxn) delete(ctx context.Context, kv INatsKeyValue, key string) error {
	previous, _, existed, err := snapshot(ctx, kv, key)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	if err := kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return err
	}
	t.record(kv, key, previous, existed)
	return nil
}

func (t *kvTxn) deleteAt(ctx context.Context, kv INatsKeyValue, key string, revision uint64) error {
	previous, current, existed, err := snapshot(ctx, kv, key)
	if err != nil {
		return err
	}
	if !existed || current != revision {
		return fmt.Errorf("%w: %s is at %d, read at %d", errRevisionMismatch, key, current, revision)
	}
	if err := kv.Delete(ctx, key, jetstream.LastRevision(revision)); err != nil {
		return err
	}
	t.record(kv, key, previous, existed)
	return nil
}

// rollback reverts every applied write, newest first.
func (t *kvTxn) rollback(ctx context.Context) error {
	var errs error
	for i := len(t.undo) - 1; i >= 0; i-- {
		w := t.undo[i]
		if w.existed {
			if _, err := w.kv.Put(ctx, w.key, w.previous); err != nil {
				errs = errors.Join(errs, fmt.Errorf("restore %s: %w", w.key, err))
			}
			continue
		}
		if err := w.kv.Delete(ctx, w.key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			errs = errors.Join(errs, fmt.Errorf("remove %s: %w", w.key, err))
		}
	}
	t.undo = nil
	return errs
}
