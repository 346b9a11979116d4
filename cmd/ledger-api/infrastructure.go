// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/handlers"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/eventbus"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/memory"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/messaging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/postgres"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/store"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/wallet"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

const gracefulShutdownSeconds = 25

// readinessCheck reports whether a dependency can serve traffic.
type readinessCheck func(ctx context.Context) error

// setupNATS connects to NATS. The connection close handler releases gracefulCloseWG
// during shutdown and signals done when the connection is lost otherwise.
func setupNATS(ctx context.Context, env environment, gracefulCloseWG *sync.WaitGroup, done chan os.Signal) (*nats.Conn, error) {
	gracefulCloseWG.Add(1)
	natsConn, err := nats.Connect(
		env.NatsURL,
		nats.Name(constants.ServiceName),
		nats.Timeout(env.NatsTimeout),
		nats.MaxReconnects(env.NatsMaxReconnect),
		nats.ReconnectWait(env.NatsReconnectWait),
		nats.DrainTimeout(gracefulShutdownSeconds*time.Second),
		nats.ConnectHandler(func(_ *nats.Conn) {
			slog.With("nats_url", env.NatsURL).Info("NATS connection established")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			if s != nil {
				slog.With(logging.ErrKey, err, "subject", s.Subject, "queue", s.Queue).Error("async NATS error")
			} else {
				slog.With(logging.ErrKey, err).Error("async NATS error outside subscription")
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if ctx.Err() != nil {
				// Expected during graceful shutdown.
				gracefulCloseWG.Done()
				return
			}
			slog.Error("NATS connection closed unexpectedly")
			gracefulCloseWG.Done()
			done <- os.Interrupt
		}),
	)
	if err != nil {
		gracefulCloseWG.Done()
		return nil, fmt.Errorf("connect to NATS at %s: %w", env.NatsURL, err)
	}
	return natsConn, nil
}

// getLedgerBuckets creates or binds the JetStream key-value buckets of the ledger store.
func getLedgerBuckets(ctx context.Context, natsConn *nats.Conn) (store.NatsLedgerBuckets, error) {
	js, err := jetstream.New(natsConn)
	if err != nil {
		return store.NatsLedgerBuckets{}, fmt.Errorf("create JetStream client: %w", err)
	}

	bucket := func(name, description string) (jetstream.KeyValue, error) {
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      name,
			Description: description,
			History:     1,
		})
		if err != nil {
			return nil, fmt.Errorf("bind key-value bucket %s: %w", name, err)
		}
		slog.DebugContext(ctx, "key-value bucket ready", "bucket", name)
		return kv, nil
	}

	var buckets store.NatsLedgerBuckets
	for _, b := range []struct {
		target      *store.INatsKeyValue
		name        string
		description string
	}{
		{&buckets.Meetings, constants.KVBucketNameMeetings, "meeting and conference records"},
		{&buckets.Participants, constants.KVBucketNameParticipants, "participant directory"},
		{&buckets.Registrations, constants.KVBucketNameRegistrations, "meeting registrations"},
		{&buckets.Delegations, constants.KVBucketNameDelegations, "delegate permissions"},
		{&buckets.Escrow, constants.KVBucketNameEscrow, "escrow balances and pending refunds"},
		{&buckets.Index, constants.KVBucketNameIndex, "secondary indexes and the meeting id sequence"},
	} {
		kv, err := bucket(b.name, b.description)
		if err != nil {
			return store.NatsLedgerBuckets{}, err
		}
		*b.target = kv
	}
	return buckets, nil
}

// setupStore builds the ledger store selected by STORE_BACKEND. The returned
// close function releases backend resources.
func setupStore(ctx context.Context, env environment, natsConn *nats.Conn) (domain.LedgerStore, readinessCheck, func(), error) {
	noop := func() {}

	switch env.StoreBackend {
	case storeBackendMemory:
		slog.WarnContext(ctx, "using the in-memory ledger store, state is lost on restart")
		return memory.NewStore(), nil, noop, nil

	case storeBackendPostgres:
		if err := postgres.RunMigrations(ctx, env.DatabaseURL); err != nil {
			return nil, nil, noop, err
		}
		pool, err := postgres.NewPool(ctx, env.DatabaseURL)
		if err != nil {
			return nil, nil, noop, err
		}
		pgStore := postgres.NewStore(pool)
		return pgStore, pgStore.IsReady, pool.Close, nil

	default:
		codec, err := store.CodecByName(env.StoreCodec)
		if err != nil {
			return nil, nil, noop, err
		}
		buckets, err := getLedgerBuckets(ctx, natsConn)
		if err != nil {
			return nil, nil, noop, err
		}
		slog.InfoContext(ctx, "using the NATS key-value ledger store", "codec", codec.Name())
		return store.NewNatsLedgerStore(buckets, codec), nil, noop, nil
	}
}

// setupTransferer builds the refund transfer backend selected by PAYOUT_BACKEND.
func setupTransferer(ctx context.Context, env environment, natsConn *nats.Conn) domain.FundTransferer {
	if env.PayoutBackend == payoutBackendWallet {
		slog.WarnContext(ctx, "using the in-process wallet, refunds are not paid out")
		return wallet.NewLedger()
	}
	return messaging.NewPayoutSender(natsConn, env.PayoutTimeout)
}

// setupPublisher publishes events on NATS and to the in-process broker.
func setupPublisher(natsConn *nats.Conn, broker *eventbus.Broker) domain.EventPublisher {
	return eventbus.Fanout{
		messaging.NewEventPublisher(natsConn),
		broker,
	}
}

// auditEvents logs every event delivered to the in-process broker until ctx is done.
func auditEvents(ctx context.Context, broker *eventbus.Broker, gracefulCloseWG *sync.WaitGroup) {
	sub := broker.Subscribe()
	gracefulCloseWG.Add(1)
	go func() {
		defer gracefulCloseWG.Done()
		defer broker.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events:
				if !ok {
					return
				}
				slog.InfoContext(ctx, "ledger event",
					"event_id", event.ID,
					"event_type", string(event.Type),
					"meeting_id", event.MeetingID,
				)
			}
		}
	}()
}

// createNatsSubscriptions subscribes the ledger API to every operation subject.
func createNatsSubscriptions(ctx context.Context, handler *handlers.LedgerHandler, natsConn *nats.Conn) error {
	slog.InfoContext(ctx, "subscribing to ledger API", "subject", models.LedgerAPIWildcardSubject, "queue", models.LedgerAPIQueue)

	_, err := natsConn.QueueSubscribe(models.LedgerAPIWildcardSubject, models.LedgerAPIQueue, func(msg *nats.Msg) {
		handler.HandleMessage(ctx, messaging.NewNatsMessage(msg))
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", models.LedgerAPIWildcardSubject, err)
	}
	return nil
}
