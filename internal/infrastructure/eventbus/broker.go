// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package eventbus delivers ledger events to in-process observers.
package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

// Subscription receives every event published after it was created.
type Subscription struct {
	ID     string
	Events <-chan models.LedgerEvent

	ch       chan models.LedgerEvent
	done     chan struct{}
	stopOnce sync.Once
}

// stop releases publishers waiting on this observer.
func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Broker is an observer list. Every observer gets every event in publish order:
// Publish waits for room in a full observer until the observer leaves or ctx is done.
type Broker struct {
	mu          sync.RWMutex
	buffer      int
	subscribers map[string]*Subscription
}

var _ domain.EventPublisher = (*Broker)(nil)

// NewBroker creates a Broker. A non-positive buffer uses constants.DefaultEventBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = constants.DefaultEventBuffer
	}
	return &Broker{
		buffer:      buffer,
		subscribers: make(map[string]*Subscription),
	}
}

// Subscribe registers a new observer.
func (b *Broker) Subscribe() *Subscription {
	ch := make(chan models.LedgerEvent, b.buffer)
	sub := &Subscription{ID: uuid.NewString(), Events: ch, ch: ch, done: make(chan struct{})}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the observer and closes its channel. Unknown subscriptions are ignored.
func (b *Broker) Unsubscribe(sub *Subscription) {
	sub.stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub.ID]; !ok {
		return
	}
	delete(b.subscribers, sub.ID)
	close(sub.ch)
}

// Publish hands the event to every observer. It returns ctx.Err() when ctx ends
// before a full observer made room; observers already served keep the event.
func (b *Broker) Publish(ctx context.Context, event models.LedgerEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		slog.DebugContext(ctx, "event observer is full, waiting",
			"subscription_id", id,
			"event_type", event.Type,
		)
		select {
		case sub.ch <- event:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close unsubscribes every observer.
func (b *Broker) Close() {
	b.mu.RLock()
	for _, sub := range b.subscribers {
		sub.stop()
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Fanout publishes each event to several publishers. Every publisher is tried.
type Fanout []domain.EventPublisher

var _ domain.EventPublisher = Fanout(nil)

// Publish returns the joined errors of the publishers that failed.
func (f Fanout) Publish(ctx context.Context, event models.LedgerEvent) error {
	var errs []error
	for _, publisher := range f {
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
