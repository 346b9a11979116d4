// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

func TestBroker_DeliversInOrder(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker(4)
	first := broker.Subscribe()
	second := broker.Subscribe()

	require.NoError(t, broker.Publish(ctx, models.LedgerEvent{Type: models.EventMeetingCreated, MeetingID: 1}))
	require.NoError(t, broker.Publish(ctx, models.LedgerEvent{Type: models.EventMeetingFull, MeetingID: 1}))

	for _, sub := range []*Subscription{first, second} {
		assert.Equal(t, models.EventMeetingCreated, (<-sub.Events).Type)
		assert.Equal(t, models.EventMeetingFull, (<-sub.Events).Type)
	}
}

func TestBroker_FullObserverGetsEveryEvent(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker(1)
	sub := broker.Subscribe()

	types := []models.EventType{
		models.EventMeetingCreated,
		models.EventRegistrationSucceeded,
		models.EventConferenceJoined,
		models.EventMeetingFull,
		models.EventMeetingCancelled,
	}
	published := make(chan error, 1)
	go func() {
		for _, eventType := range types {
			if err := broker.Publish(ctx, models.LedgerEvent{Type: eventType}); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	for _, want := range types {
		select {
		case event := <-sub.Events:
			assert.Equal(t, want, event.Type)
		case <-time.After(5 * time.Second):
			t.Fatalf("event %s was not delivered", want)
		}
	}
	require.NoError(t, <-published)
}

func TestBroker_PublishStopsWhenContextEnds(t *testing.T) {
	broker := NewBroker(1)
	sub := broker.Subscribe()
	require.NoError(t, broker.Publish(context.Background(), models.LedgerEvent{Type: models.EventMeetingCreated}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := broker.Publish(ctx, models.LedgerEvent{Type: models.EventMeetingFull})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, models.EventMeetingCreated, (<-sub.Events).Type)
	assert.Empty(t, sub.Events)
}

func TestBroker_UnsubscribeReleasesWaitingPublisher(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker(1)
	sub := broker.Subscribe()
	require.NoError(t, broker.Publish(ctx, models.LedgerEvent{Type: models.EventMeetingCreated}))

	published := make(chan error, 1)
	go func() {
		published <- broker.Publish(ctx, models.LedgerEvent{Type: models.EventMeetingFull})
	}()

	// Give the publisher time to start waiting on the full observer
	time.Sleep(20 * time.Millisecond)
	broker.Unsubscribe(sub)

	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher still waits on a departed observer")
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	broker := NewBroker(0)
	sub := broker.Subscribe()
	assert.Equal(t, constants.DefaultEventBuffer, cap(sub.Events))

	broker.Unsubscribe(sub)
	_, open := <-sub.Events
	assert.False(t, open)

	// A second unsubscribe must not close the channel again
	assert.NotPanics(t, func() { broker.Unsubscribe(sub) })
	require.NoError(t, broker.Publish(context.Background(), models.LedgerEvent{Type: models.EventMeetingCreated}))
}

func TestBroker_Close(t *testing.T) {
	broker := NewBroker(1)
	a, b := broker.Subscribe(), broker.Subscribe()
	broker.Close()

	for _, sub := range []*Subscription{a, b} {
		_, open := <-sub.Events
		assert.False(t, open)
	}
}

func TestFanout_Publish(t *testing.T) {
	event := models.LedgerEvent{Type: models.EventPermissionGranted, Grantor: "alice", Trustee: "bob"}

	failing := new(domain.MockEventPublisher)
	failing.On("Publish", mock.Anything, event).Return(errors.New("nats down"))
	broker := NewBroker(1)
	sub := broker.Subscribe()

	err := Fanout{failing, broker}.Publish(context.Background(), event)
	assert.EqualError(t, err, "nats down")
	assert.Equal(t, event, <-sub.Events, "a failing publisher does not stop the others")
	failing.AssertExpectations(t)

	assert.NoError(t, Fanout{}.Publish(context.Background(), event))
}
