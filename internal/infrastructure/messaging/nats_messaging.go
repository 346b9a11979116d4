// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package messaging carries ledger traffic over NATS.
package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

// INatsConn is the subset of *nats.Conn used by the publishers.
type INatsConn interface {
	IsConnected() bool
	PublishMsg(msg *nats.Msg) error
	Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error)
}

// EventPublisher publishes ledger events on lfx.meeting-ledger.event.<type>.
type EventPublisher struct {
	NatsConn INatsConn
}

var _ domain.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(natsConn INatsConn) *EventPublisher {
	return &EventPublisher{
		NatsConn: natsConn,
	}
}

// Publish sends the event as a JSON body. The request id and principal of ctx travel as headers.
func (p *EventPublisher) Publish(ctx context.Context, event models.LedgerEvent) error {
	if !p.NatsConn.IsConnected() {
		return domain.NewUnavailableError("NATS connection is not available")
	}

	data, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "error marshalling event into JSON", logging.ErrKey, err, "event_type", event.Type)
		return domain.NewInternalError("failed to marshal ledger event", err)
	}

	return p.sendMessage(ctx, event.Subject(), data)
}

// sendMessage sends the message to the NATS server.
func (p *EventPublisher) sendMessage(ctx context.Context, subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if requestID, ok := ctx.Value(constants.RequestIDContextID).(string); ok && requestID != "" {
		msg.Header.Set(constants.RequestIDHeader, requestID)
	}
	if principal, ok := ctx.Value(constants.PrincipalContextID).(string); ok && principal != "" {
		msg.Header.Set(constants.XOnBehalfOfHeader, principal)
	}

	if err := p.NatsConn.PublishMsg(msg); err != nil {
		slog.ErrorContext(ctx, "error sending message to NATS", logging.ErrKey, err, "subject", subject)
		return err
	}
	slog.DebugContext(ctx, "sent message to NATS", "subject", subject)
	return nil
}
