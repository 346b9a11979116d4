// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

// Message represents a domain message interface
type Message interface {
	Subject() string
	Data() []byte
	Header(key string) string
	Respond(data []byte) error
	HasReply() bool
}

// MessageHandler defines how the service handles incoming messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandlerReady() bool
}

// EventPublisher delivers ledger events to observers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.LedgerEvent) error
}

// FundTransferer moves refunded fees out of escrow to a participant.
type FundTransferer interface {
	Transfer(ctx context.Context, to models.Address, amount models.Amount) error
}
