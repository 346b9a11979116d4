// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
)

func (s *LedgerService) newEvent(eventType models.EventType, fill func(*models.LedgerEvent)) models.LedgerEvent {
	event := models.LedgerEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: s.now(),
	}
	if fill != nil {
		fill(&event)
	}
	return event
}

// notify publishes events in order. Publisher failures are logged, never returned.
func (s *LedgerService) notify(ctx context.Context, events []models.LedgerEvent) {
	for _, event := range events {
		if err := s.Publisher.Publish(ctx, event); err != nil {
			slog.WarnContext(ctx, "failed to publish ledger event",
				logging.ErrKey, err,
				"event_id", event.ID,
				"event_type", event.Type,
				"meeting_id", event.MeetingID,
			)
		}
	}
}
