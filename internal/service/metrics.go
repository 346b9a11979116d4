// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
)

const meterName = "github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/service"

type ledgerMetrics struct {
	registrations  metric.Int64Counter
	refunds        metric.Int64Counter
	refundFailures metric.Int64Counter
}

// newLedgerMetrics registers the counters on the global meter provider.
// An instrument that cannot be created falls back to a no-op counter.
func newLedgerMetrics() *ledgerMetrics {
	meter := otel.Meter(meterName)
	return &ledgerMetrics{
		registrations:  counter(meter, "ledger.registrations", "Admitted registrations"),
		refunds:        counter(meter, "ledger.refunds", "Completed refund transfers"),
		refundFailures: counter(meter, "ledger.refund_failures", "Refund transfers kept as pending refunds"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit("{count}"))
	if err != nil {
		slog.Warn("failed to create metric counter", logging.ErrKey, err, "name", name)
		return noop.Int64Counter{}
	}
	return c
}

func (m *ledgerMetrics) registered(ctx context.Context, meeting *models.Meeting, delegated bool) {
	m.registrations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("meeting.kind", string(meeting.Kind)),
		attribute.Bool("registration.delegated", delegated),
	))
}

func (m *ledgerMetrics) refunded(ctx context.Context, pending bool) {
	if pending {
		m.refundFailures.Add(ctx, 1)
		return
	}
	m.refunds.Add(ctx, 1)
}
