// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

// payoutAccepted is the reply body of a successful payout.
var payoutAccepted = []byte("ok")

// PayoutSender transfers refunds by asking a payout service over NATS request/reply.
type PayoutSender struct {
	NatsConn INatsConn
	Timeout  time.Duration
}

var _ domain.FundTransferer = (*PayoutSender)(nil)

// NewPayoutSender creates a PayoutSender. A zero timeout uses constants.DefaultPayoutTimeout.
func NewPayoutSender(natsConn INatsConn, timeout time.Duration) *PayoutSender {
	if timeout <= 0 {
		timeout = constants.DefaultPayoutTimeout
	}
	return &PayoutSender{
		NatsConn: natsConn,
		Timeout:  timeout,
	}
}

// Transfer requests a payout of amount to the participant. Any reply other than "ok" is a failure.
func (s *PayoutSender) Transfer(ctx context.Context, to models.Address, amount models.Amount) error {
	if !s.NatsConn.IsConnected() {
		return domain.NewUnavailableError("NATS connection is not available")
	}

	request := models.PayoutRequest{
		TransferID: uuid.NewString(),
		To:         to,
		Amount:     amount,
	}
	data, err := json.Marshal(request)
	if err != nil {
		return domain.NewInternalError("failed to marshal payout request", err)
	}

	timeout := s.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	reply, err := s.NatsConn.Request(models.PayoutSubject, data, timeout)
	if err != nil {
		slog.ErrorContext(ctx, "payout request failed", logging.ErrKey, err,
			"transfer_id", request.TransferID,
			"participant", to,
		)
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrConnectionClosed) {
			return domain.NewUnavailableError("payout service unavailable", err)
		}
		return domain.NewInternalError("payout request failed", err)
	}

	if body := bytes.TrimSpace(reply.Data); !bytes.Equal(body, payoutAccepted) {
		return domain.NewInternalError(fmt.Sprintf("payout %s rejected: %s", request.TransferID, body))
	}

	slog.DebugContext(ctx, "payout accepted", "transfer_id", request.TransferID, "amount", amount)
	return nil
}
