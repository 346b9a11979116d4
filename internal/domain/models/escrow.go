// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"time"
)

// EscrowAccount holds the fees of the active registrations of a meeting.
// A meeting without an account reads as a zero balance at revision zero.
type EscrowAccount struct {
	MeetingID uint64 `json:"meeting_id" msgpack:"meeting_id"`
	Balance   Amount `json:"balance" msgpack:"balance"`
	Revision  uint64 `json:"-" msgpack:"-"`
}

// PendingRefund is a refund whose transfer failed and can be withdrawn later.
type PendingRefund struct {
	MeetingID   uint64    `json:"meeting_id" msgpack:"meeting_id"`
	Participant Address   `json:"participant" msgpack:"participant"`
	Amount      Amount    `json:"amount" msgpack:"amount"`
	Reason      string    `json:"reason,omitempty" msgpack:"reason,omitempty"`
	FailedAt    time.Time `json:"failed_at" msgpack:"failed_at"`
	Revision    uint64    `json:"-" msgpack:"-"`
}

// Refund is the receipt of a refund attempt.
type Refund struct {
	MeetingID   uint64  `json:"meeting_id"`
	Participant Address `json:"participant"`
	Amount      Amount  `json:"amount"`
	// Pending is set when the transfer failed and the amount was kept as a pending refund.
	Pending bool `json:"pending"`
}

// CancellationReport summarizes the mass refund of an organizer cancellation.
type CancellationReport struct {
	MeetingID      uint64          `json:"meeting_id"`
	Refunded       int             `json:"refunded"`
	RefundedAmount Amount          `json:"refunded_amount"`
	Pending        []PendingRefund `json:"pending,omitempty"`
}
