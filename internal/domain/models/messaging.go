// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"time"
)

// EventType names a ledger state transition.
type EventType string

// Ledger events, one per state transition.
const (
	EventMeetingCreated        EventType = "meeting_created"
	EventMeetingFull           EventType = "meeting_full"
	EventMeetingCancelled      EventType = "meeting_cancelled"
	EventRegistrationSucceeded EventType = "registration_succeeded"
	EventConferenceJoined      EventType = "conference_joined"
	EventRegistrationCancelled EventType = "registration_cancelled"
	EventDelegateRegistration  EventType = "delegate_registration"
	EventParticipantRegistered EventType = "participant_registered"
	EventPermissionGranted     EventType = "permission_granted"
	EventPermissionRevoked     EventType = "permission_revoked"
	EventRefundFailed          EventType = "refund_failed"
)

// LedgerEvent is the payload delivered to subscribers. It carries enough of the
// changed record for a subscriber to update its view without querying back.
type LedgerEvent struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	MeetingID       uint64    `json:"meeting_id,omitempty"`
	Participant     Address   `json:"participant,omitempty"`
	Trustee         Address   `json:"trustee,omitempty"`
	Grantor         Address   `json:"grantor,omitempty"`
	Title           string    `json:"title,omitempty"`
	Name            string    `json:"name,omitempty"`
	MaxParticipants uint32    `json:"max_participants,omitempty"`
	Amount          Amount    `json:"amount,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Subject returns the NATS subject the event is published on.
func (e LedgerEvent) Subject() string {
	return EventSubjectPrefix + string(e.Type)
}

// NATS subjects that the ledger service sends messages about.
const (
	// EventSubjectPrefix prefixes every event subject.
	// The subject is of the form: lfx.meeting-ledger.event.<type>
	EventSubjectPrefix = "lfx.meeting-ledger.event."

	// PayoutSubject is the subject refund transfers are requested on.
	// The subject is of the form: lfx.meeting-ledger.payout
	PayoutSubject = "lfx.meeting-ledger.payout"
)

// PayoutRequest is the body of a refund transfer request.
type PayoutRequest struct {
	TransferID string  `json:"transfer_id"`
	To         Address `json:"to"`
	Amount     Amount  `json:"amount"`
}

// NATS wildcard subjects that the ledger service handles messages about.
const (
	// LedgerAPIQueue is the queue group of the ledger API.
	// The subject is of the form: lfx.meeting-ledger.queue
	LedgerAPIQueue = "lfx.meeting-ledger.queue"

	// LedgerAPISubjectPrefix prefixes every request/reply operation.
	LedgerAPISubjectPrefix = "lfx.meeting-ledger.api."

	// LedgerAPIWildcardSubject subscribes to every operation.
	LedgerAPIWildcardSubject = LedgerAPISubjectPrefix + "*"
)

// NATS specific subjects that the ledger service handles messages about.
const (
	CreateMeetingSubject      = LedgerAPISubjectPrefix + "create_meeting"
	NewConferenceSubject      = LedgerAPISubjectPrefix + "new_conference"
	GetMeetingSubject         = LedgerAPISubjectPrefix + "get_meeting"
	GetConferenceInfoSubject  = LedgerAPISubjectPrefix + "get_conference_info"
	TotalMeetingsSubject      = LedgerAPISubjectPrefix + "total_meetings"
	QueryConfListSubject      = LedgerAPISubjectPrefix + "query_conf_list"
	RegisterSubject           = LedgerAPISubjectPrefix + "register"
	DelegateRegisterSubject   = LedgerAPISubjectPrefix + "delegate_register"
	CancelRegistrationSubject = LedgerAPISubjectPrefix + "cancel_registration"
	CancelMeetingSubject      = LedgerAPISubjectPrefix + "cancel_meeting"
	GrantPermissionSubject    = LedgerAPISubjectPrefix + "grant_permission"
	RevokePermissionSubject   = LedgerAPISubjectPrefix + "revoke_permission"
	DelegateSubject           = LedgerAPISubjectPrefix + "delegate"
	HasPermissionSubject      = LedgerAPISubjectPrefix + "has_permission"
	ListTrusteesSubject       = LedgerAPISubjectPrefix + "list_trustees"
	SignUpSubject             = LedgerAPISubjectPrefix + "sign_up"
	GetParticipantSubject     = LedgerAPISubjectPrefix + "get_participant"
	IsRegisteredSubject       = LedgerAPISubjectPrefix + "is_registered"
	UserMeetingsSubject       = LedgerAPISubjectPrefix + "user_meetings"
	EscrowBalanceSubject      = LedgerAPISubjectPrefix + "escrow_balance"
	WithdrawRefundSubject     = LedgerAPISubjectPrefix + "withdraw_refund"
)
