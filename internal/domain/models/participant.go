// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"time"
)

// Participant is a directory entry created by sign up.
type Participant struct {
	Address      Address    `json:"address" msgpack:"address"`
	Name         string     `json:"name" msgpack:"name"`
	IsRegistered bool       `json:"is_registered" msgpack:"is_registered"`
	SignedUpAt   *time.Time `json:"signed_up_at,omitempty" msgpack:"signed_up_at,omitempty"`
	Revision     uint64     `json:"-" msgpack:"-"`
}

// Registration is the membership of a participant in a meeting.
type Registration struct {
	MeetingID    uint64    `json:"meeting_id" msgpack:"meeting_id"`
	Participant  Address   `json:"participant" msgpack:"participant"`
	RegisteredBy Address   `json:"registered_by" msgpack:"registered_by"`
	PaidAmount   Amount    `json:"paid_amount" msgpack:"paid_amount"`
	Refunded     bool      `json:"refunded" msgpack:"refunded"`
	RegisteredAt time.Time `json:"registered_at" msgpack:"registered_at"`
}

// Delegated reports whether a trustee registered the participant.
func (r *Registration) Delegated() bool {
	return r.RegisteredBy != "" && r.RegisteredBy != r.Participant
}

// RegistrationKey identifies a registration.
type RegistrationKey struct {
	MeetingID   uint64  `json:"meeting_id" msgpack:"meeting_id"`
	Participant Address `json:"participant" msgpack:"participant"`
}

// DelegatePermission allows Trustee to register on behalf of Grantor.
type DelegatePermission struct {
	Grantor   Address   `json:"grantor" msgpack:"grantor"`
	Trustee   Address   `json:"trustee" msgpack:"trustee"`
	GrantedAt time.Time `json:"granted_at" msgpack:"granted_at"`
}

// DelegationKey identifies a delegate permission.
type DelegationKey struct {
	Grantor Address `json:"grantor" msgpack:"grantor"`
	Trustee Address `json:"trustee" msgpack:"trustee"`
}
