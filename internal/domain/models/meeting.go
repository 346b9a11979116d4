// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"time"
)

// MeetingKind distinguishes the fee-bearing meeting from the count-only conference.
type MeetingKind string

const (
	// MeetingKindMeeting is a fee-bearing meeting with a time window, open to any organizer.
	MeetingKindMeeting MeetingKind = "meeting"
	// MeetingKindConference is an administrator-created conference with no fee and no time window.
	MeetingKindConference MeetingKind = "conference"
)

// Meeting is the store representation of a meeting or conference record.
// Records are never deleted; cancellation only flips IsActive.
type Meeting struct {
	ID                  uint64      `json:"id" msgpack:"id"`
	Kind                MeetingKind `json:"kind" msgpack:"kind"`
	Organizer           Address     `json:"organizer" msgpack:"organizer"`
	Title               string      `json:"title" msgpack:"title"`
	Description         string      `json:"description,omitempty" msgpack:"description,omitempty"`
	StartTime           time.Time   `json:"start_time,omitzero" msgpack:"start_time"`
	EndTime             time.Time   `json:"end_time,omitzero" msgpack:"end_time"`
	MaxParticipants     uint32      `json:"max_participants" msgpack:"max_participants"`
	CurrentParticipants uint32      `json:"current_participants" msgpack:"current_participants"`
	RegistrationFee     Amount      `json:"registration_fee" msgpack:"registration_fee"`
	RequiresSignUp      bool        `json:"requires_sign_up" msgpack:"requires_sign_up"`
	IsActive            bool        `json:"is_active" msgpack:"is_active"`
	CreatedAt           time.Time   `json:"created_at" msgpack:"created_at"`
	CancelledAt         *time.Time  `json:"cancelled_at,omitempty" msgpack:"cancelled_at,omitempty"`

	// Revision is assigned by the store on read. Zero means the record was never stored.
	Revision uint64 `json:"-" msgpack:"-"`
}

// HasTimeWindow reports whether the meeting is bounded by a start time.
func (m *Meeting) HasTimeWindow() bool {
	return !m.StartTime.IsZero()
}

// HasStarted reports whether the meeting start time has been reached at now.
// Meetings without a time window never start.
func (m *Meeting) HasStarted(now time.Time) bool {
	if !m.HasTimeWindow() {
		return false
	}
	return !now.Before(m.StartTime)
}

// IsFull reports whether every seat has been taken.
func (m *Meeting) IsFull() bool {
	return m.CurrentParticipants >= m.MaxParticipants
}

// IsFree reports whether registration requires no payment.
func (m *Meeting) IsFree() bool {
	return m.RegistrationFee == 0
}

// Listed reports whether the meeting belongs in the joinable index.
// The index ignores time, starting is evaluated on read.
func (m *Meeting) Listed() bool {
	return m.IsActive && !m.IsFull()
}

// Joinable reports whether a registration could currently be admitted.
func (m *Meeting) Joinable(now time.Time) bool {
	return m.Listed() && !m.HasStarted(now)
}

// ConferenceInfo is the read model of a conference. Unknown ids read as the zero value.
type ConferenceInfo struct {
	Name                string `json:"name"`
	MaxParticipants     uint32 `json:"max_participants"`
	CurrentParticipants uint32 `json:"current_participants"`
	IsFull              bool   `json:"is_full"`
}

// ConferenceInfoFrom builds the conference read model of a meeting record.
func ConferenceInfoFrom(m *Meeting) ConferenceInfo {
	if m == nil {
		return ConferenceInfo{}
	}
	return ConferenceInfo{
		Name:                m.Title,
		MaxParticipants:     m.MaxParticipants,
		CurrentParticipants: m.CurrentParticipants,
		IsFull:              m.IsFull(),
	}
}

// CreateMeetingRequest carries the organizer supplied fields of a new fee-bearing meeting.
type CreateMeetingRequest struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	MaxParticipants uint32    `json:"max_participants"`
	RegistrationFee Amount    `json:"registration_fee"`
}
