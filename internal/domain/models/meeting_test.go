// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestMeeting_HasStarted(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	meeting := &Meeting{StartTime: start, EndTime: start.Add(time.Hour)}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "before start", now: start.Add(-time.Second), want: false},
		{name: "exactly at start", now: start, want: true},
		{name: "after start", now: start.Add(time.Minute), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, meeting.HasStarted(tt.now))
		})
	}
}

func TestMeeting_HasStarted_NoWindow(t *testing.T) {
	conference := &Meeting{Kind: MeetingKindConference}
	assert.False(t, conference.HasTimeWindow())
	assert.False(t, conference.HasStarted(time.Now()))
}

func TestMeeting_Joinable(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		meeting Meeting
		listed  bool
		want    bool
	}{
		{
			name:    "active with free seats",
			meeting: Meeting{IsActive: true, MaxParticipants: 2, CurrentParticipants: 1, StartTime: future},
			listed:  true,
			want:    true,
		},
		{
			name:    "full",
			meeting: Meeting{IsActive: true, MaxParticipants: 2, CurrentParticipants: 2, StartTime: future},
			listed:  false,
			want:    false,
		},
		{
			name:    "cancelled",
			meeting: Meeting{IsActive: false, MaxParticipants: 2, StartTime: future},
			listed:  false,
			want:    false,
		},
		{
			name:    "started but not full stays listed",
			meeting: Meeting{IsActive: true, MaxParticipants: 2, StartTime: now.Add(-time.Minute)},
			listed:  true,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.listed, tt.meeting.Listed())
			assert.Equal(t, tt.want, tt.meeting.Joinable(now))
		})
	}
}

func TestConferenceInfoFrom(t *testing.T) {
	t.Run("unknown meeting reads as zero value", func(t *testing.T) {
		assert.Equal(t, ConferenceInfo{}, ConferenceInfoFrom(nil))
	})

	t.Run("full conference", func(t *testing.T) {
		info := ConferenceInfoFrom(&Meeting{Title: "GopherCon", MaxParticipants: 1, CurrentParticipants: 1})
		assert.Equal(t, ConferenceInfo{Name: "GopherCon", MaxParticipants: 1, CurrentParticipants: 1, IsFull: true}, info)
	})
}

func TestMeeting_Serialization(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	meeting := Meeting{
		ID:              7,
		Kind:            MeetingKindMeeting,
		Organizer:       "0xabc",
		Title:           "Design review",
		StartTime:       now.Add(time.Hour),
		EndTime:         now.Add(2 * time.Hour),
		MaxParticipants: 10,
		RegistrationFee: 100,
		IsActive:        true,
		CreatedAt:       now,
	}

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(meeting)
		require.NoError(t, err)

		var decoded Meeting
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, meeting.ID, decoded.ID)
		assert.True(t, meeting.StartTime.Equal(decoded.StartTime))
		assert.Equal(t, meeting.RegistrationFee, decoded.RegistrationFee)
	})

	t.Run("msgpack", func(t *testing.T) {
		data, err := msgpack.Marshal(meeting)
		require.NoError(t, err)

		var decoded Meeting
		require.NoError(t, msgpack.Unmarshal(data, &decoded))
		assert.Equal(t, meeting.Title, decoded.Title)
		assert.True(t, meeting.EndTime.Equal(decoded.EndTime))
	})

	t.Run("conference omits time window", func(t *testing.T) {
		data, err := json.Marshal(Meeting{ID: 1, Kind: MeetingKindConference, Title: "Conf"})
		require.NoError(t, err)
		assert.NotContains(t, string(data), "start_time")
	})
}
