// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeset_IsEmpty(t *testing.T) {
	var nilChanges *Changeset
	assert.True(t, nilChanges.IsEmpty())
	assert.True(t, (&Changeset{}).IsEmpty())

	changes := &Changeset{}
	changes.SetEscrow(EscrowAccount{MeetingID: 1}, 0)
	assert.False(t, changes.IsEmpty())
}

func TestChangeset_Builders(t *testing.T) {
	changes := &Changeset{}
	changes.
		PutMeeting(&Meeting{ID: 1}).
		PutRegistration(&Registration{MeetingID: 1, Participant: "alice"}).
		DeleteRegistration(1, "bob").
		PutDelegation(&DelegatePermission{Grantor: "alice", Trustee: "bob"}).
		DeleteDelegation("alice", "carol").
		PutPendingRefund(&PendingRefund{MeetingID: 1, Participant: "dave"}).
		DeletePendingRefund(&PendingRefund{MeetingID: 1, Participant: "erin", Revision: 4})

	assert.Len(t, changes.Meetings, 1)
	assert.Equal(t, []RegistrationKey{{MeetingID: 1, Participant: "bob"}}, changes.DeleteRegistrations)
	assert.Equal(t, []DelegationKey{{Grantor: "alice", Trustee: "carol"}}, changes.DeleteDelegations)
	require.Len(t, changes.DeletePendingRefunds, 1)
	assert.Equal(t, uint64(4), changes.DeletePendingRefunds[0].Revision)
	assert.Len(t, changes.PutPendingRefunds, 1)
}

func TestChangeset_SetEscrowKeepsTheReadRevision(t *testing.T) {
	changes := (&Changeset{}).SetEscrow(EscrowAccount{MeetingID: 3, Balance: 10, Revision: 7}, 25)

	assert.Equal(t, []EscrowAccount{{MeetingID: 3, Balance: 25, Revision: 7}}, changes.EscrowAccounts)
}

func TestLedgerEvent_Subject(t *testing.T) {
	event := LedgerEvent{Type: EventMeetingFull}
	assert.Equal(t, "lfx.meeting-ledger.event.meeting_full", event.Subject())
}
