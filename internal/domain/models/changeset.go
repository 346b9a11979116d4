// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

// Changeset is the unit of work committed by a LedgerStore: either every write is applied or none is.
//
// Meetings, participants, escrow accounts and pending refunds carry the Revision they were
// read at. A store rejects the whole changeset with a conflict when any of them changed
// since, and a zero Revision only creates a record that does not exist yet.
type Changeset struct {
	Meetings             []*Meeting
	Participants         []*Participant
	PutRegistrations     []*Registration
	DeleteRegistrations  []RegistrationKey
	PutDelegations       []*DelegatePermission
	DeleteDelegations    []DelegationKey
	EscrowAccounts       []EscrowAccount
	PutPendingRefunds    []*PendingRefund
	DeletePendingRefunds []*PendingRefund
}

// PutMeeting stages a meeting record write.
func (c *Changeset) PutMeeting(m *Meeting) *Changeset {
	c.Meetings = append(c.Meetings, m)
	return c
}

// PutParticipant stages a directory entry write.
func (c *Changeset) PutParticipant(p *Participant) *Changeset {
	c.Participants = append(c.Participants, p)
	return c
}

// PutRegistration stages a registration write.
func (c *Changeset) PutRegistration(r *Registration) *Changeset {
	c.PutRegistrations = append(c.PutRegistrations, r)
	return c
}

// DeleteRegistration stages the removal of a registration.
func (c *Changeset) DeleteRegistration(meetingID uint64, participant Address) *Changeset {
	c.DeleteRegistrations = append(c.DeleteRegistrations, RegistrationKey{MeetingID: meetingID, Participant: participant})
	return c
}

// PutDelegation stages a delegate permission write.
func (c *Changeset) PutDelegation(p *DelegatePermission) *Changeset {
	c.PutDelegations = append(c.PutDelegations, p)
	return c
}

// DeleteDelegation stages the removal of a delegate permission.
func (c *Changeset) DeleteDelegation(grantor, trustee Address) *Changeset {
	c.DeleteDelegations = append(c.DeleteDelegations, DelegationKey{Grantor: grantor, Trustee: trustee})
	return c
}

// SetEscrow stages a new balance for account, guarded by the revision it was read at.
func (c *Changeset) SetEscrow(account EscrowAccount, balance Amount) *Changeset {
	account.Balance = balance
	c.EscrowAccounts = append(c.EscrowAccounts, account)
	return c
}

// PutPendingRefund stages a pending refund write.
func (c *Changeset) PutPendingRefund(r *PendingRefund) *Changeset {
	c.PutPendingRefunds = append(c.PutPendingRefunds, r)
	return c
}

// DeletePendingRefund stages the removal of a pending refund at the revision it was read at.
func (c *Changeset) DeletePendingRefund(r *PendingRefund) *Changeset {
	c.DeletePendingRefunds = append(c.DeletePendingRefunds, r)
	return c
}

// IsEmpty reports whether the changeset stages no write.
func (c *Changeset) IsEmpty() bool {
	return c == nil ||
		len(c.Meetings) == 0 &&
			len(c.Participants) == 0 &&
			len(c.PutRegistrations) == 0 &&
			len(c.DeleteRegistrations) == 0 &&
			len(c.PutDelegations) == 0 &&
			len(c.DeleteDelegations) == 0 &&
			len(c.EscrowAccounts) == 0 &&
			len(c.PutPendingRefunds) == 0 &&
			len(c.DeletePendingRefunds) == 0
}
