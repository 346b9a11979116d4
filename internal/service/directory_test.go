// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

func TestLedgerService_SignUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.SignUp(ctx, "alice", "   ")
	assertDomainError(t, err, domain.ErrEmptyName, domain.ErrorTypeValidation)

	participant, err := h.svc.SignUp(ctx, "Alice", "  Alice Liddell ")
	require.NoError(t, err)
	assert.Equal(t, models.Address("alice"), participant.Address)
	assert.Equal(t, "Alice Liddell", participant.Name)
	assert.True(t, participant.IsRegistered)
	require.NotNil(t, participant.SignedUpAt)
	assert.Equal(t, h.now, *participant.SignedUpAt)

	events := h.drain()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventParticipantRegistered, events[0].Type)
	assert.Equal(t, "Alice Liddell", events[0].Name)

	_, err = h.svc.SignUp(ctx, "alice", "Again")
	assertDomainError(t, err, domain.ErrParticipantAlreadyRegistered, domain.ErrorTypeConflict)

	stored, err := h.svc.GetParticipantInfo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", stored.Name, "sign up is set once")
}

func TestLedgerService_GetParticipantInfo_Unknown(t *testing.T) {
	h := newHarness(t)

	participant, err := h.svc.GetParticipantInfo(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, &models.Participant{Address: "nobody"}, participant)
}
