// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "message only",
			err:      NewValidationError("bad request"),
			expected: "bad request",
		},
		{
			name:     "wrapped sentinel",
			err:      NewConflictError("cannot register", ErrMeetingFull),
			expected: "cannot register: meeting is full",
		},
		{
			name:     "joined errors",
			err:      NewInternalError("store failed", errors.New("a"), errors.New("b")),
			expected: "store failed: a\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"validation", NewValidationError("x"), ErrorTypeValidation},
		{"not found", NewNotFoundError("x"), ErrorTypeNotFound},
		{"conflict", NewConflictError("x"), ErrorTypeConflict},
		{"unauthorized", NewUnauthorizedError("x"), ErrorTypeUnauthorized},
		{"payment", NewPaymentError("x"), ErrorTypePayment},
		{"unavailable", NewUnavailableError("x"), ErrorTypeUnavailable},
		{"wrapped with fmt", fmt.Errorf("outer: %w", NewPaymentError("x")), ErrorTypePayment},
		{"plain error falls back to internal", errors.New("boom"), ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorType(tt.err))
		})
	}
}

func TestDomainError_IsSentinel(t *testing.T) {
	err := NewUnauthorizedError("delegate register rejected", ErrNoDelegationPermission)

	assert.ErrorIs(t, err, ErrNoDelegationPermission)
	assert.NotErrorIs(t, err, ErrNotOrganizer)
}

func TestErrorType_String(t *testing.T) {
	assert.Equal(t, "validation", ErrorTypeValidation.String())
	assert.Equal(t, "not_found", ErrorTypeNotFound.String())
	assert.Equal(t, "conflict", ErrorTypeConflict.String())
	assert.Equal(t, "unauthorized", ErrorTypeUnauthorized.String())
	assert.Equal(t, "payment", ErrorTypePayment.String())
	assert.Equal(t, "unavailable", ErrorTypeUnavailable.String())
	assert.Equal(t, "internal", ErrorTypeInternal.String())
	assert.Equal(t, "internal", ErrorType(42).String())
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidTimeRange, ErrInvalidCapacity, ErrEmptyName, ErrInvalidAddress, ErrSelfDelegation,
		ErrNotAdministrator, ErrNotOrganizer, ErrNoDelegationPermission, ErrNotRegisteredParticipant,
		ErrMeetingNotFound, ErrNoPendingRefund,
		ErrAlreadyRegistered, ErrParticipantAlreadyRegistered, ErrMeetingFull, ErrMeetingInactive,
		ErrMeetingStarted, ErrNotRegistered, ErrAlreadyCancelled, ErrInsufficientFee,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %q matches %q", a, b)
			}
		}
	}
}
