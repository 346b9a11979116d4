// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import "errors"

// ErrorType represents the semantic category of an error
type ErrorType int

const (
	ErrorTypeValidation   ErrorType = iota // Caller-supplied data is malformed
	ErrorTypeNotFound                      // Resource not found
	ErrorTypeConflict                      // Operation conflicts with current record state
	ErrorTypeUnauthorized                  // Caller lacks the required role
	ErrorTypePayment                       // Attached payment does not match the fee
	ErrorTypeInternal                      // Internal errors
	ErrorTypeUnavailable                   // Backing service unavailable
)

// String returns the wire name of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeConflict:
		return "conflict"
	case ErrorTypeUnauthorized:
		return "unauthorized"
	case ErrorTypePayment:
		return "payment"
	case ErrorTypeUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Ledger conditions. They are always returned wrapped in a *DomainError, use errors.Is to match them.
var (
	// Validation
	ErrInvalidTimeRange = errors.New("start time must be in the future and before the end time")
	ErrInvalidCapacity  = errors.New("max participants must be greater than zero")
	ErrEmptyName        = errors.New("name cannot be empty")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrSelfDelegation   = errors.New("cannot delegate to self")

	// Authorization
	ErrNotAdministrator         = errors.New("only administrator can perform this action")
	ErrNotOrganizer             = errors.New("only organizer can cancel")
	ErrNoDelegationPermission   = errors.New("no delegation permission")
	ErrNotRegisteredParticipant = errors.New("participant must be registered first")

	// Not found
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrNoPendingRefund = errors.New("no pending refund")

	// State conflict
	ErrAlreadyRegistered            = errors.New("already registered")
	ErrParticipantAlreadyRegistered = errors.New("user already registered")
	ErrMeetingFull                  = errors.New("meeting is full")
	ErrMeetingInactive              = errors.New("meeting is not active")
	ErrMeetingStarted               = errors.New("meeting has already started")
	ErrNotRegistered                = errors.New("not registered for this meeting")
	ErrAlreadyCancelled             = errors.New("meeting already cancelled")
	ErrStaleRecord                  = errors.New("record changed since it was read")

	// Payment
	ErrInsufficientFee = errors.New("insufficient registration fee")
)

// DomainError represents an error with semantic type information
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error // underlying error for wrapping
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// GetErrorType returns the semantic type of an error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ErrorTypeInternal // default fallback
}

// Error constructors for different types
func NewValidationError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeValidation, Message: message, Err: errors.Join(err...)}
}

func NewNotFoundError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeNotFound, Message: message, Err: errors.Join(err...)}
}

func NewConflictError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeConflict, Message: message, Err: errors.Join(err...)}
}

func NewUnauthorizedError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeUnauthorized, Message: message, Err: errors.Join(err...)}
}

func NewPaymentError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypePayment, Message: message, Err: errors.Join(err...)}
}

func NewInternalError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeInternal, Message: message, Err: errors.Join(err...)}
}

func NewUnavailableError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeUnavailable, Message: message, Err: errors.Join(err...)}
}
