// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/service"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

// operation serves one request/reply subject. caller is the x-on-behalf-of principal.
type operation func(ctx context.Context, caller models.Address, msg domain.Message) (any, error)

// LedgerHandler serves the ledger API over NATS request/reply.
type LedgerHandler struct {
	ledgerService *service.LedgerService
	operations    map[string]operation
}

var _ domain.MessageHandler = (*LedgerHandler)(nil)

func NewLedgerHandler(ledgerService *service.LedgerService) *LedgerHandler {
	h := &LedgerHandler{ledgerService: ledgerService}
	h.operations = map[string]operation{
		models.CreateMeetingSubject:      h.handleCreateMeeting,
		models.NewConferenceSubject:      h.handleNewConference,
		models.GetMeetingSubject:         h.handleGetMeeting,
		models.GetConferenceInfoSubject:  h.handleGetConferenceInfo,
		models.TotalMeetingsSubject:      h.handleTotalMeetings,
		models.QueryConfListSubject:      h.handleQueryConfList,
		models.RegisterSubject:           h.handleRegister,
		models.DelegateRegisterSubject:   h.handleDelegateRegister,
		models.CancelRegistrationSubject: h.handleCancelRegistration,
		models.CancelMeetingSubject:      h.handleCancelMeeting,
		models.GrantPermissionSubject:    h.handleGrantPermission,
		models.RevokePermissionSubject:   h.handleRevokePermission,
		models.DelegateSubject:           h.handleDelegate,
		models.HasPermissionSubject:      h.handleHasPermission,
		models.ListTrusteesSubject:       h.handleListTrustees,
		models.SignUpSubject:             h.handleSignUp,
		models.GetParticipantSubject:     h.handleGetParticipant,
		models.IsRegisteredSubject:       h.handleIsRegistered,
		models.UserMeetingsSubject:       h.handleUserMeetings,
		models.EscrowBalanceSubject:      h.handleEscrowBalance,
		models.WithdrawRefundSubject:     h.handleWithdrawRefund,
	}
	return h
}

func (h *LedgerHandler) HandlerReady() bool {
	return h.ledgerService != nil && h.ledgerService.ServiceReady()
}

type dataReply struct {
	Data any `json:"data"`
}

type errorReply struct {
	Error replyError `json:"error"`
}

type replyError struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HandleMessage implements domain.MessageHandler interface
func (h *LedgerHandler) HandleMessage(ctx context.Context, msg domain.Message) {
	subject := msg.Subject()
	ctx = logging.AppendCtx(ctx, slog.String("subject", subject))

	caller := models.NormalizeAddress(msg.Header(constants.XOnBehalfOfHeader))
	if caller != "" {
		ctx = context.WithValue(ctx, constants.PrincipalContextID, string(caller))
		ctx = logging.AppendCtx(ctx, slog.String("caller", string(caller)))
	}
	if requestID := msg.Header(constants.RequestIDHeader); requestID != "" {
		ctx = context.WithValue(ctx, constants.RequestIDContextID, requestID)
		ctx = logging.AppendCtx(ctx, slog.String("request_id", requestID))
	}
	slog.DebugContext(ctx, "handling NATS message")

	var (
		result any
		err    error
	)
	op, ok := h.operations[subject]
	switch {
	case !ok:
		slog.WarnContext(ctx, "unknown subject")
		err = domain.NewNotFoundError("unknown operation " + subject)
	case !h.HandlerReady():
		slog.ErrorContext(ctx, "ledger service not initialized", logging.PriorityCritical())
		err = domain.NewUnavailableError("ledger service is not ready")
	default:
		result, err = op(ctx, caller, msg)
	}

	if !msg.HasReply() {
		if err != nil {
			slog.ErrorContext(ctx, "error handling message", logging.ErrKey, err)
		}
		slog.DebugContext(ctx, "handled NATS message (no reply expected)")
		return
	}

	h.respond(ctx, msg, result, err)
}

func (h *LedgerHandler) respond(ctx context.Context, msg domain.Message, result any, err error) {
	var reply any = dataReply{Data: result}
	if err != nil {
		errorType := domain.GetErrorType(err)
		level := slog.LevelInfo
		if errorType == domain.ErrorTypeInternal || errorType == domain.ErrorTypeUnavailable {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "operation failed", logging.ErrKey, err, "error_type", errorType.String())
		reply = errorReply{Error: replyError{
			Type:    errorType.String(),
			Code:    statusCode(errorType),
			Message: err.Error(),
		}}
	}

	response, marshalErr := json.Marshal(reply)
	if marshalErr != nil {
		slog.ErrorContext(ctx, "error marshalling reply", logging.ErrKey, marshalErr)
		response, _ = json.Marshal(errorReply{Error: replyError{
			Type:    domain.ErrorTypeInternal.String(),
			Code:    http.StatusInternalServerError,
			Message: "failed to encode reply",
		}})
	}

	if err := msg.Respond(response); err != nil {
		slog.ErrorContext(ctx, "error responding to NATS message", logging.ErrKey, err)
		return
	}
	slog.DebugContext(ctx, "responded to NATS message")
}

// statusCode maps an error type to the HTTP status it corresponds to.
func statusCode(errorType domain.ErrorType) int {
	switch errorType {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	case domain.ErrorTypeConflict:
		return http.StatusConflict
	case domain.ErrorTypeUnauthorized:
		return http.StatusForbidden
	case domain.ErrorTypePayment:
		return http.StatusPaymentRequired
	case domain.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
