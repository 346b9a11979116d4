// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

type meetingIDReply struct {
	MeetingID uint64 `json:"meeting_id"`
}

type meetingIDsReply struct {
	MeetingIDs []uint64 `json:"meeting_ids"`
}

type totalReply struct {
	Total uint64 `json:"total"`
}

type permissionReply struct {
	HasPermission bool `json:"has_permission"`
}

type trusteesReply struct {
	Trustees []models.Address `json:"trustees"`
}

type registeredReply struct {
	Registered bool `json:"registered"`
}

type escrowReply struct {
	MeetingID uint64        `json:"meeting_id"`
	Balance   models.Amount `json:"balance"`
}

type okReply struct {
	OK bool `json:"ok"`
}

func idsReply(ids []uint64) meetingIDsReply {
	if ids == nil {
		ids = []uint64{}
	}
	return meetingIDsReply{MeetingIDs: ids}
}

// orCaller defaults an optional address field to the caller.
func orCaller(address, caller models.Address) models.Address {
	if address == "" {
		return caller
	}
	return address
}

func (h *LedgerHandler) handleCreateMeeting(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req models.CreateMeetingRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	id, err := h.ledgerService.CreateMeeting(ctx, caller, req)
	if err != nil {
		return nil, err
	}
	return meetingIDReply{MeetingID: id}, nil
}

func (h *LedgerHandler) handleNewConference(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req newConferenceRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	id, err := h.ledgerService.NewConference(ctx, caller, req.Name, req.MaxParticipants)
	if err != nil {
		return nil, err
	}
	return meetingIDReply{MeetingID: id}, nil
}

func (h *LedgerHandler) handleGetMeeting(ctx context.Context, _ models.Address, msg domain.Message) (any, error) {
	var req meetingRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	return h.ledgerService.GetMeeting(ctx, req.MeetingID)
}

func (h *LedgerHandler) handleGetConferenceInfo(ctx context.Context, _ models.Address, msg domain.Message) (any, error) {
	var req meetingRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	return h.ledgerService.GetConferenceInfo(ctx, req.MeetingID)
}

func (h *LedgerHandler) handleTotalMeetings(ctx context.Context, _ models.Address, _ domain.Message) (any, error) {
	total, err := h.ledgerService.GetTotalMeetings(ctx)
	if err != nil {
		return nil, err
	}
	return totalReply{Total: total}, nil
}

func (h *LedgerHandler) handleQueryConfList(ctx context.Context, _ models.Address, _ domain.Message) (any, error) {
	ids, err := h.ledgerService.QueryConfList(ctx)
	if err != nil {
		return nil, err
	}
	return idsReply(ids), nil
}

func (h *LedgerHandler) handleRegister(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req registerRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	return h.ledgerService.RegisterForMeeting(ctx, caller, req.MeetingID, req.Paid)
}

func (h *LedgerHandler) handleDelegateRegister(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req delegateRegisterRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	return h.ledgerService.DelegateRegister(ctx, caller, req.MeetingID, req.Principal, req.Paid)
}

func (h *LedgerHandler) handleCancelRegistration(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req meetingRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	return h.ledgerService.CancelRegistration(ctx, caller, req.MeetingID)
}

func (h *LedgerHandler) handleCancelMeeting(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req meetingRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	return h.ledgerService.CancelMeeting(ctx, caller, req.MeetingID)
}

func (h *LedgerHandler) handleGrantPermission(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req trusteeRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	if err := h.ledgerService.GrantDelegatePermission(ctx, caller, req.Trustee); err != nil {
		return nil, err
	}
	return okReply{OK: true}, nil
}

func (h *LedgerHandler) handleRevokePermission(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req trusteeRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	if err := h.ledgerService.RevokeDelegatePermission(ctx, caller, req.Trustee); err != nil {
		return nil, err
	}
	return okReply{OK: true}, nil
}

func (h *LedgerHandler) handleDelegate(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req trusteeRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	if err := h.ledgerService.Delegate(ctx, caller, req.Trustee); err != nil {
		return nil, err
	}
	return okReply{OK: true}, nil
}

func (h *LedgerHandler) handleHasPermission(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req delegationRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	has, err := h.ledgerService.HasDelegatePermission(ctx, orCaller(req.Grantor, caller), req.Trustee)
	if err != nil {
		return nil, err
	}
	return permissionReply{HasPermission: has}, nil
}

func (h *LedgerHandler) handleListTrustees(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req delegationRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	trustees, err := h.ledgerService.ListTrustees(ctx, orCaller(req.Grantor, caller))
	if err != nil {
		return nil, err
	}
	if trustees == nil {
		trustees = []models.Address{}
	}
	return trusteesReply{Trustees: trustees}, nil
}

func (h *LedgerHandler) handleSignUp(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req signUpRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	return h.ledgerService.SignUp(ctx, caller, req.Name)
}

func (h *LedgerHandler) handleGetParticipant(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req addressRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	return h.ledgerService.GetParticipantInfo(ctx, orCaller(req.Address, caller))
}

func (h *LedgerHandler) handleIsRegistered(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req registrationQuery
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	registered, err := h.ledgerService.IsUserRegistered(ctx, req.MeetingID, orCaller(req.Address, caller))
	if err != nil {
		return nil, err
	}
	return registeredReply{Registered: registered}, nil
}

func (h *LedgerHandler) handleUserMeetings(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req addressRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	ids, err := h.ledgerService.GetUserMeetings(ctx, orCaller(req.Address, caller))
	if err != nil {
		return nil, err
	}
	return idsReply(ids), nil
}

func (h *LedgerHandler) handleEscrowBalance(ctx context.Context, _ models.Address, msg domain.Message) (any, error) {
	var req meetingRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	balance, err := h.ledgerService.GetEscrowBalance(ctx, req.MeetingID)
	if err != nil {
		return nil, err
	}
	return escrowReply{MeetingID: req.MeetingID, Balance: balance}, nil
}

func (h *LedgerHandler) handleWithdrawRefund(ctx context.Context, caller models.Address, msg domain.Message) (any, error) {
	var req meetingRequest
	if err := decodeRequest(msg.Data(), &req); err != nil {
		return nil, err
	}
	return h.ledgerService.WithdrawRefund(ctx, caller, req.MeetingID)
}
