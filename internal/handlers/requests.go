// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
)

type newConferenceRequest struct {
	Name            string `json:"name"`
	MaxParticipants uint32 `json:"max_participants"`
}

type meetingRequest struct {
	MeetingID uint64 `json:"meeting_id"`
}

type registerRequest struct {
	MeetingID uint64        `json:"meeting_id"`
	Paid      models.Amount `json:"paid"`
}

type delegateRegisterRequest struct {
	MeetingID uint64         `json:"meeting_id"`
	Principal models.Address `json:"principal"`
	Paid      models.Amount  `json:"paid"`
}

type trusteeRequest struct {
	Trustee models.Address `json:"trustee"`
}

type delegationRequest struct {
	Grantor models.Address `json:"grantor"`
	Trustee models.Address `json:"trustee"`
}

type signUpRequest struct {
	Name string `json:"name"`
}

type addressRequest struct {
	Address models.Address `json:"address"`
}

type registrationQuery struct {
	MeetingID uint64         `json:"meeting_id"`
	Address   models.Address `json:"address"`
}

// decodeRequest decodes a JSON body into out. Numbers may be sent as strings and times as RFC 3339
// strings. An empty body decodes as an empty object and unknown fields are rejected.
func decodeRequest(data []byte, out any) error {
	fields := map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		if err := decoder.Decode(&fields); err != nil {
			return domain.NewValidationError("request body is not a JSON object", err)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			trimStringHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		Result: out,
	})
	if err != nil {
		return domain.NewInternalError("failed to create request decoder", err)
	}
	if err := decoder.Decode(fields); err != nil {
		return domain.NewValidationError("invalid request", err)
	}
	return nil
}

// trimStringHook trims whitespace around string values before numeric conversion.
func trimStringHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() == reflect.String {
		return data, nil
	}
	return strings.TrimSpace(reflect.ValueOf(data).String()), nil
}
