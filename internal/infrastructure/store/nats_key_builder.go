// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/nats-io/nats.go"
)

// Common key prefixes
const (
	// Entity prefixes
	KeyPrefixMeeting       = "meeting"
	KeyPrefixParticipant   = "participant"
	KeyPrefixRegistration  = "registration"
	KeyPrefixDelegation    = "delegation"
	KeyPrefixEscrow        = "escrow"
	KeyPrefixPendingRefund = "pending-refund"

	// Index prefixes
	KeyPrefixIndex             = "index"
	KeyPrefixIndexJoinable     = "joinable"
	KeyPrefixIndexParticipant  = "participant"
	KeyPrefixIndexRegistrants  = "registrants"
	KeyPrefixIndexTrustees     = "trustees"
	KeyPrefixSequence          = "sequence"
	KeyPrefixSequenceMeetingID = "meeting-id"
	KeyPrefixLock              = "lock"
	KeyPrefixLockWriter        = "writer"
)

// KeyBuilder provides utilities for building consistent NATS KV keys
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a new key builder with an optional prefix
func NewKeyBuilder(prefix string) *KeyBuilder {
	return &KeyBuilder{
		prefix: prefix,
	}
}

// EntityKey builds a key for an entity (e.g., "meeting/7")
func (kb *KeyBuilder) EntityKey(entityType, id string) string {
	key := fmt.Sprintf("%s/%s", entityType, id)
	return kb.applyPrefix(key, false)
}

// EntityKeyEncoded builds an encoded key for an entity
func (kb *KeyBuilder) EntityKeyEncoded(entityType, id string) string {
	key := fmt.Sprintf("%s/%s", entityType, id)
	return kb.applyPrefix(key, true)
}

// IndexKey builds a key for an index document (e.g., "index/registrants/7")
func (kb *KeyBuilder) IndexKey(indexType, indexValue string) string {
	key := fmt.Sprintf("%s/%s/%s", KeyPrefixIndex, indexType, indexValue)
	return kb.applyPrefix(key, false)
}

// IndexKeyEncoded builds an encoded key for an index document
func (kb *KeyBuilder) IndexKeyEncoded(indexType, indexValue string) string {
	key := fmt.Sprintf("%s/%s/%s", KeyPrefixIndex, indexType, indexValue)
	return kb.applyPrefix(key, true)
}

// CompoundKey builds a compound key from multiple parts
func (kb *KeyBuilder) CompoundKey(parts ...string) string {
	key := strings.Join(parts, "/")
	return kb.applyPrefix(key, false)
}

// CompoundKeyEncoded builds an encoded compound key from multiple parts
func (kb *KeyBuilder) CompoundKeyEncoded(parts ...string) string {
	key := strings.Join(parts, "/")
	return kb.applyPrefix(key, true)
}

// MeetingKey is the key of a meeting record.
func (kb *KeyBuilder) MeetingKey(meetingID uint64) string {
	return kb.EntityKey(KeyPrefixMeeting, strconv.FormatUint(meetingID, 10))
}

// ParticipantKey is the key of a directory entry.
func (kb *KeyBuilder) ParticipantKey(address models.Address) string {
	return kb.EntityKeyEncoded(KeyPrefixParticipant, address.String())
}

// RegistrationKey is the key of a registration.
func (kb *KeyBuilder) RegistrationKey(meetingID uint64, participant models.Address) string {
	return kb.CompoundKeyEncoded(KeyPrefixRegistration, strconv.FormatUint(meetingID, 10), participant.String())
}

// DelegationKey is the key of a delegate permission.
func (kb *KeyBuilder) DelegationKey(grantor, trustee models.Address) string {
	return kb.CompoundKeyEncoded(KeyPrefixDelegation, grantor.String(), trustee.String())
}

// EscrowKey is the key of a meeting escrow account.
func (kb *KeyBuilder) EscrowKey(meetingID uint64) string {
	return kb.EntityKey(KeyPrefixEscrow, strconv.FormatUint(meetingID, 10))
}

// PendingRefundKey is the key of a pending refund.
func (kb *KeyBuilder) PendingRefundKey(meetingID uint64, participant models.Address) string {
	return kb.CompoundKeyEncoded(KeyPrefixPendingRefund, strconv.FormatUint(meetingID, 10), participant.String())
}

// JoinableIndexKey is the key of the joinable meeting ids document.
func (kb *KeyBuilder) JoinableIndexKey() string {
	return kb.CompoundKey(KeyPrefixIndex, KeyPrefixIndexJoinable)
}

// ParticipantMeetingsIndexKey is the key of the meeting ids a participant registered for.
func (kb *KeyBuilder) ParticipantMeetingsIndexKey(participant models.Address) string {
	return kb.IndexKeyEncoded(KeyPrefixIndexParticipant, participant.String())
}

// MeetingRegistrantsIndexKey is the key of the registrant addresses of a meeting.
func (kb *KeyBuilder) MeetingRegistrantsIndexKey(meetingID uint64) string {
	return kb.IndexKey(KeyPrefixIndexRegistrants, strconv.FormatUint(meetingID, 10))
}

// TrusteesIndexKey is the key of the trustees of a grantor.
func (kb *KeyBuilder) TrusteesIndexKey(grantor models.Address) string {
	return kb.IndexKeyEncoded(KeyPrefixIndexTrustees, grantor.String())
}

// MeetingSequenceKey is the key of the last assigned meeting id.
func (kb *KeyBuilder) MeetingSequenceKey() string {
	return kb.CompoundKey(KeyPrefixSequence, KeyPrefixSequenceMeetingID)
}

// WriteLockKey is the key of the lease serializing ledger writers.
func (kb *KeyBuilder) WriteLockKey() string {
	return kb.CompoundKey(KeyPrefixLock, KeyPrefixLockWriter)
}

// applyPrefix adds the builder's prefix if one is set
func (kb *KeyBuilder) applyPrefix(key string, encode bool) string {
	var fullKey string
	if kb.prefix == "" {
		fullKey = key
	} else {
		fullKey = fmt.Sprintf("%s/%s", kb.prefix, key)
	}

	if encode {
		encodedKey, err := kb.EncodeKey(fullKey)
		if err != nil {
			slog.Error("error encoding key", logging.ErrKey, err, "key", fullKey)
			return fullKey
		}
		return encodedKey
	}
	return fullKey
}

// EncodeKey encodes a key for NATS KV store.
// Every segment is base64url encoded so addresses never produce empty or invalid tokens.
// Based on https://github.com/ripienaar/encodedkv
//
// NATS limitations: https://docs.nats.io/nats-concepts/jetstream/key-value-store#notes
func (kb *KeyBuilder) EncodeKey(key string) (string, error) {
	res := []string{}
	for _, part := range strings.Split(strings.TrimPrefix(key, "/"), "/") {
		if part == "" {
			return "", nats.ErrInvalidKey
		}
		if part == ">" || part == "*" {
			res = append(res, part)
			continue
		}

		res = append(res, base64.RawURLEncoding.EncodeToString([]byte(part)))
	}

	return strings.Join(res, "."), nil
}
