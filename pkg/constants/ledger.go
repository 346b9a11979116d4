// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package constants

import "time"

// ServiceName identifies the ledger service to NATS and OpenTelemetry
const ServiceName = "lfx-v2-meeting-ledger"

// JetStream key-value buckets of the ledger store
const (
	// KVBucketNameMeetings holds meeting and conference records keyed by id
	KVBucketNameMeetings = "ledger-meetings"

	// KVBucketNameParticipants holds directory entries keyed by address
	KVBucketNameParticipants = "ledger-participants"

	// KVBucketNameRegistrations holds registrations keyed by meeting and participant
	KVBucketNameRegistrations = "ledger-registrations"

	// KVBucketNameDelegations holds delegate permissions keyed by grantor and trustee
	KVBucketNameDelegations = "ledger-delegations"

	// KVBucketNameEscrow holds escrow balances and pending refunds
	KVBucketNameEscrow = "ledger-escrow"

	// KVBucketNameIndex holds the joinable index, the meeting id sequence and the write lease
	KVBucketNameIndex = "ledger-index"
)

// Ledger defaults
const (
	// DefaultRefundWorkers bounds the concurrent transfers of a mass refund
	DefaultRefundWorkers = 8

	// DefaultEventBuffer is the channel size of an in-process event subscriber
	DefaultEventBuffer = 64

	// DefaultPayoutTimeout bounds a single payout request
	DefaultPayoutTimeout = 5 * time.Second

	// MaxAddressLength is the longest accepted participant address
	MaxAddressLength = 128

	// PendingRefundReadAttempts bounds the reads of an unclaimed refund before a new one is merged into it
	PendingRefundReadAttempts = 3

	// PendingRefundRetryInterval is the backoff step between those reads
	PendingRefundRetryInterval = 50 * time.Millisecond
)

// Write lock shared by the ledger instances over one store
const (
	// WriteLeaseTTL is how long a write lease is honored when its holder stops renewing it
	WriteLeaseTTL = 15 * time.Second

	// WriteLockRetryInterval is the wait between attempts to take a held write lock
	WriteLockRetryInterval = 20 * time.Millisecond

	// PostgresWriteLockKey is the advisory lock id of the ledger write lock
	PostgresWriteLockKey int64 = 0x6c65646765720001
)
