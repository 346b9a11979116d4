// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"math"
	"regexp"
	"strings"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

// Address identifies a participant, organizer or trustee.
type Address string

var addressPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NormalizeAddress trims and lower-cases a raw identity so that "0xAbC" and "0xabc" are the same key.
func NormalizeAddress(raw string) Address {
	return Address(strings.ToLower(strings.TrimSpace(raw)))
}

// Valid reports whether the address is non-empty, normalized and safe to use as a store key.
func (a Address) Valid() bool {
	return len(a) <= constants.MaxAddressLength && addressPattern.MatchString(string(a))
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}

// Amount is a fee in the smallest currency unit.
type Amount uint64

// Add returns a+b and false when the sum overflows.
func (a Amount) Add(b Amount) (Amount, bool) {
	if b > math.MaxUint64-a {
		return 0, false
	}
	return a + b, true
}

// Sub returns a-b, clamped at zero.
func (a Amount) Sub(b Amount) Amount {
	if b >= a {
		return 0
	}
	return a - b
}
