// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, Address("0xabcdef"), NormalizeAddress("  0xAbCdEf "))
	assert.Equal(t, NormalizeAddress("0xABC"), NormalizeAddress("0xabc"))
}

func TestAddress_Valid(t *testing.T) {
	tests := []struct {
		address Address
		want    bool
	}{
		{address: "0x5b38da6a701c568545dcfcb03fcb875f56beddc4", want: true},
		{address: "alice", want: true},
		{address: "bob.smith-2", want: true},
		{address: "", want: false},
		{address: "Alice", want: false},
		{address: "-alice", want: false},
		{address: "al ice", want: false},
		{address: "a/b", want: false},
		{address: Address(strings.Repeat("a", 129)), want: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.address), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.address.Valid())
		})
	}
}

func TestAmount_Add(t *testing.T) {
	sum, ok := Amount(40).Add(2)
	assert.True(t, ok)
	assert.Equal(t, Amount(42), sum)

	_, ok = Amount(math.MaxUint64).Add(1)
	assert.False(t, ok)
}

func TestAmount_Sub(t *testing.T) {
	assert.Equal(t, Amount(1), Amount(3).Sub(2))
	assert.Equal(t, Amount(0), Amount(2).Sub(3))
}

func TestRegistration_Delegated(t *testing.T) {
	assert.False(t, (&Registration{Participant: "alice", RegisteredBy: "alice"}).Delegated())
	assert.True(t, (&Registration{Participant: "alice", RegisteredBy: "bob"}).Delegated())
}
