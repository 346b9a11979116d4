// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

var (
	_ LedgerStore    = (*MockLedgerStore)(nil)
	_ EventPublisher = (*MockEventPublisher)(nil)
	_ FundTransferer = (*MockFundTransferer)(nil)
	_ Message        = (*MockMessage)(nil)
)

func TestMockMessage_Header(t *testing.T) {
	msg := NewMockMessage([]byte(`{}`), "lfx.meeting-ledger.api.sign_up").
		WithHeader(constants.XOnBehalfOfHeader, "0xabc")

	assert.Equal(t, "lfx.meeting-ledger.api.sign_up", msg.Subject())
	assert.Equal(t, "0xabc", msg.Header(constants.XOnBehalfOfHeader))
	assert.Empty(t, msg.Header("missing"))

	msg.On("Respond", []byte("ok")).Return(nil)
	assert.NoError(t, msg.Respond([]byte("ok")))
	msg.AssertExpectations(t)
}
