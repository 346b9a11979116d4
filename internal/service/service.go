// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"time"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/constants"
)

type Service interface {
	ServiceReady() bool
}

// ServiceConfig is the configuration for the Services.
type ServiceConfig struct {
	// Administrator is the only address allowed to open conferences. Set once at construction.
	Administrator models.Address
	// Now is the clock used for every time window check. Defaults to time.Now.
	Now func() time.Time
	// RefundWorkers bounds the concurrent transfers of a mass refund.
	RefundWorkers int
}

// withDefaults returns a copy of the config with a normalized administrator and defaults filled in.
func (c ServiceConfig) withDefaults() (ServiceConfig, error) {
	c.Administrator = models.NormalizeAddress(string(c.Administrator))
	if !c.Administrator.Valid() {
		return c, domain.NewValidationError("administrator address is required", domain.ErrInvalidAddress)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.RefundWorkers <= 0 {
		c.RefundWorkers = constants.DefaultRefundWorkers
	}
	return c, nil
}
