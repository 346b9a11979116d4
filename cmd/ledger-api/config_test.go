// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("LEDGER_ADMINISTRATOR", "admin")

		cfg, err := parseEnv(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, storeBackendNATS, cfg.StoreBackend)
		assert.Equal(t, payoutBackendNATS, cfg.PayoutBackend)
		assert.Equal(t, 5*time.Second, cfg.PayoutTimeout)
		assert.Equal(t, 8, cfg.RefundWorkers)
	})

	t.Run("administrator is required", func(t *testing.T) {
		t.Setenv("LEDGER_ADMINISTRATOR", "")
		require.NoError(t, os.Unsetenv("LEDGER_ADMINISTRATOR"))

		_, err := parseEnv(filepath.Join(t.TempDir(), "missing.env"))
		assert.Error(t, err)
	})

	t.Run("dotenv file", func(t *testing.T) {
		t.Setenv("LEDGER_ADMINISTRATOR", "admin")
		t.Setenv("PAYOUT_BACKEND", "wallet")
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("STORE_BACKEND=memory\nPAYOUT_BACKEND=nats\nREFUND_WORKERS=3\n"), 0o600))
		t.Cleanup(func() {
			_ = os.Unsetenv("STORE_BACKEND")
			_ = os.Unsetenv("REFUND_WORKERS")
		})

		cfg, err := parseEnv(path)
		require.NoError(t, err)
		assert.Equal(t, storeBackendMemory, cfg.StoreBackend)
		assert.Equal(t, 3, cfg.RefundWorkers)
		assert.Equal(t, payoutBackendWallet, cfg.PayoutBackend, "process environment wins over the file")
	})
}

func TestEnvironmentValidate(t *testing.T) {
	valid := environment{
		StoreBackend:  storeBackendNATS,
		StoreCodec:    "json",
		PayoutBackend: payoutBackendNATS,
		RefundWorkers: 1,
		EventBuffer:   1,
	}

	tests := []struct {
		name    string
		mutate  func(*environment)
		wantErr bool
	}{
		{name: "valid", mutate: func(*environment) {}},
		{name: "msgpack codec", mutate: func(e *environment) { e.StoreCodec = "msgpack" }},
		{name: "unknown codec", mutate: func(e *environment) { e.StoreCodec = "xml" }, wantErr: true},
		{name: "unknown store", mutate: func(e *environment) { e.StoreBackend = "redis" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(e *environment) { e.StoreBackend = storeBackendPostgres }, wantErr: true},
		{
			name: "postgres with dsn",
			mutate: func(e *environment) {
				e.StoreBackend = storeBackendPostgres
				e.DatabaseURL = "postgres://localhost/ledger"
			},
		},
		{name: "unknown payout", mutate: func(e *environment) { e.PayoutBackend = "bank" }, wantErr: true},
		{name: "no refund workers", mutate: func(e *environment) { e.RefundWorkers = 0 }, wantErr: true},
		{name: "no event buffer", mutate: func(e *environment) { e.EventBuffer = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
