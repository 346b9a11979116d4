// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/store"
)

// Storage backends selectable with STORE_BACKEND.
const (
	storeBackendMemory   = "memory"
	storeBackendNATS     = "nats"
	storeBackendPostgres = "postgres"
)

// Refund transfer backends selectable with PAYOUT_BACKEND.
const (
	payoutBackendWallet = "wallet"
	payoutBackendNATS   = "nats"
)

// flags are the command line flags for the ledger service.
type flags struct {
	Debug bool
	Port  string
	Bind  string
}

// environment are the environment variables for the ledger service.
type environment struct {
	Port string `env:"PORT" envDefault:"8080"`

	NatsURL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsTimeout       time.Duration `env:"NATS_TIMEOUT" envDefault:"10s"`
	NatsMaxReconnect  int           `env:"NATS_MAX_RECONNECT" envDefault:"3"`
	NatsReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`

	Administrator string `env:"LEDGER_ADMINISTRATOR,required,notEmpty"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"nats"`
	StoreCodec   string `env:"STORE_CODEC" envDefault:"json"`
	DatabaseURL  string `env:"DATABASE_URL"`

	PayoutBackend string        `env:"PAYOUT_BACKEND" envDefault:"nats"`
	PayoutTimeout time.Duration `env:"PAYOUT_TIMEOUT" envDefault:"5s"`

	RefundWorkers int `env:"REFUND_WORKERS" envDefault:"8"`
	EventBuffer   int `env:"EVENT_BUFFER" envDefault:"64"`
}

// parseFlags parses command line flags for the ledger service
func parseFlags(defaultPort string) flags {
	var debug = flag.Bool("d", false, "enable debug logging")
	var port = flag.String("p", defaultPort, "listen port")
	var bind = flag.String("bind", "*", "interface to bind on")

	flag.Usage = func() {
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()

	// Based on the debug flag, set the log level environment variable used by [logging.InitStructureLogConfig]
	if *debug {
		err := os.Setenv("LOG_LEVEL", "debug")
		if err != nil {
			slog.With(logging.ErrKey, err).Error("error setting log level")
			os.Exit(1)
		}
	}

	return flags{
		Debug: *debug,
		Port:  *port,
		Bind:  *bind,
	}
}

// parseEnv loads the optional .env files and parses the environment.
// Variables already set in the process environment win over the files.
func parseEnv(files ...string) (environment, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return environment{}, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := env.ParseAs[environment]()
	if err != nil {
		return environment{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return environment{}, err
	}
	return cfg, nil
}

func (e environment) validate() error {
	switch e.StoreBackend {
	case storeBackendMemory, storeBackendNATS:
	case storeBackendPostgres:
		if e.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", e.StoreBackend)
	}

	if _, err := store.CodecByName(e.StoreCodec); err != nil {
		return err
	}

	switch e.PayoutBackend {
	case payoutBackendWallet, payoutBackendNATS:
	default:
		return fmt.Errorf("unsupported PAYOUT_BACKEND %q", e.PayoutBackend)
	}

	if e.RefundWorkers <= 0 {
		return fmt.Errorf("REFUND_WORKERS must be positive, got %d", e.RefundWorkers)
	}
	if e.EventBuffer <= 0 {
		return fmt.Errorf("EVENT_BUFFER must be positive, got %d", e.EventBuffer)
	}
	return nil
}
