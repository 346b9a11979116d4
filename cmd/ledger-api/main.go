// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package main is the meeting ledger API. It serves the ledger operations over NATS
// request/reply and exposes liveness and readiness checks over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/handlers"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/infrastructure/eventbus"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/service"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/pkg/utils"
)

func main() {
	env, err := parseEnv()
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error parsing environment")
		os.Exit(1)
	}
	flags := parseFlags(env.Port)

	logging.InitStructureLogConfig()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	gracefulCloseWG := sync.WaitGroup{}

	otelShutdown, err := utils.SetupOTelSDK(ctx)
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error setting up OpenTelemetry SDK")
		return
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			slog.With(logging.ErrKey, err).Error("error shutting down OpenTelemetry SDK")
		}
	}()

	// Setup NATS connection
	natsConn, err := setupNATS(ctx, env, &gracefulCloseWG, done)
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error setting up NATS")
		return
	}

	ledgerStore, storeReady, closeStore, err := setupStore(ctx, env, natsConn)
	if err != nil {
		slog.With(logging.ErrKey, err, "backend", env.StoreBackend).Error("error setting up ledger store")
		natsConn.Close()
		return
	}
	defer closeStore()

	broker := eventbus.NewBroker(env.EventBuffer)
	defer broker.Close()
	auditEvents(ctx, broker, &gracefulCloseWG)

	// Initialize services
	ledgerService, err := service.NewLedgerService(
		ledgerStore,
		setupPublisher(natsConn, broker),
		setupTransferer(ctx, env, natsConn),
		service.ServiceConfig{
			Administrator: models.Address(env.Administrator),
			RefundWorkers: env.RefundWorkers,
		},
	)
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error creating ledger service")
		cancel()
		natsConn.Close()
		return
	}

	// Initialize handlers
	ledgerHandler := handlers.NewLedgerHandler(ledgerService)

	health := &healthHandler{
		handler: ledgerHandler,
		checks: []readinessCheck{
			func(context.Context) error {
				if !natsConn.IsConnected() {
					return errors.New("NATS is not connected")
				}
				return nil
			},
			storeReady,
		},
	}
	httpServer := setupHTTPServer(flags, health, &gracefulCloseWG)

	// Create NATS subscriptions for the service.
	if err := createNatsSubscriptions(ctx, ledgerHandler, natsConn); err != nil {
		slog.With(logging.ErrKey, err).Error("error creating NATS subscriptions")
		gracefulShutdown(httpServer, natsConn, &gracefulCloseWG, cancel)
		return
	}

	// This next line blocks until SIGINT or SIGTERM is received.
	<-done

	gracefulShutdown(httpServer, natsConn, &gracefulCloseWG, cancel)
}
