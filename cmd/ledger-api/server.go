// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/domain"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/logging"
	"github.com/linuxfoundation/lfx-v2-meeting-ledger/internal/middleware"
)

// healthHandler serves the liveness and readiness checks.
type healthHandler struct {
	handler domain.MessageHandler
	checks  []readinessCheck
}

func (h *healthHandler) livez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (h *healthHandler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.handler == nil || !h.handler.HandlerReady() {
		slog.WarnContext(r.Context(), "readiness check failed: handler not ready")
		http.Error(w, "handler not ready", http.StatusServiceUnavailable)
		return
	}
	for _, check := range h.checks {
		if check == nil {
			continue
		}
		if err := check(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", logging.ErrKey, err)
			http.Error(w, "dependency not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (h *healthHandler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", h.livez)
	mux.HandleFunc("GET /readyz", h.readyz)
	var handler http.Handler = mux
	handler = middleware.RequestLoggerMiddleware()(handler)
	return otelhttp.NewHandler(handler, "ledger-health")
}

// setupHTTPServer configures and starts the health HTTP server
func setupHTTPServer(flags flags, health *healthHandler, gracefulCloseWG *sync.WaitGroup) *http.Server {
	// Set up http listener in a goroutine using provided command line parameters.
	var addr string
	if flags.Bind == "*" {
		addr = ":" + flags.Port
	} else {
		addr = flags.Bind + ":" + flags.Port
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           health.routes(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	gracefulCloseWG.Add(1)
	go func() {
		slog.With("addr", addr).Debug("starting http server, listening on port " + flags.Port)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.With(logging.ErrKey, err).Error("http listener error")
			os.Exit(1)
		}
		// ErrServerClosed is returned as soon as Shutdown is called, not when it
		// completes, so the wait group is released by gracefulShutdown.
	}()

	return httpServer
}

// gracefulShutdown stops the HTTP server, drains NATS and waits for both to finish.
func gracefulShutdown(httpServer *http.Server, natsConn *nats.Conn, gracefulCloseWG *sync.WaitGroup, cancel context.CancelFunc) {
	slog.Info("graceful shutdown started")
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownSeconds*time.Second)
	defer shutdownCancel()

	go func() {
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.With(logging.ErrKey, err).Error("http shutdown error")
		}
		gracefulCloseWG.Done()
	}()

	if natsConn != nil && !natsConn.IsClosed() && !natsConn.IsDraining() {
		slog.Info("draining NATS connections")
		if err := natsConn.Drain(); err != nil {
			slog.With(logging.ErrKey, err).Error("error draining NATS connection")
			natsConn.Close()
		}
	}

	finished := make(chan struct{})
	go func() {
		gracefulCloseWG.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		slog.Info("graceful shutdown completed")
	case <-ctx.Done():
		slog.Error("graceful shutdown timed out")
	}
}
