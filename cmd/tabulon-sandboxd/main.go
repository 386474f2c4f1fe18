// tabulon-sandboxd is the in-pod execution service for the Kubernetes
// backend: a small HTTP API that evaluates one program per request against
// the dataset snapshot it carries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	apperr "github.com/tabulon-ai/tabulon/internal/errors"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

const (
	defaultListenAddr = ":8080"
	defaultTimeout    = 30 * time.Second
	shutdownGrace     = 10 * time.Second
)

func main() {
	listenAddr := flag.String("listen", defaultListenAddr, "Listen address")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: logLevel}))

	if err := run(*listenAddr, log); err != nil {
		log.Error("sandboxd failed", "error", err)
		os.Exit(1)
	}
}

func run(listenAddr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", handleExecute(log))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("sandboxd listening", "addr", listenAddr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(ctx)
	}
}

func handleExecute(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sandbox.ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}

		timeout := req.Timeout()
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		start := time.Now()
		res, err := sandbox.Evaluate(ctx, req.Code, req.Frame, sandbox.EngineOptions{
			Timeout:  timeout,
			MaxSteps: req.MaxSteps,
		})
		if err != nil {
			if r.Context().Err() != nil {
				// Client went away; nothing useful to write.
				return
			}
			res = sandbox.Failure(apperr.KindResourceExceeded, err.Error(), "")
		}

		log.Debug("execution complete", "session", req.SessionID,
			"ok", res.OK, "error_kind", res.ErrorKind, "duration", time.Since(start))

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sandbox.ToResponse(res)); err != nil {
			log.Warn("failed to write response", "error", err)
		}
	}
}
