// tabulon-runner executes one program inside a sandbox container: it reads a
// single ExecRequest as JSON from stdin, evaluates it, and writes a single
// ExecResponse as the last line of stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	apperr "github.com/tabulon-ai/tabulon/internal/errors"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

const defaultTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "runner:", err)
		os.Exit(1)
	}
}

func run() error {
	var req sandbox.ExecRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}

	timeout := req.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := sandbox.Evaluate(ctx, req.Code, req.Frame, sandbox.EngineOptions{
		Timeout:  timeout,
		MaxSteps: req.MaxSteps,
	})
	if err != nil {
		// The container's own deadline fired; report it as a resource breach
		// rather than dying without a response.
		res = sandbox.Failure(apperr.KindResourceExceeded, err.Error(), "")
	}

	return json.NewEncoder(os.Stdout).Encode(sandbox.ToResponse(res))
}
