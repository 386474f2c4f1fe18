package exec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
	"github.com/tabulon-ai/tabulon/internal/llm"
	"github.com/tabulon-ai/tabulon/internal/safety"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

const correctionSystem = `You fix broken Starlark data-analysis programs. You receive a program that failed, the failure it produced, and the dataset schema it runs against. Reply with a corrected version of the whole program in a single fenced code block and nothing else.

The program must assign a dict to a variable named result, shaped {"type": <kind>, "value": <value>}, where kind is one of "scalar", "textual", "table", or "chart". The dataset is available as the variable df, a dict with keys "name", "columns", "types", "rows" (a list of dicts keyed by column name), and "num_rows".

Rules the sandbox enforces; a correction that breaks one is rejected outright:
- Use only plain Starlark. No load() statements, no file or network access.
- Never reference os, sys, subprocess, open, file, exec, eval, compile, __import__, getattr, setattr, globals, or locals.
- Never access attributes whose names start and end with double underscores.`

// LLMCorrector repairs a failed artifact with a single isolated model call:
// the prompt carries only the failed code, the failure, and the schema, never
// the conversation history, so a poisoned transcript cannot steer the fix.
type LLMCorrector struct {
	client llm.Client
	log    *slog.Logger
}

// NewLLMCorrector builds a corrector over an LLM client.
func NewLLMCorrector(client llm.Client, log *slog.Logger) *LLMCorrector {
	if log == nil {
		log = slog.Default()
	}
	return &LLMCorrector{client: client, log: log}
}

// Correct asks the model for a revised program. A response that yields no
// code block is a CorrectionUnavailable failure; a revision that trips the
// safety check is an UnsafeCode failure. Both end the retry loop.
func (c *LLMCorrector) Correct(ctx context.Context, failed sandbox.CodeArtifact, failure string, snapshot dataset.Snapshot) (sandbox.CodeArtifact, error) {
	text, err := c.client.Complete(ctx, llm.Request{
		System: correctionSystem,
		User:   correctionPrompt(failed.Code, failure, snapshot),
	})
	if err != nil {
		return sandbox.CodeArtifact{}, apperr.Wrap(apperr.KindCorrectionUnavailable, err, "correction request failed")
	}

	code, err := llm.ExtractCode(text)
	if err != nil {
		c.log.Warn("correction response had no usable code", "attempt", failed.Attempt)
		return sandbox.CodeArtifact{}, apperr.Wrap(apperr.KindCorrectionUnavailable, err, "correction response unusable")
	}

	if verdict := safety.Check(code); !verdict.Safe {
		return sandbox.CodeArtifact{}, apperr.New(apperr.KindUnsafeCode,
			"corrected code rejected: %s", verdict.Describe())
	}

	return failed.Revise(code), nil
}

func correctionPrompt(code, failure string, snapshot dataset.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dataset %q schema:\n", snapshot.Name)
	for _, col := range snapshot.Columns {
		fmt.Fprintf(&sb, "- %s (%s)\n", col.Name, col.Type)
	}
	sb.WriteString("\nThis program failed:\n```starlark\n")
	sb.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n\nFailure:\n")
	sb.WriteString(failure)
	sb.WriteString("\n\nReply with the corrected program.")
	return sb.String()
}
