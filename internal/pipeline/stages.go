package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tabulon-ai/tabulon/internal/cache"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
	"github.com/tabulon-ai/tabulon/internal/exec"
	"github.com/tabulon-ai/tabulon/internal/llm"
	"github.com/tabulon-ai/tabulon/internal/metrics"
	"github.com/tabulon-ai/tabulon/internal/safety"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

const (
	stageValidateInput  = "validate_input"
	stageCacheLookup    = "cache_lookup"
	stagePromptBuild    = "prompt_build"
	stageGenerate       = "generate"
	stageCacheStore     = "cache_store"
	stageSafetyGate     = "safety_gate"
	stageExecute        = "execute"
	stageValidateResult = "validate_result"
	stageParseResult    = "parse_result"
)

// Deps are the collaborators the standard stage sequence is built around.
// Cache may be nil (caching disabled); CorrectionEnabled false runs every
// artifact exactly once.
type Deps struct {
	LLM               llm.Client
	Sandbox           sandbox.Sandbox
	Cache             *cache.CodeCache
	Audit             safety.AuditLogger
	MaxAttempts       int
	CorrectionEnabled bool
	Log               *slog.Logger
}

// DefaultStages assembles the standard generation-execution sequence.
func DefaultStages(d Deps) []Stage {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Audit == nil {
		d.Audit = safety.NopAuditLogger{}
	}

	var corrector exec.Corrector
	if d.CorrectionEnabled && d.LLM != nil {
		corrector = exec.NewLLMCorrector(d.LLM, d.Log)
	}
	controller := exec.NewController(d.Sandbox, corrector, d.MaxAttempts, d.Log)

	return []Stage{
		{Name: stageValidateInput, Run: validateInput},
		{Name: stageCacheLookup, Run: cacheLookup(d)},
		{Name: stagePromptBuild, Run: promptBuild},
		{Name: stageGenerate, Run: generate(d)},
		{Name: stageCacheStore, Run: cacheStore(d)},
		{Name: stageSafetyGate, Run: safetyGate(d)},
		{Name: stageExecute, Run: execute(d, controller)},
		{Name: stageValidateResult, Run: validateResult(d)},
		{Name: stageParseResult, Run: parseResult},
	}
}

func validateInput(_ context.Context, rc *RunContext) (Signal, error) {
	rc.Query = strings.TrimSpace(rc.Query)
	if rc.Query == "" {
		return Done, apperr.New(apperr.KindInvalidInput, "query is empty")
	}
	if rc.Frame == nil || len(rc.Frame.Columns) == 0 {
		return Done, apperr.New(apperr.KindInvalidInput, "no dataset loaded")
	}

	rc.Snapshot = rc.Frame.Snapshot()
	rc.Fingerprint = cache.Fingerprint(rc.Query, rc.Frame.Signature())
	return Next, nil
}

func cacheLookup(d Deps) func(context.Context, *RunContext) (Signal, error) {
	return func(_ context.Context, rc *RunContext) (Signal, error) {
		if d.Cache == nil {
			return Next, nil
		}
		code, ok := d.Cache.Lookup(rc.Fingerprint)
		if !ok {
			metrics.CacheLookups.WithLabelValues("miss").Inc()
			return Next, nil
		}
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		d.Log.Debug("cache hit, skipping generation", "fingerprint", rc.Fingerprint[:12])
		rc.Artifact = sandbox.NewArtifact(code)
		rc.CacheHit = true
		return SkipToExecute, nil
	}
}

func promptBuild(_ context.Context, rc *RunContext) (Signal, error) {
	rc.SystemPrompt, rc.UserPrompt = GenerationPrompts(rc.Query, rc.Frame)
	return Next, nil
}

func generate(d Deps) func(context.Context, *RunContext) (Signal, error) {
	return func(ctx context.Context, rc *RunContext) (Signal, error) {
		text, err := d.LLM.Complete(ctx, llm.Request{System: rc.SystemPrompt, User: rc.UserPrompt})
		if err != nil {
			return Done, apperr.Wrap(apperr.KindModelFault, err, "code generation failed")
		}
		code, err := llm.ExtractCode(text)
		if err != nil {
			return Done, apperr.Wrap(apperr.KindModelFault, err, "model response had no usable code")
		}
		rc.Artifact = sandbox.NewArtifact(code)
		return Next, nil
	}
}

func cacheStore(d Deps) func(context.Context, *RunContext) (Signal, error) {
	return func(_ context.Context, rc *RunContext) (Signal, error) {
		if d.Cache != nil {
			d.Cache.Store(rc.Fingerprint, rc.Artifact.Code)
		}
		return Next, nil
	}
}

func safetyGate(d Deps) func(context.Context, *RunContext) (Signal, error) {
	return func(_ context.Context, rc *RunContext) (Signal, error) {
		verdict := safety.Check(rc.Artifact.Code)
		d.Audit.LogVerdict(rc.SessionID, rc.Artifact.Fingerprint(), verdict)
		if verdict.Safe {
			return Next, nil
		}

		for _, rule := range verdict.RuleIDs() {
			metrics.SafetyRejections.WithLabelValues(string(rule)).Inc()
		}
		if d.Cache != nil {
			d.Cache.Invalidate(rc.Fingerprint)
		}
		return Done, apperr.New(apperr.KindUnsafeCode, "code rejected by safety check: %s", verdict.Describe())
	}
}

func execute(d Deps, controller *exec.Controller) func(context.Context, *RunContext) (Signal, error) {
	return func(ctx context.Context, rc *RunContext) (Signal, error) {
		out, err := controller.Run(ctx, rc.Artifact, rc.Snapshot)
		if err != nil {
			return Done, err
		}
		rc.Outcome = out
		metrics.ExecutionAttempts.Add(float64(len(out.Attempts)))
		if len(out.Attempts) > 0 {
			rc.Artifact = out.Attempts[len(out.Attempts)-1].Artifact
		}
		return Next, nil
	}
}

func validateResult(d Deps) func(context.Context, *RunContext) (Signal, error) {
	return func(_ context.Context, rc *RunContext) (Signal, error) {
		switch {
		case rc.Outcome.State == exec.StateSucceeded && rc.Outcome.Mismatch != "":
			d.Log.Warn("delivering value with shape mismatch",
				"kind", rc.Outcome.Result.Kind, "detail", rc.Outcome.Mismatch)
		case rc.Outcome.State == exec.StateExhausted && d.Cache != nil:
			// Cached or freshly stored code that cannot run must not be
			// served again.
			d.Cache.Invalidate(rc.Fingerprint)
		}
		return Next, nil
	}
}

func parseResult(_ context.Context, rc *RunContext) (Signal, error) {
	if rc.Outcome.State == exec.StateSucceeded {
		rc.deliver(rc.Outcome)
	} else {
		rc.fail(rc.Outcome.ErrorKind, rc.Outcome.ErrorMessage)
	}
	return Done, nil
}
