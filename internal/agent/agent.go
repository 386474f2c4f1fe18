// Package agent assembles the pipeline into the question-answering surface:
// load a dataset, ask questions, get typed answers.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/tabulon-ai/tabulon/internal/cache"
	"github.com/tabulon-ai/tabulon/internal/config"
	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
	"github.com/tabulon-ai/tabulon/internal/llm"
	"github.com/tabulon-ai/tabulon/internal/memory"
	"github.com/tabulon-ai/tabulon/internal/pipeline"
	"github.com/tabulon-ai/tabulon/internal/safety"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

const anthropicMaxTokens = 4096

// Response is the agent's answer to one question.
type Response struct {
	OK       bool
	Kind     sandbox.ResultKind
	Value    any
	Mismatch string

	ErrorKind    apperr.Kind
	ErrorMessage string

	CacheHit bool
	Attempts int
	Elapsed  time.Duration
}

// Options overrides individual collaborators, primarily for tests. Nil
// fields are built from configuration.
type Options struct {
	Logger  *slog.Logger
	LLM     llm.Client
	Sandbox sandbox.Sandbox
	Memory  memory.Store
	Audit   safety.AuditLogger
}

// Agent owns one conversation: a dataset, a memory store, and the pipeline
// that answers questions about the data.
type Agent struct {
	cfg       *config.Config
	log       *slog.Logger
	engine    *pipeline.Engine
	sandbox   sandbox.Sandbox
	cache     *cache.CodeCache
	memory    memory.Store
	frame     *dataset.Frame
	sessionID string
}

// New builds an agent from configuration, constructing the LLM client,
// sandbox backend, cache, and memory store it was configured with.
func New(cfg *config.Config, opts Options) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	sessionID := uuid.NewString()

	client := opts.LLM
	if client == nil {
		var err error
		client, err = buildClient(cfg, log)
		if err != nil {
			return nil, err
		}
	}

	sb := opts.Sandbox
	if sb == nil {
		var err error
		sb, err = buildSandbox(cfg, log)
		if err != nil {
			return nil, err
		}
	}

	var codeCache *cache.CodeCache
	if cfg.Cache.Enabled {
		codeCache = cache.New(cfg.Cache.TTL)
	}

	store := opts.Memory
	if store == nil {
		var err error
		store, err = buildMemory(cfg, sessionID)
		if err != nil {
			return nil, err
		}
	}

	audit := opts.Audit
	if audit == nil {
		audit = safety.NewAuditLogger(cfg.Security.AuditLogPath)
	}

	stages := pipeline.DefaultStages(pipeline.Deps{
		LLM:               client,
		Sandbox:           sb,
		Cache:             codeCache,
		Audit:             audit,
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		CorrectionEnabled: cfg.Pipeline.ErrorCorrectionEnabled,
		Log:               log,
	})

	return &Agent{
		cfg:       cfg,
		log:       log,
		engine:    pipeline.NewEngine(stages, log),
		sandbox:   sb,
		cache:     codeCache,
		memory:    store,
		sessionID: sessionID,
	}, nil
}

func buildClient(cfg *config.Config, log *slog.Logger) (llm.Client, error) {
	switch cfg.Provider.Name {
	case config.ProviderAnthropic:
		return llm.NewAnthropicClient(anthropic.Model(cfg.Provider.AnthropicModel), anthropicMaxTokens, log), nil
	case config.ProviderOllama:
		return llm.NewOllamaClient(cfg.Provider.OllamaURL, cfg.Provider.OllamaModel, nil), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
}

func buildSandbox(cfg *config.Config, log *slog.Logger) (sandbox.Sandbox, error) {
	switch cfg.Sandbox.Backend {
	case config.BackendInline:
		return sandbox.NewInlineSandbox(cfg.Sandbox.Timeout, uint64(cfg.Sandbox.MaxSteps), log)
	case config.BackendContainer:
		return sandbox.NewContainerSandbox(context.Background(), sandbox.ContainerConfig{
			Image:       cfg.Sandbox.ContainerImage,
			Timeout:     cfg.Sandbox.Timeout,
			MemoryLimit: cfg.Sandbox.MemoryLimit,
			MaxSteps:    uint64(cfg.Sandbox.MaxSteps),
			PoolSize:    cfg.Sandbox.ContainerPoolSize,
		}, log)
	case config.BackendPod:
		return sandbox.NewPodSandbox(sandbox.PodConfig{
			Namespace:   cfg.Sandbox.PodNamespace,
			Image:       cfg.Sandbox.PodImage,
			Timeout:     cfg.Sandbox.Timeout,
			MemoryLimit: cfg.Sandbox.MemoryLimit,
			MaxSteps:    uint64(cfg.Sandbox.MaxSteps),
		}, log)
	}
	return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Sandbox.Backend)
}

func buildMemory(cfg *config.Config, sessionID string) (memory.Store, error) {
	if cfg.Memory.Persistent {
		return memory.NewSQLiteStore(cfg.Memory.DBPath, sessionID)
	}
	return memory.NewRingStore(cfg.Memory.RingSize), nil
}

// SessionID identifies this conversation.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// SetFrame replaces the dataset under discussion.
func (a *Agent) SetFrame(frame *dataset.Frame) {
	a.frame = frame
}

// Frame returns the dataset under discussion, nil when none is loaded.
func (a *Agent) Frame() *dataset.Frame {
	return a.frame
}

// LoadDataset loads a CSV or JSON file as the dataset under discussion.
func (a *Agent) LoadDataset(path string) error {
	frame, err := dataset.Load(path)
	if err != nil {
		return err
	}
	a.frame = frame
	a.log.Info("dataset loaded", "name", frame.Name,
		"columns", len(frame.Columns), "rows", frame.RowCount())
	return nil
}

// Ask answers one natural-language question about the loaded dataset. The
// error return is reserved for infrastructure faults and cancellation; every
// pipeline-level failure arrives inside the Response.
func (a *Agent) Ask(ctx context.Context, query string) (Response, error) {
	rc := &pipeline.RunContext{
		Query:     query,
		Frame:     a.frame,
		SessionID: a.sessionID,
	}

	resp, err := a.engine.Run(ctx, rc)
	if err != nil {
		return Response{}, err
	}

	a.remember(query, resp, rc.Fingerprint)

	return Response{
		OK:           resp.OK,
		Kind:         resp.Kind,
		Value:        resp.Value,
		Mismatch:     resp.Mismatch,
		ErrorKind:    resp.ErrorKind,
		ErrorMessage: resp.ErrorMessage,
		CacheHit:     resp.CacheHit,
		Attempts:     resp.Attempts,
		Elapsed:      resp.Elapsed,
	}, nil
}

// remember records the turn. Only accepted values enter the conversation;
// error text stays out of memory so it can never leak into later prompts.
func (a *Agent) remember(query string, resp pipeline.Response, fingerprint string) {
	if err := a.memory.Add(memory.RoleUser, query); err != nil {
		a.log.Warn("failed to record query", "error", err)
	}
	if resp.OK {
		if err := a.memory.Add(memory.RoleAssistant, fmt.Sprintf("%v", resp.Value)); err != nil {
			a.log.Warn("failed to record answer", "error", err)
		}
	}

	outcome := "success"
	if !resp.OK {
		outcome = string(resp.ErrorKind)
	}
	if err := a.memory.RecordRun(memory.RunRecord{
		SessionID:   a.sessionID,
		Query:       query,
		Fingerprint: fingerprint,
		Outcome:     outcome,
		Duration:    resp.Elapsed,
	}); err != nil {
		a.log.Warn("failed to record run", "error", err)
	}
}

// History returns the most recent conversation turns.
func (a *Agent) History(n int) ([]memory.Message, error) {
	return a.memory.History(n)
}

// Close releases the sandbox, cache, and memory store.
func (a *Agent) Close() error {
	var firstErr error
	if err := a.sandbox.Close(); err != nil {
		firstErr = err
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if err := a.memory.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
