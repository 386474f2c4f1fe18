package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/tabulon-ai/tabulon/internal/errors"
	"github.com/tabulon-ai/tabulon/internal/llm"
	"github.com/tabulon-ai/tabulon/internal/sandbox"
)

type stubClient struct {
	response string
	err      error
	lastReq  llm.Request
}

func (s *stubClient) Complete(_ context.Context, req llm.Request) (string, error) {
	s.lastReq = req
	return s.response, s.err
}

func TestCorrectReturnsRevision(t *testing.T) {
	client := &stubClient{response: "Here is the fix:\n```starlark\ntotal = 0\nresult = {\"type\": \"scalar\", \"value\": total}\n```"}
	corr := NewLLMCorrector(client, nil)
	failed := sandbox.NewArtifact("broken = 1")

	revised, err := corr.Correct(context.Background(), failed, "execution failed (RuntimeFault): key not found", testSnapshot())
	require.NoError(t, err)
	assert.True(t, revised.Revision)
	assert.Equal(t, 2, revised.Attempt)
	assert.Contains(t, revised.Code, "total = 0")
}

func TestCorrectPromptIsIsolated(t *testing.T) {
	client := &stubClient{response: "```\nx = 1\n```"}
	corr := NewLLMCorrector(client, nil)

	_, err := corr.Correct(context.Background(), sandbox.NewArtifact("broken = 1"), "execution failed", testSnapshot())
	require.NoError(t, err)
	// The prompt carries the failed code, the failure, and the schema; no
	// conversation history.
	assert.Contains(t, client.lastReq.User, "broken = 1")
	assert.Contains(t, client.lastReq.User, "execution failed")
	assert.Contains(t, client.lastReq.User, `Dataset "sales"`)
}

func TestCorrectPromptStatesSafetyRules(t *testing.T) {
	client := &stubClient{response: "```\nx = 1\n```"}
	corr := NewLLMCorrector(client, nil)

	_, err := corr.Correct(context.Background(), sandbox.NewArtifact("broken = 1"), "execution failed", testSnapshot())
	require.NoError(t, err)
	// The model has to know the rules it must not break, or a fix for a
	// runtime fault can drift into rejected territory.
	full := client.lastReq.System + "\n" + client.lastReq.User
	assert.Contains(t, full, "No load() statements")
	assert.Contains(t, full, "getattr")
	assert.Contains(t, full, "__import__")
	assert.Contains(t, full, "double underscores")
}

func TestCorrectNoCodeBlock(t *testing.T) {
	client := &stubClient{response: "I cannot fix this program."}
	corr := NewLLMCorrector(client, nil)

	_, err := corr.Correct(context.Background(), sandbox.NewArtifact("x = 1"), "fault", testSnapshot())
	assert.True(t, apperr.IsKind(err, apperr.KindCorrectionUnavailable))
}

func TestCorrectClientError(t *testing.T) {
	client := &stubClient{err: errors.New("connection refused")}
	corr := NewLLMCorrector(client, nil)

	_, err := corr.Correct(context.Background(), sandbox.NewArtifact("x = 1"), "fault", testSnapshot())
	assert.True(t, apperr.IsKind(err, apperr.KindCorrectionUnavailable))
}

func TestCorrectUnsafeRevisionRejected(t *testing.T) {
	client := &stubClient{response: "```starlark\nx = eval\n```"}
	corr := NewLLMCorrector(client, nil)

	_, err := corr.Correct(context.Background(), sandbox.NewArtifact("x = 1"), "fault", testSnapshot())
	assert.True(t, apperr.IsKind(err, apperr.KindUnsafeCode))
}
