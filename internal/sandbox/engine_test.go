package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
)

func testSnapshot() dataset.Snapshot {
	return dataset.Snapshot{
		Name: "sales",
		Columns: []dataset.Column{
			{Name: "region", Type: dataset.TypeString},
			{Name: "units", Type: dataset.TypeInteger},
			{Name: "price", Type: dataset.TypeFloat},
		},
		Rows: [][]any{
			{"north", int64(12), 9.99},
			{"south", int64(7), 12.50},
			{"east", int64(31), 4.25},
		},
	}
}

func evalOpts() EngineOptions {
	return EngineOptions{Timeout: 5 * time.Second}
}

func TestEvaluateScalar(t *testing.T) {
	code := `
total = 0
for row in df["rows"]:
    total += row["units"]
result = {"type": "scalar", "value": total}
`
	res, err := Evaluate(context.Background(), code, testSnapshot(), evalOpts())
	require.NoError(t, err)
	require.True(t, res.OK, "message: %s", res.Message)
	assert.Equal(t, KindScalar, res.Kind)
	assert.Equal(t, int64(50), res.Value)
}

func TestEvaluateTable(t *testing.T) {
	code := `
rows = [r for r in df["rows"] if r["units"] > 10]
result = {"type": "table", "value": rows}
`
	res, err := Evaluate(context.Background(), code, testSnapshot(), evalOpts())
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, KindTable, res.Kind)

	rows, ok := res.Value.([]any)
	require.True(t, ok)
	assert.Len(t, rows, 2)
	first, ok := rows[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "north", first["region"])
}

func TestEvaluateLegacyKindSpelling(t *testing.T) {
	code := `result = {"type": "number", "value": 7}`
	res, err := Evaluate(context.Background(), code, testSnapshot(), evalOpts())
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, KindScalar, res.Kind)
}

func TestEvaluateRuntimeFault(t *testing.T) {
	code := `result = {"type": "scalar", "value": df["rows"][99]["units"]}`
	res, err := Evaluate(context.Background(), code, testSnapshot(), evalOpts())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, apperr.KindRuntimeFault, res.ErrorKind)
	assert.NotEmpty(t, res.Message)
}

func TestEvaluateMissingResult(t *testing.T) {
	res, err := Evaluate(context.Background(), `x = 1`, testSnapshot(), evalOpts())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, apperr.KindRuntimeFault, res.ErrorKind)
	assert.Contains(t, res.Message, "result")
}

func TestEvaluateUnknownKind(t *testing.T) {
	res, err := Evaluate(context.Background(), `result = {"type": "blob", "value": 1}`, testSnapshot(), evalOpts())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, apperr.KindRuntimeFault, res.ErrorKind)
}

func TestEvaluateStepLimit(t *testing.T) {
	code := `
total = 0
for i in range(1000000):
    total += i
result = {"type": "scalar", "value": total}
`
	res, err := Evaluate(context.Background(), code, testSnapshot(), EngineOptions{
		Timeout:  5 * time.Second,
		MaxSteps: 1000,
	})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, apperr.KindResourceExceeded, res.ErrorKind)
}

func TestEvaluateTimeout(t *testing.T) {
	// Enough work to outlive a 50ms budget, with a step ceiling too high to
	// intervene first.
	code := `
total = 0
for i in range(1000000):
    for j in range(1000):
        total += j
result = {"type": "scalar", "value": total}
`
	start := time.Now()
	res, err := Evaluate(context.Background(), code, testSnapshot(), EngineOptions{
		Timeout:  50 * time.Millisecond,
		MaxSteps: 1 << 62,
	})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, apperr.KindResourceExceeded, res.ErrorKind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEvaluateCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	code := `
total = 0
for i in range(1000000):
    for j in range(1000):
        total += j
result = {"type": "scalar", "value": total}
`
	_, err := Evaluate(ctx, code, testSnapshot(), EngineOptions{
		Timeout:  time.Minute,
		MaxSteps: 1 << 62,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want ResultKind
		ok   bool
	}{
		{"scalar", KindScalar, true},
		{"number", KindScalar, true},
		{"textual", KindTextual, true},
		{"string", KindTextual, true},
		{"table", KindTable, true},
		{"dataframe", KindTable, true},
		{"chart", KindChart, true},
		{"plot", KindChart, true},
		{"blob", "", false},
	}
	for _, tt := range tests {
		kind, ok := ParseKind(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, kind, tt.in)
	}
}

func TestArtifactFingerprint(t *testing.T) {
	a := NewArtifact("result = 1")
	b := NewArtifact("result = 1")
	c := NewArtifact("result = 2")

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	rev := a.Revise("result = 3")
	assert.True(t, rev.Revision)
	assert.Equal(t, 2, rev.Attempt)
	// The failed artifact is untouched.
	assert.Equal(t, "result = 1", a.Code)
}
