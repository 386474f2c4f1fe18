package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindRetryable(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{KindUnsafeCode, false},
		{KindRuntimeFault, true},
		{KindResourceExceeded, true},
		{KindCorrectionUnavailable, false},
		{KindModelFault, false},
		{KindExecutionExhausted, false},
		{KindInvalidInput, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.kind.Retryable())
		})
	}
}

func TestAttemptCost(t *testing.T) {
	assert.Equal(t, 2, KindResourceExceeded.AttemptCost())
	assert.Equal(t, 1, KindRuntimeFault.AttemptCost())
	assert.Equal(t, 1, KindUnsafeCode.AttemptCost())
}

func TestClassifiedError(t *testing.T) {
	base := fmt.Errorf("division by zero")
	err := Wrap(KindRuntimeFault, base, "attempt %d failed", 2)

	assert.Equal(t, "RuntimeFault: attempt 2 failed: division by zero", err.Error())
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, KindRuntimeFault, KindOf(err))
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := New(KindResourceExceeded, "timed out after 5s")
	outer := fmt.Errorf("execute stage: %w", inner)

	assert.Equal(t, KindResourceExceeded, KindOf(outer))
	assert.True(t, IsKind(outer, KindResourceExceeded))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindRuntimeFault, KindOf(fmt.Errorf("plain error")))
}
