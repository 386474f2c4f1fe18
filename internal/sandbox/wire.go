package sandbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
)

// ExecRequest is the serialization channel into a container or pod runner:
// the code, the dataset snapshot, and the resource budget travel together so
// the runner needs no other state.
type ExecRequest struct {
	Code           string           `json:"code"`
	Frame          dataset.Snapshot `json:"frame"`
	TimeoutSeconds int              `json:"timeout_seconds"`
	MaxSteps       uint64           `json:"max_steps,omitempty"`
	SessionID      string           `json:"session_id,omitempty"`
}

// ExecResponse is the runner's reply.
type ExecResponse struct {
	OK           bool    `json:"ok"`
	Kind         string  `json:"kind,omitempty"`
	Value        any     `json:"value,omitempty"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	Message      string  `json:"message,omitempty"`
	StackSummary string  `json:"stack_summary,omitempty"`
	DurationMS   float64 `json:"duration_ms"`
}

// Timeout returns the request budget as a duration.
func (r ExecRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// ToResponse converts an execution result to its wire form.
func ToResponse(res Result) ExecResponse {
	return ExecResponse{
		OK:           res.OK,
		Kind:         string(res.Kind),
		Value:        res.Value,
		ErrorKind:    string(res.ErrorKind),
		Message:      res.Message,
		StackSummary: res.StackSummary,
		DurationMS:   float64(res.Duration) / float64(time.Millisecond),
	}
}

// FromResponse converts a wire response back to a Result.
func FromResponse(resp ExecResponse) (Result, error) {
	duration := time.Duration(resp.DurationMS * float64(time.Millisecond))
	if resp.OK {
		kind, ok := ParseKind(resp.Kind)
		if !ok {
			return Result{}, fmt.Errorf("runner reported unknown result kind %q", resp.Kind)
		}
		res := Success(kind, resp.Value)
		res.Duration = duration
		return res, nil
	}
	res := Failure(apperr.Kind(resp.ErrorKind), resp.Message, resp.StackSummary)
	if res.ErrorKind == apperr.KindNone {
		res.ErrorKind = apperr.KindRuntimeFault
	}
	res.Duration = duration
	return res, nil
}

// DecodeResponse parses a runner's stdout payload.
func DecodeResponse(data []byte) (Result, error) {
	var resp ExecResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Result{}, fmt.Errorf("failed to decode runner response: %w", err)
	}
	return FromResponse(resp)
}
