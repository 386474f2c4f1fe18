package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/tabulon-ai/tabulon/internal/dataset"
	apperr "github.com/tabulon-ai/tabulon/internal/errors"
)

// DefaultMaxSteps bounds interpreter work when no explicit budget is set.
const DefaultMaxSteps = 50_000_000

// EngineOptions configures one evaluation.
type EngineOptions struct {
	// Timeout is the wall-clock budget. Must be positive.
	Timeout time.Duration

	// MaxSteps caps interpreter steps, standing in for a memory/CPU ceiling
	// inside the process. Zero means DefaultMaxSteps.
	MaxSteps uint64
}

const cancelDeadline = "execution deadline exceeded"

// FileOptions is the dialect generated programs are parsed with: top-level
// control flow and reassignment on (models write script-shaped code), while
// loops and recursion off so every program terminates.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Evaluate runs one program against one dataset snapshot and extracts the
// declared result. Program-level failures come back inside the Result; the
// error return is reserved for caller cancellation.
func Evaluate(ctx context.Context, code string, snapshot dataset.Snapshot, opts EngineOptions) (Result, error) {
	start := time.Now()

	maxSteps := opts.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	thread := &starlark.Thread{Name: "tabulon"}
	thread.SetMaxExecutionSteps(maxSteps)

	// Propagate cancellation into the interpreter.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-execCtx.Done():
			thread.Cancel(cancelDeadline)
		case <-watchDone:
		}
	}()

	predeclared := starlark.StringDict{
		"df":   frameValue(snapshot),
		"math": starlarkmath.Module,
		"json": starlarkjson.Module,
	}

	globals, err := starlark.ExecFileOptions(FileOptions, thread, "program.star", code, predeclared)
	duration := time.Since(start)

	if err != nil {
		// Caller cancellation aborts rather than producing a failure result.
		if ctx.Err() == context.Canceled {
			return Result{}, ctx.Err()
		}
		res := classifyEvalError(err, execCtx)
		res.Duration = duration
		return res, nil
	}

	res := extractResult(globals)
	res.Duration = duration
	return res, nil
}

// classifyEvalError maps an interpreter error onto the failure taxonomy.
func classifyEvalError(err error, execCtx context.Context) Result {
	msg := err.Error()

	if execCtx.Err() == context.DeadlineExceeded || strings.Contains(msg, cancelDeadline) {
		return Failure(apperr.KindResourceExceeded, "execution timed out", "")
	}
	if strings.Contains(msg, "too many steps") {
		return Failure(apperr.KindResourceExceeded, "execution step limit exceeded", "")
	}

	if evalErr, ok := err.(*starlark.EvalError); ok {
		return Failure(apperr.KindRuntimeFault, evalErr.Msg, stackSummary(evalErr.Backtrace()))
	}
	// Syntax errors reaching this point count as runtime faults: the safety
	// gate normally rejects them first.
	return Failure(apperr.KindRuntimeFault, msg, "")
}

// stackSummary keeps the first few backtrace lines so correction prompts stay
// small.
func stackSummary(backtrace string) string {
	lines := strings.Split(strings.TrimSpace(backtrace), "\n")
	if len(lines) > 4 {
		lines = lines[:4]
	}
	return strings.Join(lines, "\n")
}

// extractResult reads the program's `result` global: a dict with "type" and
// "value" entries, the convention the generation prompt mandates.
func extractResult(globals starlark.StringDict) Result {
	val, ok := globals["result"]
	if !ok {
		return Failure(apperr.KindRuntimeFault, `program did not assign a "result" variable`, "")
	}

	dict, ok := val.(*starlark.Dict)
	if !ok {
		return Failure(apperr.KindRuntimeFault,
			fmt.Sprintf(`result must be a dict with "type" and "value", got %s`, val.Type()), "")
	}

	typeVal, found, err := dict.Get(starlark.String("type"))
	if err != nil || !found {
		return Failure(apperr.KindRuntimeFault, `result dict is missing "type"`, "")
	}
	typeStr, ok := starlark.AsString(typeVal)
	if !ok {
		return Failure(apperr.KindRuntimeFault, `result "type" must be a string`, "")
	}
	kind, ok := ParseKind(typeStr)
	if !ok {
		return Failure(apperr.KindRuntimeFault,
			fmt.Sprintf("unknown result type %q (expected scalar, textual, table, or chart)", typeStr), "")
	}

	valueVal, found, err := dict.Get(starlark.String("value"))
	if err != nil || !found {
		return Failure(apperr.KindRuntimeFault, `result dict is missing "value"`, "")
	}

	value, err := fromStarlark(valueVal)
	if err != nil {
		return Failure(apperr.KindRuntimeFault, err.Error(), "")
	}
	return Success(kind, value)
}

// frameValue exposes a snapshot to programs as a dict:
// df["columns"], df["types"], df["rows"] (list of row dicts), df["num_rows"].
func frameValue(snap dataset.Snapshot) starlark.Value {
	columns := starlark.NewList(nil)
	types := starlark.NewDict(len(snap.Columns))
	for _, c := range snap.Columns {
		columns.Append(starlark.String(c.Name))
		types.SetKey(starlark.String(c.Name), starlark.String(string(c.Type)))
	}

	rows := starlark.NewList(nil)
	for _, row := range snap.Rows {
		d := starlark.NewDict(len(snap.Columns))
		for i, c := range snap.Columns {
			var v any
			if i < len(row) {
				v = row[i]
			}
			d.SetKey(starlark.String(c.Name), toStarlark(v))
		}
		rows.Append(d)
	}

	df := starlark.NewDict(5)
	df.SetKey(starlark.String("name"), starlark.String(snap.Name))
	df.SetKey(starlark.String("columns"), columns)
	df.SetKey(starlark.String("types"), types)
	df.SetKey(starlark.String("rows"), rows)
	df.SetKey(starlark.String("num_rows"), starlark.MakeInt(len(snap.Rows)))
	return df
}

func toStarlark(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int:
		return starlark.MakeInt(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		// JSON round trips deliver whole numbers as floats; keep integers
		// integral so programs can index and compare naturally.
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val))
		}
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return val.String(), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, k := range val.Keys() {
			ks, ok := starlark.AsString(k)
			if !ok {
				ks = k.String()
			}
			item, _, err := val.Get(k)
			if err != nil {
				return nil, err
			}
			converted, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			out[ks] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("result value of type %s is not serializable", v.Type())
	}
}
