package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultScriptSteps bounds the Starlark execution steps of one selection.
const DefaultScriptSteps = 100_000

// ScriptStrategy lets an operator-supplied Starlark program choose the
// calls for each intent. The program must define
//
//	def select(intent, calls, facts):
//	    return calls
//
// where intent is a struct with name, group and required, calls is a list of
// {"operation": ..., "args": {...}} dicts and facts is a dict. It returns a
// list of the same shape. The result is still subject to the performer's
// allow-list and required-operation checks.
type ScriptStrategy struct {
	source   string
	filename string
	timeout  time.Duration
	maxSteps uint64
}

// NewScriptStrategy compiles nothing up front; the source is executed per
// selection so a script has no state between intents.
func NewScriptStrategy(filename, source string, timeout time.Duration) *ScriptStrategy {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ScriptStrategy{
		source:   source,
		filename: filename,
		timeout:  timeout,
		maxSteps: DefaultScriptSteps,
	}
}

// LoadScriptStrategy reads a strategy program from disk.
func LoadScriptStrategy(path string, timeout time.Duration) (*ScriptStrategy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy script: %w", err)
	}
	return NewScriptStrategy(path, string(src), timeout), nil
}

// Select implements Strategy.
func (s *ScriptStrategy) Select(ctx context.Context, intent Intent) ([]Call, error) {
	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "strategy/" + intent.Name,
		Print: func(_ *starlark.Thread, msg string) {},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)

	type reply struct {
		calls []Call
		err   error
	}
	ch := make(chan reply, 1)
	go func() {
		calls, err := s.selectSync(thread, intent)
		ch <- reply{calls: calls, err: err}
	}()

	select {
	case r := <-ch:
		return r.calls, r.err
	case <-evalCtx.Done():
		thread.Cancel("strategy timeout")
		return nil, fmt.Errorf("strategy script timed out after %v", s.timeout)
	}
}

func (s *ScriptStrategy) selectSync(thread *starlark.Thread, intent Intent) ([]Call, error) {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	globals, err := starlark.ExecFile(thread, s.filename, s.source, predeclared)
	if err != nil {
		return nil, fmt.Errorf("strategy script failed: %w", err)
	}

	fn, ok := globals["select"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("strategy script must define select(intent, calls, facts)")
	}

	required := make([]interface{}, len(intent.Required))
	for i, r := range intent.Required {
		required[i] = r
	}
	intentVal := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"name":     starlark.String(intent.Name),
		"group":    starlark.String(string(intent.Group)),
		"required": mustStarlark(required),
	})

	callsVal, err := toStarlarkValue(normalize(intent.Calls))
	if err != nil {
		return nil, fmt.Errorf("failed to convert calls: %w", err)
	}
	factsVal, err := toStarlarkValue(normalize(intent.Facts))
	if err != nil {
		return nil, fmt.Errorf("failed to convert facts: %w", err)
	}

	out, err := starlark.Call(thread, fn, starlark.Tuple{intentVal, callsVal, factsVal}, nil)
	if err != nil {
		return nil, fmt.Errorf("select failed: %w", err)
	}

	goVal, err := fromStarlarkValue(out)
	if err != nil {
		return nil, fmt.Errorf("failed to convert selection: %w", err)
	}
	raw, err := json.Marshal(goVal)
	if err != nil {
		return nil, err
	}
	var calls []Call
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil, fmt.Errorf("select must return a list of {operation, args} dicts: %w", err)
	}
	return calls, nil
}

// normalize turns typed values into the JSON-shaped maps and slices the
// Starlark conversion understands.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func mustStarlark(v interface{}) starlark.Value {
	sv, err := toStarlarkValue(v)
	if err != nil {
		return starlark.None
	}
	return sv
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = gv
		}
		return list, nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = gv
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			gv, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = gv
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			gv, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = gv
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
