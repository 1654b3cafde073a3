package capability

import (
	"context"
	"fmt"

	"github.com/titanworks/titan/pkg/engine"
)

// DefaultMaxCalls bounds the calls a strategy may select for one intent.
const DefaultMaxCalls = 12

// Call is one selected operation with its arguments.
type Call struct {
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args,omitempty"`
}

// Intent is what an action wants to find out or do through one capability
// group. Calls is the canonical call sequence; Required lists operations
// whose results the action depends on and that every strategy must keep.
type Intent struct {
	Name     string         `json:"name"`
	Group    Group          `json:"group"`
	Facts    map[string]any `json:"facts,omitempty"`
	Calls    []Call         `json:"calls"`
	Required []string       `json:"required,omitempty"`
}

// Strategy decides which calls to make for an intent and in what order.
type Strategy interface {
	Select(ctx context.Context, intent Intent) ([]Call, error)
}

// Deterministic returns the intent's canonical calls unchanged.
type Deterministic struct{}

// Select implements Strategy.
func (Deterministic) Select(_ context.Context, intent Intent) ([]Call, error) {
	return intent.Calls, nil
}

// CallResult pairs a call with its result.
type CallResult struct {
	Call   Call   `json:"call"`
	Result Result `json:"result"`
}

// Outcome is the ordered results of one performed intent.
type Outcome []CallResult

// First returns the first result for op.
func (o Outcome) First(op string) (Result, bool) {
	for _, cr := range o {
		if cr.Call.Operation == op {
			return cr.Result, true
		}
	}
	return nil, false
}

// All returns every result for op, in call order.
func (o Outcome) All(op string) []CallResult {
	var out []CallResult
	for _, cr := range o {
		if cr.Call.Operation == op {
			out = append(out, cr)
		}
	}
	return out
}

// Performer executes intents through a client under a strategy.
type Performer struct {
	client   Client
	strategy Strategy
	allow    AllowList
	maxCalls int
}

// NewPerformer creates a performer. A nil strategy means Deterministic.
func NewPerformer(client Client, strategy Strategy, allow AllowList) *Performer {
	if strategy == nil {
		strategy = Deterministic{}
	}
	if allow == nil {
		allow = DefaultAllowList()
	}
	return &Performer{client: client, strategy: strategy, allow: allow, maxCalls: DefaultMaxCalls}
}

// Client returns the underlying client for direct calls.
func (p *Performer) Client() Client {
	return p.client
}

// Perform selects calls for intent, checks them against the allow-list and
// the required-operation contract, then executes them in order. The first
// failing call aborts the intent.
func (p *Performer) Perform(ctx context.Context, intent Intent) (Outcome, error) {
	calls, err := p.strategy.Select(ctx, intent)
	if err != nil {
		return nil, engine.NewMalformedResultError(
			fmt.Sprintf("strategy failed for intent %s", intent.Name), err).
			WithDetail("group", string(intent.Group))
	}
	if err := p.check(intent, calls); err != nil {
		return nil, err
	}

	outcome := make(Outcome, 0, len(calls))
	for _, call := range calls {
		res, err := p.client.Invoke(ctx, Request{Group: intent.Group, Operation: call.Operation, Args: call.Args})
		if err != nil {
			return outcome, err
		}
		outcome = append(outcome, CallResult{Call: call, Result: res})
	}
	return outcome, nil
}

func (p *Performer) check(intent Intent, calls []Call) error {
	if len(calls) > p.maxCalls {
		return engine.NewMalformedResultError(
			fmt.Sprintf("strategy selected %d calls for %s, limit is %d", len(calls), intent.Name, p.maxCalls), nil)
	}

	seen := make(map[string]bool, len(calls))
	for _, c := range calls {
		if !p.allow.Allows(intent.Group, c.Operation) {
			return engine.NewPermanentError(
				fmt.Sprintf("strategy selected disallowed operation %s.%s", intent.Group, c.Operation), nil).
				WithCode(engine.ErrCodeCapability).
				WithOperation(c.Operation)
		}
		seen[c.Operation] = true
	}
	for _, req := range intent.Required {
		if !seen[req] {
			return engine.NewMalformedResultError(
				fmt.Sprintf("strategy dropped required operation %s for %s", req, intent.Name), nil).
				WithOperation(req)
		}
	}
	return nil
}
