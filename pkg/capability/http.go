package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/titanworks/titan/pkg/engine"
)

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	// Endpoints maps each group to its JSON-RPC endpoint URL.
	Endpoints map[Group]string

	// RatePerSecond limits calls per group; zero disables limiting.
	RatePerSecond float64

	// Burst is the limiter burst size.
	Burst int

	// Timeout is the transport-level timeout, independent of WithTimeout.
	Timeout time.Duration

	// Headers are added to every request (e.g. an API key).
	Headers map[string]string
}

// HTTPClient calls capability servers speaking JSON-RPC 2.0 "tools/call".
type HTTPClient struct {
	cfg      HTTPConfig
	http     *http.Client
	limiters map[Group]*rate.Limiter
	nextID   atomic.Int64
}

// NewHTTPClient creates the adapter.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &HTTPClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiters: make(map[Group]*rate.Limiter),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		for group := range cfg.Endpoints {
			c.limiters[group] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
		}
	}
	return c
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolResult is the tools/call envelope; structuredContent carries the
// typed payload, isError flags tool-level failures.
type toolResult struct {
	StructuredContent Result `json:"structuredContent,omitempty"`
	IsError           bool   `json:"isError,omitempty"`
	Content           []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
}

// Invoke implements Client.
func (c *HTTPClient) Invoke(ctx context.Context, req Request) (Result, error) {
	endpoint, ok := c.cfg.Endpoints[req.Group]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("no endpoint for group %s", req.Group), nil).
			WithCode(engine.ErrCodeCapability).
			WithOperation(req.Operation)
	}

	if limiter := c.limiters[req.Group]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, engine.NewThrottledError("capability rate limit wait aborted", err).
				WithCode(engine.ErrCodeCapability).
				WithOperation(req.Operation)
		}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "tools/call",
		Params:  rpcParams{Name: req.Operation, Arguments: req.Args},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, engine.NewCapabilityError(string(req.Group), req.Operation, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, engine.NewCapabilityError(string(req.Group), req.Operation, err)
	}

	if err := statusError(resp.StatusCode, payload, req); err != nil {
		return nil, err
	}
	return decodeToolResult(payload, req)
}

func statusError(code int, payload []byte, req Request) error {
	switch {
	case code == http.StatusTooManyRequests:
		return engine.NewThrottledError("capability provider throttled", fmt.Errorf("status %d", code)).
			WithCode(engine.ErrCodeCapability).
			WithOperation(req.Operation)
	case code >= 500:
		return engine.NewCapabilityError(string(req.Group), req.Operation,
			fmt.Errorf("status %d: %s", code, truncate(payload)))
	case code >= 400:
		return engine.NewPermanentError("capability request rejected",
			fmt.Errorf("status %d: %s", code, truncate(payload))).
			WithCode(engine.ErrCodeCapability).
			WithOperation(req.Operation)
	}
	return nil
}

func decodeToolResult(payload []byte, req Request) (Result, error) {
	var rpc rpcResponse
	if err := json.Unmarshal(payload, &rpc); err != nil {
		return nil, engine.NewMalformedResultError("invalid JSON-RPC response", err).WithOperation(req.Operation)
	}
	if rpc.Error != nil {
		return nil, engine.NewCapabilityError(string(req.Group), req.Operation,
			fmt.Errorf("rpc error %d: %s", rpc.Error.Code, rpc.Error.Message))
	}

	var tr toolResult
	if err := json.Unmarshal(rpc.Result, &tr); err != nil {
		return nil, engine.NewMalformedResultError("invalid tool result", err).WithOperation(req.Operation)
	}
	if tr.IsError {
		msg := "tool reported an error"
		if len(tr.Content) > 0 {
			msg = tr.Content[0].Text
		}
		return nil, engine.NewCapabilityError(string(req.Group), req.Operation, fmt.Errorf("%s", msg))
	}
	if tr.StructuredContent != nil {
		return tr.StructuredContent, nil
	}

	// Older servers return the JSON payload as the first text block.
	for _, block := range tr.Content {
		if block.Type != "text" {
			continue
		}
		var out Result
		if err := json.Unmarshal([]byte(block.Text), &out); err == nil {
			return out, nil
		}
	}
	return nil, engine.NewMalformedResultError("tool result has no structured content", nil).
		WithOperation(req.Operation)
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
