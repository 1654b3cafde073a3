package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/titanworks/titan/pkg/engine"
)

func rpcServer(t *testing.T, handle func(name string, args map[string]any) (int, any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Method != "tools/call" || req.JSONRPC != "2.0" {
			t.Errorf("unexpected request %+v", req)
		}
		status, body := handle(req.Params.Name, req.Params.Arguments)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestHTTPClient_StructuredContent(t *testing.T) {
	srv := rpcServer(t, func(name string, args map[string]any) (int, any) {
		return http.StatusOK, map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"structuredContent": map[string]any{"equipmentId": args["equipmentId"], "rulHours": 30},
			},
		}
	})
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Endpoints: map[Group]string{GroupMaintenance: srv.URL}, RatePerSecond: 100, Burst: 5})
	est, err := Call[RULEstimate](context.Background(), c, GroupMaintenance, OpEstimateRUL,
		map[string]any{"equipmentId": "X-001"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if est.EquipmentID != "X-001" || est.RULHours != 30 {
		t.Errorf("estimate = %+v", est)
	}
}

func TestHTTPClient_TextFallback(t *testing.T) {
	srv := rpcServer(t, func(name string, args map[string]any) (int, any) {
		return http.StatusOK, map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"content": []map[string]any{{"type": "text", "text": `{"state":"RUNNING"}`}},
			},
		}
	})
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Endpoints: map[Group]string{GroupSensor: srv.URL}})
	st, err := Call[EquipmentStatus](context.Background(), c, GroupSensor, OpGetEquipmentStatus, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if st.State != "RUNNING" {
		t.Errorf("state = %q", st.State)
	}
}

func TestHTTPClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		check  func(error) bool
	}{
		{name: "throttled", status: http.StatusTooManyRequests, body: map[string]any{}, check: engine.IsThrottled},
		{name: "server error", status: http.StatusBadGateway, body: map[string]any{}, check: engine.IsCapabilityError},
		{name: "rejected", status: http.StatusUnauthorized, body: map[string]any{}, check: engine.IsPermanent},
		{
			name:   "rpc error",
			status: http.StatusOK,
			body:   map[string]any{"jsonrpc": "2.0", "id": 1, "error": map[string]any{"code": -32601, "message": "no such tool"}},
			check:  engine.IsCapabilityError,
		},
		{
			name:   "tool error",
			status: http.StatusOK,
			body: map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{
				"isError": true, "content": []map[string]any{{"type": "text", "text": "stock service down"}},
			}},
			check: engine.IsCapabilityError,
		},
		{
			name:   "empty result",
			status: http.StatusOK,
			body:   map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{}},
			check:  engine.IsMalformedResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := rpcServer(t, func(string, map[string]any) (int, any) { return tt.status, tt.body })
			defer srv.Close()

			c := NewHTTPClient(HTTPConfig{Endpoints: map[Group]string{GroupInventory: srv.URL}})
			_, err := c.Invoke(context.Background(), Request{Group: GroupInventory, Operation: OpCheckStock})
			if err == nil || !tt.check(err) {
				t.Errorf("error = %v", err)
			}
		})
	}
}

func TestHTTPClient_NoEndpoint(t *testing.T) {
	c := NewHTTPClient(HTTPConfig{})
	_, err := c.Invoke(context.Background(), Request{Group: GroupGovernance, Operation: OpGetComplianceReport})
	if !engine.IsPermanent(err) {
		t.Errorf("error = %v, want permanent", err)
	}
}
