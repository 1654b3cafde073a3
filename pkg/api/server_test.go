package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/ingress"
	"github.com/titanworks/titan/pkg/remediation"
	"github.com/titanworks/titan/pkg/stores"
	"github.com/titanworks/titan/pkg/telemetry"
)

const testSecret = "test-secret"

// fakeIngress records calls and answers from canned values.
type fakeIngress struct {
	mu         sync.Mutex
	submitted  []remediation.AnomalyEvent
	receipt    ingress.Receipt
	submitErr  error
	risk       []string
	approvals  []string
	approveErr error
	dismissals []string
	dismissErr error
}

func (f *fakeIngress) Submit(_ context.Context, ev remediation.AnomalyEvent) (ingress.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, ev)
	if f.submitErr != nil {
		return ingress.Receipt{}, f.submitErr
	}
	r := f.receipt
	r.EventID = ev.EventID
	return r, nil
}

func (f *fakeIngress) ObserveRisk(equipmentID, riskLevel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.risk = append(f.risk, equipmentID+"="+riskLevel)
	if remediation.IsNormalRisk(riskLevel) {
		return 2
	}
	return 0
}

func (f *fakeIngress) Approve(_ context.Context, id, approver string) (*ingress.ApprovalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, id+" by "+approver)
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	return &ingress.ApprovalResult{
		RecommendationID: id,
		RunID:            "run-approved",
		Status:           engine.RunStatusCompleted,
		Trace:            []string{"scheduleWithLocalParts", "checkCompliance", "finalize"},
		WorkOrderID:      "WO-1001",
	}, nil
}

func (f *fakeIngress) Dismiss(_ context.Context, id, by, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissals = append(f.dismissals, fmt.Sprintf("%s by %s: %s", id, by, reason))
	return f.dismissErr
}

// fakeStore serves fixed rows.
type fakeStore struct {
	runs      map[string]*stores.Run
	recs      []*stores.Recommendation
	actions   []*stores.AutomatedAction
	lastQuery stores.RunFilter
	lastRecs  stores.RecommendationStatus
	healthErr error
}

func (f *fakeStore) GetRun(_ context.Context, id string) (*stores.Run, error) {
	if run, ok := f.runs[id]; ok {
		return run, nil
	}
	return nil, fmt.Errorf("run %s: %w", id, stores.ErrNotFound)
}

func (f *fakeStore) ListRuns(_ context.Context, filter stores.RunFilter) ([]*stores.Run, error) {
	f.lastQuery = filter
	out := []*stores.Run{}
	for _, run := range f.runs {
		out = append(out, run)
	}
	return out, nil
}

func (f *fakeStore) GetRecommendation(_ context.Context, id string) (*stores.Recommendation, error) {
	for _, rec := range f.recs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("recommendation %s: %w", id, stores.ErrNotFound)
}

func (f *fakeStore) ListRecommendations(_ context.Context, status stores.RecommendationStatus, _, _ int) ([]*stores.Recommendation, error) {
	f.lastRecs = status
	out := []*stores.Recommendation{}
	for _, rec := range f.recs {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAutomatedActions(_ context.Context, equipmentID string, _, _ int) ([]*stores.AutomatedAction, error) {
	out := []*stores.AutomatedAction{}
	for _, a := range f.actions {
		if equipmentID == "" || a.EquipmentID == equipmentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) HealthCheck(context.Context) error { return f.healthErr }

type fixture struct {
	ingress *fakeIngress
	store   *fakeStore
	server  *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	st := &fakeStore{
		runs: map[string]*stores.Run{
			"run-1": {ID: "run-1", Goal: "CriticalAnomalyResponse", EquipmentID: "X-001",
				Status: engine.RunStatusCompleted, Trace: []string{"diagnose", "assessUrgency"}, CreatedAt: created},
		},
		recs: []*stores.Recommendation{
			{ID: "REC-00000001", RunID: "run-2", EquipmentID: "X-002", Status: stores.RecommendationPending, CreatedAt: created},
			{ID: "REC-00000002", RunID: "run-3", EquipmentID: "X-003", Status: stores.RecommendationDismissed, CreatedAt: created},
		},
		actions: []*stores.AutomatedAction{
			{ID: "ACT-00000001", RunID: "run-1", EquipmentID: "X-001", WorkOrderID: "WO-1000"},
		},
	}
	ing := &fakeIngress{receipt: ingress.Receipt{Decision: ingress.DecisionStart, RunID: "run-9"}}

	cfg := DefaultConfig()
	cfg.JWTSecret = testSecret
	return &fixture{ingress: ing, store: st, server: NewServer(cfg, ing, st, telemetry.Nop())}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func mustToken(t *testing.T, secret, subject, role string, ttl time.Duration) string {
	t.Helper()
	token, err := IssueToken([]byte(secret), Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

const criticalEvent = `{
	"eventId": "evt-1",
	"eventType": "ANOMALY_CRITICAL",
	"equipmentId": "X-001",
	"facilityId": "DET",
	"prediction": {"failureProbability": 0.92, "riskLevel": "CRITICAL", "probableCause": "bearing wear"}
}`

func TestSubmitEvent(t *testing.T) {
	tests := []struct {
		name     string
		decision ingress.Decision
		want     int
	}{
		{"start", ingress.DecisionStart, http.StatusAccepted},
		{"supersede", ingress.DecisionSupersede, http.StatusAccepted},
		{"duplicate", ingress.DecisionDuplicate, http.StatusOK},
		{"redelivered", ingress.DecisionRedelivered, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ingress.receipt.Decision = tt.decision

			rec := f.do(t, http.MethodPost, "/api/v1/events", criticalEvent, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			receipt := decode[ingress.Receipt](t, rec)
			if receipt.Decision != tt.decision || receipt.EventID != "evt-1" {
				t.Errorf("receipt = %+v", receipt)
			}
			if len(f.ingress.submitted) != 1 || f.ingress.submitted[0].Prediction.FailureProbability != 0.92 {
				t.Errorf("submitted = %+v", f.ingress.submitted)
			}
		})
	}
}

func TestSubmitEvent_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		want     int
		wantCode string
	}{
		{
			name:     "malformed json",
			body:     `{"eventId": `,
			want:     http.StatusBadRequest,
			wantCode: ErrCodeInvalidRequest,
		},
		{
			name: "invalid event",
			body: criticalEvent,
			err: engine.NewPermanentError("invalid anomaly event", nil).
				WithCode(engine.ErrCodeValidation).WithDetail("fields", []string{"EventType(oneof)"}),
			want:     http.StatusBadRequest,
			wantCode: engine.ErrCodeValidation,
		},
		{
			name:     "store down",
			body:     criticalEvent,
			err:      engine.NewTransientError("failed to record event", errors.New("disk full")).WithCode(engine.ErrCodeInternal),
			want:     http.StatusInternalServerError,
			wantCode: engine.ErrCodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ingress.submitErr = tt.err

			rec := f.do(t, http.MethodPost, "/api/v1/events", tt.body, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if body := decode[APIError](t, rec); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestObserveRisk(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/equipment/X-001/risk", `{"riskLevel": "low"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decode[map[string]any](t, rec)
	if body["cleared"] != float64(2) || body["riskLevel"] != "LOW" {
		t.Errorf("body = %v", body)
	}
	if len(f.ingress.risk) != 1 || f.ingress.risk[0] != "X-001=low" {
		t.Errorf("risk calls = %v", f.ingress.risk)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/equipment/X-001/risk", `{}`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing riskLevel status = %d", rec.Code)
	}
}

func TestRuns(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/runs/run-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if run := decode[stores.Run](t, rec); run.ID != "run-1" || len(run.Trace) != 2 {
		t.Errorf("run = %+v", run)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/runs/missing", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d", rec.Code)
	}
	if body := decode[APIError](t, rec); body.Code != engine.ErrCodeNotFound {
		t.Errorf("missing run code = %q", body.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/runs?equipment=X-001&status=completed&limit=5&offset=10", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	want := stores.RunFilter{EquipmentID: "X-001", Status: engine.RunStatusCompleted, Limit: 5, Offset: 10}
	if f.store.lastQuery != want {
		t.Errorf("filter = %+v, want %+v", f.store.lastQuery, want)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/runs?limit=-1", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", rec.Code)
	}
}

func TestRecommendations(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/recommendations?status=pending", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	recs := decode[[]stores.Recommendation](t, rec)
	if len(recs) != 1 || recs[0].ID != "REC-00000001" {
		t.Errorf("recommendations = %+v", recs)
	}
	if f.store.lastRecs != stores.RecommendationPending {
		t.Errorf("status filter = %q", f.store.lastRecs)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/recommendations/REC-00000002", "", "")
	if got := decode[stores.Recommendation](t, rec); got.Status != stores.RecommendationDismissed {
		t.Errorf("recommendation = %+v", got)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/actions?equipment=X-001", "", "")
	if actions := decode[[]stores.AutomatedAction](t, rec); len(actions) != 1 || actions[0].WorkOrderID != "WO-1000" {
		t.Errorf("actions = %+v", actions)
	}
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	token := mustToken(t, testSecret, "alice@plant", "maintenance-approver", time.Hour)

	rec := f.do(t, http.MethodPost, "/api/v1/recommendations/REC-00000001/approve", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	result := decode[ingress.ApprovalResult](t, rec)
	if result.WorkOrderID != "WO-1001" || result.Status != engine.RunStatusCompleted {
		t.Errorf("result = %+v", result)
	}
	if len(f.ingress.approvals) != 1 || f.ingress.approvals[0] != "REC-00000001 by alice@plant" {
		t.Errorf("approvals = %v", f.ingress.approvals)
	}
}

func TestApprove_ServiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantCode string
	}{
		{
			name:     "not found",
			err:      engine.NewPermanentError("recommendation REC-x not found", stores.ErrNotFound).WithCode(engine.ErrCodeNotFound),
			want:     http.StatusNotFound,
			wantCode: engine.ErrCodeNotFound,
		},
		{
			name:     "expired",
			err:      engine.NewConflictError("recommendation REC-x expired", nil).WithCode(engine.ErrCodeInvalidState),
			want:     http.StatusConflict,
			wantCode: engine.ErrCodeInvalidState,
		},
		{
			name:     "caller gave up",
			err:      context.DeadlineExceeded,
			want:     http.StatusGatewayTimeout,
			wantCode: ErrCodeTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ingress.approveErr = tt.err
			token := mustToken(t, testSecret, "alice@plant", "maintenance-approver", time.Hour)

			rec := f.do(t, http.MethodPost, "/api/v1/recommendations/REC-x/approve", "", token)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if body := decode[APIError](t, rec); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestDecisions_RequireApprover(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  int
	}{
		{"no token", func(*testing.T) string { return "" }, http.StatusUnauthorized},
		{"garbage", func(*testing.T) string { return "not-a-jwt" }, http.StatusUnauthorized},
		{"wrong secret", func(t *testing.T) string {
			return mustToken(t, "other-secret", "alice@plant", "maintenance-approver", time.Hour)
		}, http.StatusUnauthorized},
		{"expired", func(t *testing.T) string {
			return mustToken(t, testSecret, "alice@plant", "maintenance-approver", -time.Minute)
		}, http.StatusUnauthorized},
		{"missing subject", func(t *testing.T) string {
			return mustToken(t, testSecret, "", "maintenance-approver", time.Hour)
		}, http.StatusUnauthorized},
		{"wrong role", func(t *testing.T) string {
			return mustToken(t, testSecret, "bob@plant", "viewer", time.Hour)
		}, http.StatusForbidden},
	}

	for _, tt := range tests {
		for _, action := range []string{"approve", "dismiss"} {
			t.Run(tt.name+"/"+action, func(t *testing.T) {
				f := newFixture(t)
				rec := f.do(t, http.MethodPost, "/api/v1/recommendations/REC-00000001/"+action, "", tt.token(t))
				if rec.Code != tt.want {
					t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
				}
				if len(f.ingress.approvals)+len(f.ingress.dismissals) != 0 {
					t.Error("service reached without authorisation")
				}
			})
		}
	}
}

func TestDecisions_DisabledWithoutSecret(t *testing.T) {
	f := newFixture(t)
	f.server = NewServer(DefaultConfig(), f.ingress, f.store, telemetry.Nop())

	rec := f.do(t, http.MethodPost, "/api/v1/recommendations/REC-00000001/approve", "", "anything")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode[APIError](t, rec); body.Code != ErrCodeApprovalsDisabled {
		t.Errorf("code = %q", body.Code)
	}
}

func TestDismiss(t *testing.T) {
	f := newFixture(t)
	token := mustToken(t, testSecret, "alice@plant", "maintenance-approver", time.Hour)

	rec := f.do(t, http.MethodPost, "/api/v1/recommendations/REC-00000001/dismiss",
		`{"reason": "bearing replaced during shift change"}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if body := decode[map[string]string](t, rec); body["status"] != "DISMISSED" || body["dismissedBy"] != "alice@plant" {
		t.Errorf("body = %v", body)
	}
	want := "REC-00000001 by alice@plant: bearing replaced during shift change"
	if len(f.ingress.dismissals) != 1 || f.ingress.dismissals[0] != want {
		t.Errorf("dismissals = %v", f.ingress.dismissals)
	}

	// A body is optional.
	f.ingress.dismissErr = engine.NewConflictError("recommendation REC-00000002 is DISMISSED, not PENDING", nil).
		WithCode(engine.ErrCodeInvalidState)
	rec = f.do(t, http.MethodPost, "/api/v1/recommendations/REC-00000002/dismiss", "", token)
	if rec.Code != http.StatusConflict {
		t.Errorf("second dismiss status = %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}

	f.store.healthErr = errors.New("database is locked")
	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "locked") {
		t.Errorf("unhealthy healthz = %d %s", rec.Code, rec.Body)
	}

	// Nop telemetry disables metrics; the route answers but has nothing.
	if rec := f.do(t, http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("metrics = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodDelete, "/api/v1/runs/run-1", "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE run = %d", rec.Code)
	}
}

func TestParseToken(t *testing.T) {
	token := mustToken(t, testSecret, "carol@plant", "maintenance-approver", time.Hour)
	claims, err := ParseToken(token, []byte(testSecret))
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Subject != "carol@plant" || claims.Role != "maintenance-approver" {
		t.Errorf("claims = %+v", claims)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: "maintenance-approver",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseToken(unsigned, []byte(testSecret)); err == nil {
		t.Error("accepted an unsigned token")
	}
	if _, err := ParseToken(token, nil); err == nil {
		t.Error("accepted an empty secret")
	}
}
