package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/titanworks/titan/pkg/engine"
)

func echoClient() Client {
	return ClientFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{"operation": req.Operation}, nil
	})
}

func TestGuard(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{name: "allowed", req: Request{Group: GroupInventory, Operation: OpCheckStock}},
		{name: "wrong group", req: Request{Group: GroupSensor, Operation: OpCheckStock}, wantErr: true},
		{name: "unknown operation", req: Request{Group: GroupInventory, Operation: "drop_table"}, wantErr: true},
	}

	c := Guard(echoClient(), DefaultAllowList())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Invoke(context.Background(), tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !engine.IsPermanent(err) || engine.ErrorCode(err) != engine.ErrCodeCapability {
					t.Errorf("error = %v, want permanent CAPABILITY_ERROR", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res["operation"] != tt.req.Operation {
				t.Errorf("result = %v", res)
			}
		})
	}
}

func TestWithTimeout(t *testing.T) {
	slow := ClientFunc(func(ctx context.Context, req Request) (Result, error) {
		select {
		case <-time.After(time.Second):
			return Result{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	c := WithTimeout(slow, 20*time.Millisecond)
	start := time.Now()
	_, err := c.Invoke(context.Background(), Request{Group: GroupSensor, Operation: OpGetEquipmentStatus})
	if !engine.IsTimeout(err) {
		t.Fatalf("error = %v, want CAPABILITY_TIMEOUT", err)
	}
	if !engine.IsCapabilityError(err) {
		t.Error("timeout should count as a capability error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout did not release the caller")
	}
}

func TestWithTimeout_WrapsPlainErrors(t *testing.T) {
	failing := ClientFunc(func(ctx context.Context, req Request) (Result, error) {
		return nil, errors.New("connection refused")
	})

	_, err := WithTimeout(failing, time.Second).Invoke(context.Background(),
		Request{Group: GroupLogistics, Operation: OpCreateShipment})
	if !engine.IsCapabilityError(err) {
		t.Fatalf("error = %v, want capability error", err)
	}
	if engine.IsTimeout(err) {
		t.Error("plain failure must not be reported as timeout")
	}
}

func TestCall_Decode(t *testing.T) {
	c := ClientFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{"equipmentId": "X-001", "rulHours": 60.5}, nil
	})

	est, err := Call[RULEstimate](context.Background(), c, GroupMaintenance, OpEstimateRUL, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if est.EquipmentID != "X-001" || est.RULHours != 60.5 {
		t.Errorf("decoded = %+v", est)
	}

	bad := ClientFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{"rulHours": "soon"}, nil
	})
	_, err = Call[RULEstimate](context.Background(), bad, GroupMaintenance, OpEstimateRUL, nil)
	if !engine.IsMalformedResult(err) {
		t.Errorf("error = %v, want MALFORMED_RESULT", err)
	}
}
