package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/titanworks/titan/pkg/capability"
)

func newTestLoader(t *testing.T, env map[string]string) *Loader {
	t.Helper()
	l, err := NewLoader()
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	l.getenv = func(key string) string { return env[key] }
	return l
}

func TestLoad_Defaults(t *testing.T) {
	l := newTestLoader(t, nil)

	cfg, err := l.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.MaxSteps != 32 {
		t.Errorf("max_steps = %d, want 32", cfg.Engine.MaxSteps)
	}
	if cfg.Capability.Mode != "simulated" || cfg.Capability.Strategy.Kind != "deterministic" {
		t.Errorf("capability = %+v", cfg.Capability)
	}
	if cfg.Capability.Timeout.Std() != 10*time.Second {
		t.Errorf("capability timeout = %v", cfg.Capability.Timeout)
	}
	if cfg.Ingress.RecommendationTTL.Std() != 48*time.Hour || cfg.Ingress.ValidityWindow.Std() != time.Hour {
		t.Errorf("ingress = %+v", cfg.Ingress)
	}
	if cfg.Ingress.LabourHours != 6 || cfg.Ingress.LabourRate != 75 {
		t.Errorf("labour = %v h @ %v", cfg.Ingress.LabourHours, cfg.Ingress.LabourRate)
	}
	if cfg.Store.Path != "titan.db" || cfg.API.Listen != "127.0.0.1:8080" {
		t.Errorf("store/api = %+v / %+v", cfg.Store, cfg.API)
	}
	if !cfg.Policy.Watch || cfg.Policy.Dir != "" {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if cfg.Telemetry.Logging.Level != "info" || !cfg.Telemetry.Metrics.Enabled {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	l := newTestLoader(t, nil)
	src := `
engine: max_steps: 16

capability: {
	mode: "http"
	timeout: "3s"
	rate_per_second: 2.5
	burst: 4
	endpoints: {
		sensor:         "http://sensor.plant:9001/rpc"
		maintenance:    "http://maint.plant:9002/rpc"
		inventory:      "http://inv.plant:9003/rpc"
		logistics:      "http://log.plant:9004/rpc"
		governance:     "http://gov.plant:9005/rpc"
		communications: "http://comms.plant:9006/rpc"
	}
}

ingress: {
	validity_window: "0s"
	labour_rate: 82.5
}

telemetry: logging: {
	format: "json"
	output: "/var/log/titan/titan.log"
}
`
	cfg, err := l.Parse([]byte(src), "titan.cue")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Source != "titan.cue" {
		t.Errorf("source = %q", cfg.Source)
	}
	if cfg.Engine.MaxSteps != 16 {
		t.Errorf("max_steps = %d", cfg.Engine.MaxSteps)
	}
	if cfg.Ingress.ValidityWindow != 0 || cfg.Ingress.LabourRate != 82.5 || cfg.Ingress.LabourHours != 6 {
		t.Errorf("ingress = %+v", cfg.Ingress)
	}

	hc := cfg.HTTPConfig()
	if len(hc.Endpoints) != 6 || hc.Endpoints[capability.GroupInventory] != "http://inv.plant:9003/rpc" {
		t.Errorf("endpoints = %v", hc.Endpoints)
	}
	if hc.RatePerSecond != 2.5 || hc.Burst != 4 || hc.Timeout != 3*time.Second {
		t.Errorf("http config = %+v", hc)
	}

	tc := cfg.TelemetryConfig("1.2.3")
	if tc.ServiceVersion != "1.2.3" || tc.Logging.Format != "json" || tc.Logging.Output != "/var/log/titan/titan.log" {
		t.Errorf("telemetry config = %+v", tc.Logging)
	}
	if tc.Logging.Rotation.MaxSizeMB != 100 || !tc.Logging.Rotation.Compress {
		t.Errorf("rotation = %+v", tc.Logging.Rotation)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("converted telemetry config invalid: %v", err)
	}

	ic := cfg.IngressConfig()
	if ic.RecommendationTTL != 48*time.Hour || ic.SweepInterval != time.Minute {
		t.Errorf("ingress config = %+v", ic)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{"syntax error", "engine: {max_steps: ", ""},
		{"unknown section", "scheduler: workers: 4\n", "scheduler"},
		{"unknown field", "engine: parallelism: 4\n", "parallelism"},
		{"max_steps out of range", "engine: max_steps: 1000\n", "max_steps"},
		{"bad duration", `ingress: recommendation_ttl: "two days"` + "\n", "recommendation_ttl"},
		{"bad mode", `capability: mode: "grpc"` + "\n", "mode"},
		{"endpoint not a url", `capability: endpoints: sensor: "sensor.plant"` + "\n", "sensor"},
		{"script without path", `capability: strategy: kind: "script"` + "\n", "script"},
		{"http mode missing groups", `capability: {mode: "http", endpoints: sensor: "http://s:1"}` + "\n", "capability.endpoints.maintenance"},
		{"listen without port", `api: listen: "localhost"` + "\n", "api.listen"},
		{"otlp without endpoint", `telemetry: tracing: exporter: "otlp"` + "\n", "endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLoader(t, nil)
			_, err := l.Parse([]byte(tt.src), "titan.cue")
			if err == nil {
				t.Fatal("expected error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) || len(verrs) == 0 {
				t.Fatalf("error %T is not ValidationErrors: %v", err, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	l := newTestLoader(t, map[string]string{
		EnvStorePath: "/data/titan.db",
		EnvListen:    ":9090",
		EnvJWTSecret: "s3cret",
	})

	cfg, err := l.Parse([]byte(`store: path: "local.db"`+"\n"), "titan.cue")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Store.Path != "/data/titan.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.API.Listen != ":9090" || cfg.API.JWTSecret != "s3cret" {
		t.Errorf("api = %+v", cfg.API)
	}
	if ac := cfg.APIConfig(); ac.JWTSecret != "s3cret" || ac.ApproverRole != "maintenance-approver" || ac.WriteTimeout != 2*time.Minute {
		t.Errorf("api config = %+v", ac)
	}
	if sc := cfg.StoreConfig(); sc.Path != "/data/titan.db" || sc.MaxOpenConns != 1 {
		t.Errorf("store config = %+v", sc)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "titan.cue")
	src := "policy: {\n\tdir: \"/etc/titan/policies\"\n\twatch: false\n}\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	l := newTestLoader(t, nil)
	cfg, err := l.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.Dir != "/etc/titan/policies" || cfg.Policy.Watch {
		t.Errorf("policy = %+v", cfg.Policy)
	}

	if _, err := l.Load(filepath.Join(t.TempDir(), "missing.cue")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidationError_Position(t *testing.T) {
	l := newTestLoader(t, nil)
	_, err := l.Parse([]byte("engine: {\n\tmax_steps: \"many\"\n}\n"), "titan.cue")
	if err == nil {
		t.Fatal("expected error")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("unexpected error type %T", err)
	}
	found := false
	for _, ve := range verrs {
		if ve.File == "titan.cue" && ve.Line == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("no error positioned at titan.cue:2 in %v", verrs)
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"90s"`)); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("duration = %v", d)
	}
	out, err := d.MarshalJSON()
	if err != nil || string(out) != `"1m30s"` {
		t.Errorf("MarshalJSON = %s, %v", out, err)
	}
	if err := d.UnmarshalJSON([]byte(`90`)); err == nil {
		t.Error("expected error for a bare number")
	}
}
