package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shadowfs/shadowfs/internal/config"
	"github.com/shadowfs/shadowfs/internal/pathutil"
)

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.NewDefault()
	// Use fixed, distinct high ports rather than the production defaults so
	// a test run never fights a real shadowfs process for 8080/8081.
	cfg.Global.MetricsPort = 18080
	cfg.Global.HealthPort = 18081
	return cfg
}

func TestNew_WiresEveryComponent(t *testing.T) {
	t.Parallel()

	d, err := New(testConfig(t), t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if d.Engine == nil {
		t.Error("Engine is nil")
	}
	if d.recovery == nil {
		t.Error("recovery manager is nil")
	}
	if d.metrics == nil {
		t.Error("metrics collector is nil")
	}
	if d.health == nil {
		t.Error("health tracker is nil")
	}
	if d.api == nil {
		t.Error("api server is nil")
	}
	if d.memmon == nil {
		t.Error("memory monitor is nil")
	}
}

func TestNew_NilConfigFallsBackToDefault(t *testing.T) {
	t.Parallel()

	d, err := New(nil, t.TempDir())
	if err != nil {
		t.Fatalf("New(nil, ...) error = %v", err)
	}
	if d.cfg == nil {
		t.Fatal("expected New(nil, ...) to fall back to config.NewDefault()")
	}
}

func TestDaemon_StartStop(t *testing.T) {
	t.Parallel()

	d, err := New(testConfig(t), t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestDaemon_EngineReachesRecoveryProtectedSource(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTestFile(t, root, "greeting.txt", "hello from source")

	d, err := New(testConfig(t), root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	h, err := d.Engine.Open(pathutil.Normalize("/greeting.txt"), false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer d.Engine.Close(h)

	got, err := d.Engine.Read(h, 0, 64, "")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != "hello from source" {
		t.Errorf("Read() = %q, want %q", got, "hello from source")
	}
}

func writeTestFile(t *testing.T, root, name, content string) {
	t.Helper()
	if err := os.WriteFile(root+"/"+name, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test source file: %v", err)
	}
}
