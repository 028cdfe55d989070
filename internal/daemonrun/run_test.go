package daemonrun_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bobine/internal/daemonrun"
	"bobine/internal/testsupport"
)

func TestRunStartsAndStopsCleanly(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: "error"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The run leaves its log file and the stable pointer behind.
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "bobine.log")); err != nil {
		t.Fatalf("log pointer missing: %v", err)
	}
	// The PID file is cleaned up on shutdown.
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "bobined.pid")); !os.IsNotExist(err) {
		t.Fatalf("pid file left behind: %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected an error for missing config")
	}
}
