package cli

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestGracefulShutdownRunsCleanupOnSignal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var cleaned atomic.Bool
	ctx, done := GracefulShutdown(logger, time.Second, func(shutdownCtx context.Context) {
		if _, ok := shutdownCtx.Deadline(); !ok {
			t.Error("cleanup context has no deadline")
		}
		cleaned.Store(true)
	})

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before any signal arrived")
	case <-time.After(20 * time.Millisecond):
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("send SIGTERM: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after SIGTERM")
	}

	WaitForShutdown(ctx, done)
	if !cleaned.Load() {
		t.Error("cleanup did not run before shutdown completed")
	}
}
