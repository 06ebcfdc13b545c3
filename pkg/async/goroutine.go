package async

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sitedesk/sitedesk/pkg/observability"
)

var (
	loggerMu sync.RWMutex
	logger   = observability.NewLogger(observability.InfoLevel, os.Stderr)
)

// SetLogger routes task failures and recovered panics through the shared
// application logger. Call once during startup, before any tasks are
// spawned.
func SetLogger(l *observability.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l != nil {
		logger = l
	}
}

func taskLogger() *observability.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(r.Context(), 5*time.Second, "audit member change", func(ctx context.Context) error {
//	    return auditor.Log(ctx, event)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		// Create context with timeout
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer observability.RecoverPanic(taskLogger().WithField("task", taskName), "background task")

		// Failures are logged, not propagated; the caller has already
		// moved on.
		if err := fn(ctx); err != nil {
			taskLogger().WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
// Still provides panic recovery and context support.
//
// Example:
//
//	SafeGoNoError(ctx, 5*time.Second, "stats refresh", func(ctx context.Context) {
//	    poller.Refresh(ctx)
//	})
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
