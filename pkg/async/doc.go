// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, and context cancellation. Failures and recovered panics are
// reported through the shared structured logger, wired in once at startup with
// SetLogger.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(r.Context(), 5*time.Second, "audit member change", func(ctx context.Context) error {
//		// Task code with automatic panic recovery and timeout
//		return auditor.Log(ctx, event)
//	})
//
// SafeGoNoError: Same lifecycle for functions with nothing to return
//
//	async.SafeGoNoError(ctx, 5*time.Second, "stats refresh", func(ctx context.Context) {
//		poller.Refresh(ctx)
//	})
//
// # Features
//
// Panic Recovery: Captures panics with stack traces
// Timeout Enforcement: Per-task timeouts
// Context Cancellation: Respects context cancellation
//
// # Use Cases
//
// Fire-and-forget audit writes, background stats refresh
//
// # Related Packages
//
//   - pkg/api: Uses SafeGoNoError for stats refresh
//   - pkg/observability: Supplies the logger and panic recovery
package async
