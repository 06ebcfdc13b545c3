package observability

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"

	"github.com/sitedesk/sitedesk/pkg/contextkeys"
	"github.com/sitedesk/sitedesk/pkg/httputil"
)

// RecoverPanic recovers from a panic and logs it with the full stack trace.
//
// Usage in defer statements:
//
//	func worker() {
//	    defer observability.RecoverPanic(logger, "audit flush worker")
//	    // ... code that might panic
//	}
//
// After logging, the panic is NOT re-raised. This keeps a single bad
// request or background task from taking the process down, but may leave
// partial state behind. Use carefully.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and executes a
// callback. The callback runs only when a panic actually occurred, so it is
// the place for cleanup that unblocks waiters:
//
//	defer observability.RecoverPanicWithCallback(logger, "sweeper", func() {
//	    close(resultCh)
//	})
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}

// PanicRecoveryMiddleware converts handler panics into a 500 envelope so a
// single bad request cannot take the process down. The panic value and
// stack trace go to the log, never to the client.
func PanicRecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = NewLogger(InfoLevel, os.Stdout)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					entry := logger
					if requestID := contextkeys.GetRequestID(r.Context()); requestID != "" {
						entry = entry.WithField("request_id", requestID)
					}
					entry.WithField("panic", rec).
						WithField("stack", string(debug.Stack())).
						WithField("method", r.Method).
						WithField("path", r.URL.Path).
						Error("PANIC recovered")
					httputil.WriteInternalError(w, errors.New("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// MustRecover converts a recovered panic value into an error:
//
//	defer func() {
//	    err = observability.MustRecover(recover())
//	}()
//
// Returns nil when r is nil. The stack trace is not included; use
// RecoverPanic when the trace matters.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
