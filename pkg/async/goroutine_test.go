package async

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sitedesk/sitedesk/pkg/observability"
)

// syncBuffer is a goroutine-safe io.Writer for capturing log output from
// background tasks.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs points the package logger at a buffer for the duration of a
// test.
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	SetLogger(observability.NewLogger(observability.DebugLevel, buf))
	t.Cleanup(func() {
		SetLogger(observability.NewLogger(observability.InfoLevel, os.Stderr))
	})
	return buf
}

func TestSafeGo_Success(t *testing.T) {
	executed := atomic.Bool{}

	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond,
		"SafeGo did not execute function")
}

func TestSafeGo_LogsError(t *testing.T) {
	buf := captureLogs(t)

	SafeGo(context.Background(), time.Second, "invite sweep", func(ctx context.Context) error {
		return errors.New("boom")
	})

	assert.Eventually(t, func() bool {
		out := buf.String()
		return strings.Contains(out, "background task failed") &&
			strings.Contains(out, "invite sweep") &&
			strings.Contains(out, "boom")
	}, time.Second, 10*time.Millisecond, "task error was not logged")
}

func TestSafeGo_Timeout(t *testing.T) {
	started := atomic.Bool{}
	completed := atomic.Bool{}
	canceled := atomic.Bool{}

	SafeGo(context.Background(), 50*time.Millisecond, "test task", func(ctx context.Context) error {
		started.Store(true)
		select {
		case <-time.After(500 * time.Millisecond):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			canceled.Store(true)
			return ctx.Err()
		}
	})

	assert.Eventually(t, canceled.Load, time.Second, 10*time.Millisecond,
		"function was not canceled by timeout")
	assert.True(t, started.Load())
	assert.False(t, completed.Load())
}

func TestSafeGo_PanicRecovered(t *testing.T) {
	buf := captureLogs(t)

	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		panic("test panic")
	})

	assert.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "PANIC recovered")
	}, time.Second, 10*time.Millisecond, "panic was not logged")
}

func TestSafeGo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	canceled := atomic.Bool{}

	SafeGo(ctx, 5*time.Second, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			canceled.Store(true)
			return ctx.Err()
		}
	})

	cancel()

	assert.Eventually(t, canceled.Load, time.Second, 10*time.Millisecond,
		"function did not observe parent cancellation")
}

func TestSafeGoNoError(t *testing.T) {
	executed := atomic.Bool{}

	SafeGoNoError(context.Background(), time.Second, "test task", func(ctx context.Context) {
		executed.Store(true)
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}
