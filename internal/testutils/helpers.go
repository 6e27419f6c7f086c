// Package testutils holds helpers shared by tests across packages.
package testutils

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tally/internal/store"
)

// OpenStore opens a store in a temporary directory and closes it when the
// test ends.
func OpenStore(t *testing.T, buckets ...string) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tally.db"), buckets...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// WriteFile writes content to name in a temporary directory and returns
// the path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// FixedClock always returns at.
func FixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// WaitForFileChange waits until filePath was modified after since.
func WaitForFileChange(t *testing.T, filePath string, since time.Time, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		info, err := os.Stat(filePath)
		if err == nil && info.ModTime().After(since) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("File %s was not modified within %v", filePath, timeout)
}

// CheckGoroutines fails the test if more than slack goroutines started
// during the test are still running once it ends.
func CheckGoroutines(t *testing.T, slack int) {
	t.Helper()
	baseline := runtime.NumGoroutine()
	t.Cleanup(func() {
		deadline := time.Now().Add(time.Second)
		current := runtime.NumGoroutine()
		for current > baseline+slack && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
			current = runtime.NumGoroutine()
		}
		if current > baseline+slack {
			buf := make([]byte, 1<<16)
			n := runtime.Stack(buf, true)
			t.Errorf("Goroutine leak: %d at start, %d at end (limit +%d)\n%s", baseline, current, slack, buf[:n])
		}
	})
}

// SecurityTestCases are hostile inputs for paths and free text.
var SecurityTestCases = struct {
	// UnsafePaths are rejected as database or import paths.
	UnsafePaths []string
	// ScriptInjection must come back escaped wherever it is rendered.
	ScriptInjection []string
}{
	UnsafePaths: []string{
		"../../../etc/passwd",
		"../../../../../etc/passwd",
		"data/../../secret.db",
		"/proc/self/environ",
		"tally.db; rm -rf /",
		"tally.db && rm -rf /",
		"tally.db | cat /etc/passwd",
		"tally.db`rm -rf /`",
		"tally.db$(rm -rf /)",
	},
	ScriptInjection: []string{
		"<script>alert('xss')</script>",
		"<img src=x onerror=alert('xss')>",
		"<svg onload=alert('xss')>",
		"<iframe src=javascript:alert('xss')>",
		"<script src=//evil.com/malicious.js></script>",
	},
}
