package supervisor

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("supervisor tests use /bin/sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func startShell(t *testing.T, script string, env map[string]string, opts ...Option) *Handle {
	t.Helper()
	h, err := Start(arbor.NewNoOpLogger(), Command{Path: "sh", Args: []string{"-c", script}, Env: env}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Terminate() })
	return h
}

func waitExited(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestStartCapturesStreamsSeparately(t *testing.T) {
	requireShell(t)

	h := startShell(t, `echo out-line; echo err-line 1>&2; printf 'tail'`, nil)
	waitExited(t, h)

	assert.Equal(t, "out-line\ntail", h.Stdout())
	assert.Equal(t, "err-line\n", h.Stderr())
	assert.NoError(t, h.ExitErr())
}

func TestStreamsReadableWhileRunning(t *testing.T) {
	requireShell(t)

	h := startShell(t, `echo first; exec sleep 30`, nil)

	require.Eventually(t, func() bool {
		return h.Stdout() == "first\n"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, h.Terminate())
	waitExited(t, h)
}

func TestEnvOverridesWin(t *testing.T) {
	requireShell(t)
	t.Setenv("MOUSEADMIN_DB", "inherited.db")
	t.Setenv("HARNESS_INHERITED", "kept")

	h := startShell(t, `echo "$MOUSEADMIN_DB $HARNESS_INHERITED $WERKZEUG_DEBUG_PIN"`, map[string]string{
		"MOUSEADMIN_DB":      "test.db",
		"WERKZEUG_DEBUG_PIN": "off",
	})
	waitExited(t, h)

	assert.Equal(t, "test.db kept off\n", h.Stdout())
}

func TestMergeEnv(t *testing.T) {
	merged := MergeEnv(
		[]string{"A=1", "B=2", "PATH=/bin"},
		map[string]string{"B": "override", "C": "3"},
	)

	assert.Equal(t, []string{"A=1", "PATH=/bin", "B=override", "C=3"}, merged)
}

func TestWriteStdin(t *testing.T) {
	requireShell(t)

	h := startShell(t, `read line; echo "got:$line"`, nil)

	require.NoError(t, h.WriteStdin([]byte("hello\n")))
	waitExited(t, h)

	assert.Equal(t, "got:hello\n", h.Stdout())
}

func TestWriteStdinAfterCloseFails(t *testing.T) {
	requireShell(t)

	h := startShell(t, `cat`, nil)

	require.NoError(t, h.CloseStdin())
	require.NoError(t, h.CloseStdin())

	err := h.WriteStdin([]byte("late"))
	assert.ErrorIs(t, err, ErrStreamNotWritable)
	waitExited(t, h)
}

func TestWriteStdinAfterExitFails(t *testing.T) {
	requireShell(t)

	h := startShell(t, `exit 0`, nil)
	waitExited(t, h)

	err := h.WriteStdin([]byte("late"))
	assert.ErrorIs(t, err, ErrStreamNotWritable)
}

func TestTerminateIsIdempotent(t *testing.T) {
	requireShell(t)

	h := startShell(t, `exec sleep 30`, nil)

	require.NoError(t, h.Terminate())
	waitExited(t, h)
	assert.NoError(t, h.Terminate())
	assert.NoError(t, h.Terminate())
}

func TestTerminateKillsAfterGrace(t *testing.T) {
	requireShell(t)

	h := startShell(t, `trap '' TERM; echo ready; while true; do sleep 0.1; done`, nil,
		WithShutdownGrace(200*time.Millisecond))

	require.Eventually(t, func() bool { return strings.Contains(h.Stdout(), "ready") },
		5*time.Second, 20*time.Millisecond)

	start := time.Now()
	require.NoError(t, h.Terminate())
	waitExited(t, h)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStartMissingCommand(t *testing.T) {
	_, err := Start(arbor.NewNoOpLogger(), Command{Path: "definitely-not-a-real-binary-xyz"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailure)
}

func TestMirrorReceivesBothStreams(t *testing.T) {
	requireShell(t)

	var mirror bytes.Buffer
	h := startShell(t, `echo a; echo b 1>&2`, nil, WithMirror(&mirror))
	waitExited(t, h)

	assert.Contains(t, mirror.String(), "a\n")
	assert.Contains(t, mirror.String(), "b\n")
}

func TestWaitForReady(t *testing.T) {
	requireShell(t)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := startShell(t, `exec sleep 30`, nil)

	err := h.WaitForReady(context.Background(), server.URL, ReadyOptions{
		Interval: 10 * time.Millisecond,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))

	require.NoError(t, h.Terminate())
	waitExited(t, h)
}

func TestWaitForReadyTimeout(t *testing.T) {
	requireShell(t)

	h := startShell(t, `exec sleep 30`, nil)

	err := h.WaitForReady(context.Background(), "http://127.0.0.1:1/", ReadyOptions{
		Interval: 10 * time.Millisecond,
		Timeout:  200 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, h.Terminate())
	waitExited(t, h)
}

func TestWaitForReadyProcessExited(t *testing.T) {
	requireShell(t)

	h := startShell(t, `echo boom 1>&2; exit 3`, nil)
	waitExited(t, h)

	err := h.WaitForReady(context.Background(), "http://127.0.0.1:1/", ReadyOptions{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	})
	assert.ErrorIs(t, err, ErrProcessExited)
	assert.Equal(t, "boom\n", h.Stderr())
}

func TestCommandString(t *testing.T) {
	c := Command{Path: "flask", Args: []string{"run", "--port", "5555", "two words"}}
	assert.Equal(t, "flask run --port 5555 'two words'", c.String())
}
