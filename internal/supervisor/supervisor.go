// Package supervisor launches the server under test as a child process,
// captures its output streams and terminates it on demand.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alessio/shellescape"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mouseadmin-e2e/internal/common"
)

var (
	// ErrSpawnFailure is returned when the child process could not be started
	ErrSpawnFailure = errors.New("failed to spawn process")
	// ErrStreamNotWritable is returned when stdin was closed or the process has exited
	ErrStreamNotWritable = errors.New("stream not writable")
	// ErrProcessExited is returned when the process exits while the caller waits on it
	ErrProcessExited = errors.New("process exited")
)

const defaultShutdownGrace = 5 * time.Second

// Command describes the process to launch
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string // Layered over os.Environ(); these win
}

// String renders the command line in a form that can be pasted into a shell
func (c Command) String() string {
	return shellescape.QuoteCommand(append([]string{c.Path}, c.Args...))
}

// Option configures a Handle at start time
type Option func(*Handle)

// WithMirror copies everything the child writes on stdout and stderr to w
func WithMirror(w io.Writer) Option {
	return func(h *Handle) {
		h.mirror = &lockedWriter{w: w}
	}
}

// WithShutdownGrace sets how long Terminate waits after SIGTERM before killing
func WithShutdownGrace(d time.Duration) Option {
	return func(h *Handle) {
		if d > 0 {
			h.grace = d
		}
	}
}

// Handle is the supervisor's view of one running child process
type Handle struct {
	cmd    *exec.Cmd
	logger arbor.ILogger
	stdin  io.WriteCloser
	stdout *StreamLog
	stderr *StreamLog
	mirror io.Writer
	grace  time.Duration

	mu          sync.Mutex
	stdinClosed bool
	terminated  bool

	exited  chan struct{}
	exitErr error
}

// Start spawns the command. Output capture begins immediately and continues
// until the process exits. There is exactly one spawn attempt.
func Start(logger arbor.ILogger, command Command, opts ...Option) (*Handle, error) {
	h := &Handle{
		logger: logger,
		grace:  defaultShutdownGrace,
		exited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.stdout = newStreamLog(h.mirror)
	h.stderr = newStreamLog(h.mirror)

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = MergeEnv(os.Environ(), command.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailure, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailure, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailure, err)
	}

	logger.Info().
		Str("command", command.String()).
		Str("dir", command.Dir).
		Strs("env_overrides", sortedKeys(command.Env)).
		Msg("Starting service process")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailure, command.Path, err)
	}

	h.cmd = cmd
	h.stdin = stdin

	logger.Info().Int("pid", cmd.Process.Pid).Msg("Service process started")

	var pumps sync.WaitGroup
	pumps.Add(2)
	common.SafeGo(logger, "stdout-pump", func() {
		defer pumps.Done()
		_, _ = io.Copy(h.stdout, stdoutPipe)
	})
	common.SafeGo(logger, "stderr-pump", func() {
		defer pumps.Done()
		_, _ = io.Copy(h.stderr, stderrPipe)
	})
	common.SafeGo(logger, "process-wait", func() {
		// Wait closes the pipes, so both pumps must drain first
		pumps.Wait()
		err := cmd.Wait()

		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		close(h.exited)

		logger.Info().Int("pid", cmd.Process.Pid).Str("state", cmd.ProcessState.String()).Msg("Service process exited")
	})

	return h, nil
}

// Pid returns the OS process id
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Stdout returns everything the process has written to stdout so far
func (h *Handle) Stdout() string {
	return h.stdout.String()
}

// Stderr returns everything the process has written to stderr so far
func (h *Handle) Stderr() string {
	return h.stderr.String()
}

// Exited is closed once the process has exited and its streams are drained
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitErr returns the error from waiting on the process; nil while it runs
// or after a clean exit.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) hasExited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

// WriteStdin writes data to the process's stdin
func (h *Handle) WriteStdin(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdinClosed {
		return fmt.Errorf("%w: stdin closed", ErrStreamNotWritable)
	}
	if h.hasExited() {
		return fmt.Errorf("%w: process exited", ErrStreamNotWritable)
	}
	if _, err := h.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamNotWritable, err)
	}
	return nil
}

// CloseStdin closes the process's stdin. Closing twice is a no-op.
func (h *Handle) CloseStdin() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdinClosed {
		return nil
	}
	h.stdinClosed = true
	return h.stdin.Close()
}

// Terminate asks the process to stop and kills it if it is still alive after
// the grace period. Terminating an already dead process is not an error.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	already := h.terminated
	h.terminated = true
	h.mu.Unlock()

	if h.hasExited() {
		return nil
	}
	if !already {
		h.logger.Info().Int("pid", h.Pid()).Msg("Terminating service process")
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-h.exited
			return nil
		}
		// SIGTERM is unsupported on some platforms, go straight to kill
		return h.kill()
	}

	select {
	case <-h.exited:
		return nil
	case <-time.After(h.grace):
		h.logger.Warn().Int("pid", h.Pid()).Str("grace", h.grace.String()).Msg("Service ignored SIGTERM, killing")
		return h.kill()
	}
}

func (h *Handle) kill() error {
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", h.Pid(), err)
	}
	<-h.exited
	return nil
}

// MergeEnv layers overrides over a KEY=VALUE environment. Overridden keys are
// removed from base and appended in sorted order.
func MergeEnv(base []string, overrides map[string]string) []string {
	merged := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		merged = append(merged, kv)
	}
	for _, key := range sortedKeys(overrides) {
		merged = append(merged, key+"="+overrides[key])
	}
	return merged
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
