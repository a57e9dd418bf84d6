// Package diagnostics reports a failed run: the server's captured output,
// the failure itself, a snapshot of the page and a written report. After
// reporting, the harness suspends so the live state can be inspected.
package diagnostics

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/ternarybob/arbor"
)

const separator = "----------------------------------------"

// StreamSource exposes the captured output of the server process
type StreamSource interface {
	Stdout() string
	Stderr() string
}

// Options configures a Reporter
type Options struct {
	Out        io.Writer     // defaults to os.Stderr
	Pause      time.Duration // how long Suspend blocks
	Color      bool
	ResultsDir string // where page snapshots and reports are written; empty disables them
}

// Reporter emits failure diagnostics
type Reporter struct {
	logger     arbor.ILogger
	out        io.Writer
	pause      time.Duration
	resultsDir string

	label   *color.Color
	failure *color.Color
	success *color.Color
}

// NewReporter creates a reporter
func NewReporter(logger arbor.ILogger, opts Options) *Reporter {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	r := &Reporter{
		logger:     logger,
		out:        out,
		pause:      opts.Pause,
		resultsDir: opts.ResultsDir,
		label:      color.New(color.FgCyan, color.Bold),
		failure:    color.New(color.FgRed, color.Bold),
		success:    color.New(color.FgGreen, color.Bold),
	}
	for _, c := range []*color.Color{r.label, r.failure, r.success} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Report writes the server's stdout, then its stderr, then the failure,
// each block closed by a separator line.
func (r *Reporter) Report(streams StreamSource, failure error) {
	r.logger.Error().Err(failure).Msg("Scenario failed, dumping server output")

	r.label.Fprintln(r.out, "Server stdout:")
	fmt.Fprint(r.out, withNewline(streams.Stdout()))
	fmt.Fprintln(r.out, separator)

	r.label.Fprintln(r.out, "Server stderr:")
	fmt.Fprint(r.out, withNewline(streams.Stderr()))
	fmt.Fprintln(r.out, separator)

	r.failure.Fprint(r.out, "FAILED: ")
	fmt.Fprintln(r.out, failure)
}

// Success prints the completion marker
func (r *Reporter) Success(message string) {
	r.success.Fprintln(r.out, message)
}

// Suspend blocks for the configured pause so the browser and server can be
// inspected. It returns ctx.Err() when interrupted and nil when the pause ends.
func (r *Reporter) Suspend(ctx context.Context) error {
	if r.pause <= 0 {
		return nil
	}
	r.logger.Warn().Str("pause", r.pause.String()).Msg("Pausing for inspection, interrupt to exit early")
	fmt.Fprintf(r.out, "Pausing %s for inspection (Ctrl+C to exit)\n", r.pause)

	timer := time.NewTimer(r.pause)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
