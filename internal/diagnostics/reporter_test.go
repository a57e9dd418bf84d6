package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mouseadmin-e2e/internal/models"
)

type captured struct{ out, err string }

func (s captured) Stdout() string { return s.out }
func (s captured) Stderr() string { return s.err }

type fakePage struct {
	html    string
	png     []byte
	shotErr error
}

func (p fakePage) Screenshot(context.Context) ([]byte, error) { return p.png, p.shotErr }
func (p fakePage) Content(context.Context) (string, error)    { return p.html, nil }
func (p fakePage) URL(context.Context) (string, error)        { return "http://localhost:5555/templates/1", nil }

func newReporter(t *testing.T, out *bytes.Buffer, dir string, pause time.Duration) *Reporter {
	t.Helper()
	return NewReporter(arbor.NewNoOpLogger(), Options{Out: out, Pause: pause, ResultsDir: dir})
}

func TestReportOrder(t *testing.T) {
	var out bytes.Buffer
	r := newReporter(t, &out, "", 0)

	r.Report(captured{out: " * Running on http://127.0.0.1:5555", err: "Traceback: boom\n"}, errors.New("phase failed"))

	want := strings.Join([]string{
		"Server stdout:",
		" * Running on http://127.0.0.1:5555",
		separator,
		"Server stderr:",
		"Traceback: boom",
		separator,
		"FAILED: phase failed",
		"",
	}, "\n")
	assert.Equal(t, want, out.String())
}

func TestReportEmptyStreams(t *testing.T) {
	var out bytes.Buffer
	newReporter(t, &out, "", 0).Report(captured{}, errors.New("x"))

	assert.Equal(t, "Server stdout:\n"+separator+"\nServer stderr:\n"+separator+"\nFAILED: x\n", out.String())
}

func TestSuspend(t *testing.T) {
	var out bytes.Buffer

	assert.NoError(t, newReporter(t, &out, "", 0).Suspend(context.Background()))
	assert.Empty(t, out.String())

	start := time.Now()
	assert.NoError(t, newReporter(t, &out, "", 50*time.Millisecond).Suspend(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err := newReporter(t, &out, "", time.Hour).Suspend(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCapturePage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	var out bytes.Buffer
	r := newReporter(t, &out, dir, 0)

	snap, err := r.CapturePage(context.Background(), fakePage{
		html: `<html><body><h1>New Template Name</h1><ul><li><a href="/templates/1/entries/1">/example/path/test</a></li></ul></body></html>`,
		png:  []byte("\x89PNG"),
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5555/templates/1", snap.URL)

	png, err := os.ReadFile(filepath.Join(dir, ScreenshotFile))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png)

	html, err := os.ReadFile(snap.HTML)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>New Template Name</h1>")

	markdown, err := os.ReadFile(snap.Markdown)
	require.NoError(t, err)
	assert.Contains(t, string(markdown), "# New Template Name")
	assert.Contains(t, string(markdown), "/example/path/test")
}

func TestCapturePageContinuesAfterScreenshotError(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	snap, err := newReporter(t, &out, dir, 0).CapturePage(context.Background(), fakePage{
		html:    "<p>hello</p>",
		shotErr: errors.New("target closed"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target closed")
	assert.Empty(t, snap.Screenshot)
	assert.FileExists(t, filepath.Join(dir, PageHTMLFile))
	assert.FileExists(t, filepath.Join(dir, PageMarkdown))
}

func TestCapturePageWithoutResultsDir(t *testing.T) {
	var out bytes.Buffer
	snap, err := newReporter(t, &out, "", 0).CapturePage(context.Background(), fakePage{})
	assert.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
}

func failedRecord() *models.RunRecord {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.RunRecord{
		ID:          "run_1",
		Workflow:    "mouseadmin",
		StartedAt:   start,
		FinishedAt:  start.Add(12 * time.Second),
		Status:      models.RunStatusFailed,
		FailedPhase: "Edit Template",
		Error:       `phase "Edit Template": assertion failed | page`,
		Phases: []models.PhaseResult{
			{Name: "Create Template", Status: models.RunStatusPassed, Duration: 3 * time.Second},
			{Name: "Edit Template", Status: models.RunStatusFailed, Duration: time.Second, Error: "assertion failed | page"},
			{Name: "Create Entry", Status: models.RunStatusSkipped},
		},
	}
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(failedRecord(), captured{out: "GET /templates/new", err: "warn"})

	assert.True(t, strings.HasPrefix(md, "# mouseadmin: FAILED\n"))
	assert.Contains(t, md, "- Failed phase: Edit Template")
	assert.Contains(t, md, "- Finished: 2026-01-02T03:04:17Z (12s)")
	assert.Contains(t, md, `| Edit Template | failed | 1s | assertion failed \| page |`)
	assert.Contains(t, md, "| Create Entry | skipped | 0s |  |")
	assert.Contains(t, md, "## Server stdout\n\n```text\nGET /templates/new\n```")
}

func TestWriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	var out bytes.Buffer

	require.NoError(t, newReporter(t, &out, dir, 0).WriteReport(failedRecord(), captured{}))

	md, err := os.ReadFile(filepath.Join(dir, ReportMarkdownFile))
	require.NoError(t, err)
	assert.Contains(t, string(md), "## Phases")

	page, err := os.ReadFile(filepath.Join(dir, ReportHTMLFile))
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>mouseadmin run_1</title>")
	assert.Contains(t, string(page), "<table>")
	assert.Contains(t, string(page), "<td>Edit Template</td>")
}

func TestSuccessMarker(t *testing.T) {
	var out bytes.Buffer
	newReporter(t, &out, "", 0).Success("PASSED mouseadmin")
	assert.Equal(t, "PASSED mouseadmin\n", out.String())
}
