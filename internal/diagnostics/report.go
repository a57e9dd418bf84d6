package diagnostics

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/ternarybob/mouseadmin-e2e/internal/models"
)

// Report file names inside the results directory
const (
	ReportMarkdownFile = "report.md"
	ReportHTMLFile     = "report.html"
)

// RenderMarkdown formats a run record and the server output as Markdown
func RenderMarkdown(record *models.RunRecord, streams StreamSource) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s: %s\n\n", record.Workflow, strings.ToUpper(string(record.Status)))
	fmt.Fprintf(&b, "- Run: `%s`\n", record.ID)
	fmt.Fprintf(&b, "- Started: %s\n", record.StartedAt.Format(time.RFC3339))
	if !record.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- Finished: %s (%s)\n", record.FinishedAt.Format(time.RFC3339), record.Duration().Round(time.Millisecond))
	}
	if record.FailedPhase != "" {
		fmt.Fprintf(&b, "- Failed phase: %s\n", record.FailedPhase)
	}

	b.WriteString("\n## Phases\n\n| Phase | Status | Duration | Error |\n|---|---|---|---|\n")
	for _, p := range record.Phases {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", cell(p.Name), p.Status, p.Duration.Round(time.Millisecond), cell(p.Error))
	}

	if record.Error != "" {
		b.WriteString("\n## Failure\n\n")
		fence(&b, record.Error)
	}

	if streams != nil {
		b.WriteString("\n## Server stdout\n\n")
		fence(&b, streams.Stdout())
		b.WriteString("\n## Server stderr\n\n")
		fence(&b, streams.Stderr())
	}

	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func fence(b *strings.Builder, body string) {
	b.WriteString("```text\n")
	b.WriteString(withNewline(body))
	b.WriteString("```\n")
}

// RenderHTML converts report Markdown to a standalone HTML page
func RenderHTML(title, markdown string) (string, error) {
	gm := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)

	var body bytes.Buffer
	if err := gm.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 1100px; margin: 2em auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 4px 8px; }
pre { background: #f6f8fa; padding: 1em; overflow-x: auto; }
</style>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(title), body.String()), nil
}

// WriteReport writes report.md and report.html to the results directory
func (r *Reporter) WriteReport(record *models.RunRecord, streams StreamSource) error {
	if r.resultsDir == "" {
		return nil
	}

	if err := os.MkdirAll(r.resultsDir, 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	markdown := RenderMarkdown(record, streams)
	if _, err := r.write(ReportMarkdownFile, []byte(markdown)); err != nil {
		return err
	}

	page, err := RenderHTML(record.Workflow+" "+record.ID, markdown)
	if err != nil {
		return err
	}
	if _, err := r.write(ReportHTMLFile, []byte(page)); err != nil {
		return err
	}

	r.logger.Info().Str("dir", r.resultsDir).Msg("Run report written")
	return nil
}
