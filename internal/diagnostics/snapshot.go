package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// Snapshot file names inside the results directory
const (
	ScreenshotFile = "failure.png"
	PageHTMLFile   = "page.html"
	PageMarkdown   = "page.md"
)

// PageSource is the page being inspected when the failure happened
type PageSource interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
}

// Snapshot lists the files written by CapturePage. Empty paths were not written.
type Snapshot struct {
	URL        string
	Screenshot string
	HTML       string
	Markdown   string
}

// CapturePage saves a screenshot, the page markup and a Markdown rendering of
// it. Each capture is attempted even when an earlier one fails.
func (r *Reporter) CapturePage(ctx context.Context, page PageSource) (Snapshot, error) {
	var snap Snapshot
	if r.resultsDir == "" || page == nil {
		return snap, nil
	}
	if err := os.MkdirAll(r.resultsDir, 0755); err != nil {
		return snap, fmt.Errorf("failed to create results directory: %w", err)
	}

	var errs []error

	if url, err := page.URL(ctx); err == nil {
		snap.URL = url
	}

	if png, err := page.Screenshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	} else if path, err := r.write(ScreenshotFile, png); err != nil {
		errs = append(errs, err)
	} else {
		snap.Screenshot = path
	}

	html, err := page.Content(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("page content: %w", err))
	} else {
		if path, err := r.write(PageHTMLFile, []byte(html)); err != nil {
			errs = append(errs, err)
		} else {
			snap.HTML = path
		}

		converter := md.NewConverter(snap.URL, true, nil)
		markdown, err := converter.ConvertString(html)
		if err != nil {
			errs = append(errs, fmt.Errorf("markdown conversion: %w", err))
		} else if path, err := r.write(PageMarkdown, []byte(markdown)); err != nil {
			errs = append(errs, err)
		} else {
			snap.Markdown = path
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Page snapshot incomplete")
	} else {
		r.logger.Info().Str("dir", r.resultsDir).Msg("Page snapshot saved")
	}
	return snap, err
}

func (r *Reporter) write(name string, data []byte) (string, error) {
	path := filepath.Join(r.resultsDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}
