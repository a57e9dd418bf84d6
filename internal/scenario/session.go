package scenario

import (
	"context"

	"github.com/ternarybob/mouseadmin-e2e/internal/browser"
)

// SessionBrowser adapts a browser.Session to the runner
type SessionBrowser struct {
	Session *browser.Session
}

// PageCount returns the number of open pages
func (b SessionBrowser) PageCount(ctx context.Context) (int, error) {
	pages, err := b.Session.Pages(ctx)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

// WaitForNewPage waits for a page beyond the first known
func (b SessionBrowser) WaitForNewPage(ctx context.Context, known int) (Page, error) {
	p, err := b.Session.WaitForNewPage(ctx, known)
	if err != nil {
		return nil, err
	}
	return p, nil
}
