// Package browser drives a Chrome session over the DevTools protocol:
// pages, navigation waits, element queries and mutations.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// Options configures Launch. Zero durations take defaults.
type Options struct {
	Headless          bool
	ExecPath          string
	RemoteURL         string // Connect to an existing browser instead of starting one
	UserDataDir       string
	NoSandbox         bool
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	NewPageTimeout    time.Duration
	PollInterval      time.Duration
}

func (o Options) withDefaults() Options {
	if o.WindowWidth <= 0 || o.WindowHeight <= 0 {
		o.WindowWidth, o.WindowHeight = 1920, 1080
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 10 * time.Second
	}
	if o.NewPageTimeout <= 0 {
		o.NewPageTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	return o
}

// Session is one live browser connection and the ordered registry of its pages
type Session struct {
	logger arbor.ILogger
	opts   Options

	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc

	mu        sync.Mutex
	root      *Page
	rootTaken bool
	pages     []*Page
	closed    bool
}

// Launch starts (or connects to) a browser and attaches to its first tab
func Launch(ctx context.Context, logger arbor.ILogger, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if opts.RemoteURL != "" {
		logger.Info().Str("remote_url", opts.RemoteURL).Msg("Connecting to remote browser")
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
		)
		if opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
		}
		if opts.UserDataDir != "" {
			allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
		}
		if opts.NoSandbox {
			allocOpts = append(allocOpts, chromedp.NoSandbox)
		}
		logger.Info().Bool("headless", opts.Headless).Str("exec_path", opts.ExecPath).Msg("Launching browser")
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, allocOpts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &Session{
		logger:        logger,
		opts:          opts,
		allocCtx:      allocCtx,
		cancelAlloc:   cancelAlloc,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
	}

	root := newPage(s, browserCtx, cancelBrowser)
	root.root = true
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	root.id = chromedp.FromContext(browserCtx).Target.TargetID

	s.root = root
	s.pages = []*Page{root}

	logger.Debug().Str("target", string(root.id)).Msg("Browser session ready")
	return s, nil
}

// NewPage returns a page for the caller. The first call hands out the tab the
// browser started with; later calls open new tabs.
func (s *Session) NewPage(ctx context.Context) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if !s.rootTaken {
		s.rootTaken = true
		return s.root, nil
	}

	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	p := newPage(s, tabCtx, cancel)
	if err := runWithCaller(ctx, tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	p.id = chromedp.FromContext(tabCtx).Target.TargetID
	s.pages = append(s.pages, p)

	s.logger.Debug().Str("target", string(p.id)).Int("pages", len(s.pages)).Msg("Opened page")
	return p, nil
}

// Pages returns every open page in the order the browser opened them. Tabs
// opened by the pages themselves (window.open, target=_blank) are attached
// the first time they are seen; tabs closed in the browser drop out.
func (s *Session) Pages(ctx context.Context) ([]*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	infos, err := chromedp.Targets(s.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	open := make(map[target.ID]bool, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			open[info.TargetID] = true
		}
	}

	kept := s.pages[:0]
	known := make(map[target.ID]bool, len(s.pages))
	for _, p := range s.pages {
		if open[p.id] {
			kept = append(kept, p)
			known[p.id] = true
		} else {
			p.markClosed()
		}
	}
	s.pages = kept

	for _, info := range infos {
		if info.Type != "page" || known[info.TargetID] {
			continue
		}
		p, err := s.attach(ctx, info.TargetID)
		if err != nil {
			return nil, err
		}
		s.pages = append(s.pages, p)
		s.logger.Debug().Str("target", string(info.TargetID)).Str("url", info.URL).Msg("Attached to page opened by browser")
	}

	return append([]*Page(nil), s.pages...), nil
}

func (s *Session) attach(ctx context.Context, id target.ID) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(id))
	p := newPage(s, tabCtx, cancel)
	p.id = id
	if err := runWithCaller(ctx, tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to attach to page %s: %w", id, err)
	}
	return p, nil
}

// WaitForNewPage polls the page registry until more than known pages are
// open, then waits for the newest page's document to finish loading.
func (s *Session) WaitForNewPage(ctx context.Context, known int) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.NewPageTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(s.opts.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: still %d page(s) after %v", ErrNewPageTimeout, known, s.opts.NewPageTimeout)
		}

		pages, err := s.Pages(ctx)
		if err != nil {
			return nil, err
		}
		if len(pages) <= known {
			continue
		}

		p := pages[len(pages)-1]
		if err := p.waitDocumentComplete(ctx); err != nil {
			return nil, err
		}
		s.logger.Debug().Str("target", string(p.id)).Int("pages", len(pages)).Msg("New page ready")
		return p, nil
	}
}

func (s *Session) forget(p *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.pages {
		if existing == p {
			s.pages = append(s.pages[:i], s.pages[i+1:]...)
			return
		}
	}
}

// Close closes every page and shuts the browser down. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pages := s.pages
	s.pages = nil
	s.mu.Unlock()

	for _, p := range pages {
		if !p.root {
			p.markClosed()
			p.cancel()
		}
	}

	err := chromedp.Cancel(s.browserCtx)
	s.cancelBrowser()
	s.cancelAlloc()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	s.logger.Info().Msg("Browser session closed")
	return nil
}

// runWithCaller runs the zero-action task that attaches chromedpCtx to its
// target, abandoning the wait when the caller's context ends.
func runWithCaller(caller, chromedpCtx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(chromedpCtx) }()
	select {
	case err := <-done:
		return err
	case <-caller.Done():
		return caller.Err()
	}
}
