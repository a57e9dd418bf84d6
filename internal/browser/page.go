package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Page is one browser tab
type Page struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
	id      target.ID
	root    bool
	nav     *navTracker
	fields  *FieldRegistry

	mu     sync.Mutex
	closed bool
}

// newPage wires navigation listeners onto a tab context that has not run yet
func newPage(s *Session, ctx context.Context, cancel context.CancelFunc) *Page {
	p := &Page{
		session: s,
		ctx:     ctx,
		cancel:  cancel,
		nav:     newNavTracker(),
		fields:  &FieldRegistry{},
	}
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				p.nav.frameCommitted()
			}
		case *page.EventLoadEventFired:
			p.nav.loadFired()
		}
	})
	return p
}

// ID returns the browser's target id for this tab
func (p *Page) ID() string {
	return string(p.id)
}

func (p *Page) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Page) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// run executes actions on this tab, bounded by the action timeout and the
// caller's context.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	return p.runFor(ctx, p.session.opts.ActionTimeout, actions...)
}

func (p *Page) runFor(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if p.isClosed() {
		return ErrSessionClosed
	}
	actx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(actx, actions...)
}

// Navigate starts loading url and returns without waiting for it to finish.
// Pair with WaitForNavigation.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.nav.arm()
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return errors.New(errorText)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitForNavigation blocks until a navigation started by the last Navigate,
// Click or ClickLinkByText has committed and loaded.
func (p *Page) WaitForNavigation(ctx context.Context) error {
	if p.isClosed() {
		return ErrSessionClosed
	}
	return p.nav.wait(ctx, p.session.opts.NavigationTimeout)
}

// Fill types value into the single element matching selector. Select
// elements instead pick the option whose value equals value.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	tag, err := p.resolveSingle(ctx, selector)
	if err != nil {
		return err
	}

	if tag == "select" {
		var chosen bool
		expr := fmt.Sprintf(`((sel, value) => {
			const el = document.querySelector(sel);
			if (!Array.from(el.options).some(o => o.value === value)) return false;
			el.value = value;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
			return true;
		})(%s, %s)`, jsString(selector), jsString(value))
		if err := p.run(ctx, chromedp.Evaluate(expr, &chosen)); err != nil {
			return fmt.Errorf("failed to select %q in %s: %w", value, selector, err)
		}
		if !chosen {
			return fmt.Errorf("%w: no option %q in %s", ErrElementNotFound, value, selector)
		}
		return nil
	}

	if err := p.run(ctx, chromedp.SendKeys(selector, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to fill %s: %w", selector, err)
	}
	return nil
}

// Click clicks the single element matching selector
func (p *Page) Click(ctx context.Context, selector string) error {
	if _, err := p.resolveSingle(ctx, selector); err != nil {
		return err
	}
	p.nav.arm()
	if err := p.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// ClickLinkByText clicks the first anchor whose trimmed text equals text
func (p *Page) ClickLinkByText(ctx context.Context, text string) error {
	present := fmt.Sprintf(`Array.from(document.querySelectorAll('a')).some(a => a.textContent.trim() === %s)`, jsString(text))
	if err := p.poll(ctx, present, nil, p.session.opts.ActionTimeout); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: no link with text %q", ErrElementNotFound, text)
		}
		return fmt.Errorf("failed to find link %q: %w", text, err)
	}

	p.nav.arm()
	var clicked bool
	expr := fmt.Sprintf(`((text) => {
		const link = Array.from(document.querySelectorAll('a')).find(a => a.textContent.trim() === text);
		if (!link) return false;
		link.click();
		return true;
	})(%s)`, jsString(text))
	if err := p.run(ctx, chromedp.Evaluate(expr, &clicked)); err != nil {
		return fmt.Errorf("failed to click link %q: %w", text, err)
	}
	if !clicked {
		return fmt.Errorf("%w: link %q disappeared", ErrElementNotFound, text)
	}
	return nil
}

// ClearValue assigns an empty value to the single element matching selector
// and dispatches an input event.
func (p *Page) ClearValue(ctx context.Context, selector string) error {
	if _, err := p.resolveSingle(ctx, selector); err != nil {
		return err
	}
	expr := fmt.Sprintf(`((sel) => {
		const el = document.querySelector(sel);
		el.value = '';
		el.dispatchEvent(new Event('input', { bubbles: true }));
		return true;
	})(%s)`, jsString(selector))
	var ok bool
	if err := p.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", selector, err)
	}
	return nil
}

// WaitForSelector waits until at least one element matches selector
func (p *Page) WaitForSelector(ctx context.Context, selector string) error {
	err := p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s did not appear", ErrElementNotFound, selector)
	}
	return fmt.Errorf("failed waiting for %s: %w", selector, err)
}

// Evaluate runs a JavaScript expression and decodes its result into res
func (p *Page) Evaluate(ctx context.Context, expression string, res interface{}) error {
	if err := p.run(ctx, chromedp.Evaluate(expression, res)); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

// Content returns the serialized markup of the whole document
func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// URL returns the tab's current location
func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read page url: %w", err)
	}
	return url, nil
}

// Screenshot captures the visible viewport as PNG
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Close closes this tab. The session's first tab lives as long as the
// session and can only be closed through Session.Close.
func (p *Page) Close() error {
	if p.root {
		return errors.New("the first page closes with its session")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.session.forget(p)
	p.session.logger.Debug().Str("target", string(p.id)).Msg("Closed page")
	return nil
}

// resolveSingle waits for selector to match and insists on exactly one
// match. It returns the lower-case tag name of the element.
func (p *Page) resolveSingle(ctx context.Context, selector string) (string, error) {
	var count int
	expr := fmt.Sprintf(`document.querySelectorAll(%s).length || false`, jsString(selector))
	if err := p.poll(ctx, expr, &count, p.session.opts.ActionTimeout); err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %s matched nothing", ErrElementNotFound, selector)
		}
		return "", fmt.Errorf("failed to query %s: %w", selector, err)
	}
	if count != 1 {
		return "", fmt.Errorf("%w: %s matched %d elements", ErrElementNotFound, selector, count)
	}

	var tag string
	tagExpr := fmt.Sprintf(`document.querySelector(%s).tagName.toLowerCase()`, jsString(selector))
	if err := p.run(ctx, chromedp.Evaluate(tagExpr, &tag)); err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", selector, err)
	}
	return tag, nil
}

// poll waits for a truthy JavaScript expression. The browser-side timeout
// fires before the context deadline so timeouts surface as ErrPollingTimeout.
func (p *Page) poll(ctx context.Context, expression string, res interface{}, timeout time.Duration) error {
	if res == nil {
		var ok bool
		res = &ok
	}
	return p.runFor(ctx, timeout+time.Second, chromedp.Poll(expression, res,
		chromedp.WithPollingTimeout(timeout),
		chromedp.WithPollingInterval(p.session.opts.PollInterval),
	))
}

func isTimeout(err error) bool {
	return errors.Is(err, chromedp.ErrPollingTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func (p *Page) waitDocumentComplete(ctx context.Context) error {
	if err := p.poll(ctx, `document.readyState === "complete"`, nil, p.session.opts.NavigationTimeout); err != nil {
		return fmt.Errorf("%w: page %s never finished loading: %v", ErrNavigationTimeout, p.id, err)
	}
	return nil
}

// jsString renders s as a JavaScript string literal
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
