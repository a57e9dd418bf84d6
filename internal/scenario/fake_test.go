package scenario

import (
	"context"
	"fmt"

	"github.com/ternarybob/mouseadmin-e2e/internal/browser"
)

// fakePage records driver calls. Each Click replaces the content with the
// next entry of afterClick, simulating the page the click leads to.
type fakePage struct {
	name       string
	content    string
	afterClick []string
	failOn     map[string]error
	fields     int
	closed     bool
	calls      *[]string
}

func (p *fakePage) record(format string, args ...interface{}) error {
	call := p.name + ":" + fmt.Sprintf(format, args...)
	*p.calls = append(*p.calls, call)
	if err, ok := p.failOn[call]; ok {
		return err
	}
	return nil
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	return p.record("navigate %s", url)
}

func (p *fakePage) WaitForNavigation(context.Context) error {
	return p.record("wait")
}

func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	return p.record("fill %s=%s", selector, value)
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	if err := p.record("click %s", selector); err != nil {
		return err
	}
	if len(p.afterClick) > 0 {
		p.content, p.afterClick = p.afterClick[0], p.afterClick[1:]
	}
	return nil
}

func (p *fakePage) ClickLinkByText(_ context.Context, text string) error {
	return p.record("link %s", text)
}

func (p *fakePage) ClearValue(_ context.Context, selector string) error {
	return p.record("clear %s", selector)
}

func (p *fakePage) WaitForSelector(_ context.Context, selector string) error {
	return p.record("wait_selector %s", selector)
}

func (p *fakePage) AddField(_ context.Context, trigger, container string) (browser.FieldHandle, error) {
	if err := p.record("add_field %s %s", trigger, container); err != nil {
		return browser.FieldHandle{}, err
	}
	h := browser.FieldHandle{ID: fmt.Sprintf("f%d", p.fields), Index: p.fields}
	p.fields++
	return h, nil
}

func (p *fakePage) Content(context.Context) (string, error) {
	return p.content, nil
}

func (p *fakePage) Close() error {
	p.closed = true
	return p.record("close")
}

type fakeBrowser struct {
	pages  []*fakePage
	opened *fakePage
}

func (b *fakeBrowser) PageCount(context.Context) (int, error) {
	return len(b.pages), nil
}

func (b *fakeBrowser) WaitForNewPage(_ context.Context, known int) (Page, error) {
	if b.opened == nil {
		return nil, browser.ErrNewPageTimeout
	}
	b.pages = append(b.pages, b.opened)
	return b.opened, nil
}
