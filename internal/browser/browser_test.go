package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mouseadmin-e2e/test/mouseadmin"
)

// newTestSession launches a headless browser against a fresh fake mouseadmin
// server. Tests skip when no Chrome binary is available.
func newTestSession(t *testing.T) (*Session, *Page, string) {
	t.Helper()
	chrome := mouseadmin.FindChrome()
	if chrome == "" {
		t.Skip("no Chrome/Chromium binary found; set MOUSEADMIN_E2E_CHROME to run browser tests")
	}

	server := httptest.NewServer(mouseadmin.NewServer(t.TempDir(), nil))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	session, err := Launch(ctx, arbor.NewNoOpLogger(), Options{
		Headless:          true,
		ExecPath:          chrome,
		NoSandbox:         true,
		NavigationTimeout: 10 * time.Second,
		ActionTimeout:     3 * time.Second,
		NewPageTimeout:    5 * time.Second,
		PollInterval:      50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	page, err := session.NewPage(ctx)
	require.NoError(t, err)

	return session, page, server.URL
}

func open(t *testing.T, page *Page, url string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, page.Navigate(ctx, url))
	require.NoError(t, page.WaitForNavigation(ctx))
}

func TestNavigateWaitAndContent(t *testing.T) {
	_, page, baseURL := newTestSession(t)
	ctx := context.Background()

	open(t, page, baseURL+"/templates/new")

	content, err := page.Content(ctx)
	require.NoError(t, err)
	assert.Contains(t, content, `name="template_name"`)

	url, err := page.URL(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, "/templates/new"))
}

func TestWaitForNavigationTimesOutWithoutNavigation(t *testing.T) {
	_, page, baseURL := newTestSession(t)
	open(t, page, baseURL+"/")

	page.session.opts.NavigationTimeout = 300 * time.Millisecond
	err := page.WaitForNavigation(context.Background())
	assert.ErrorIs(t, err, ErrNavigationTimeout)
}

func TestFillRequiresExactlyOneMatch(t *testing.T) {
	_, page, baseURL := newTestSession(t)
	ctx := context.Background()
	open(t, page, baseURL+"/templates/new")

	require.NoError(t, page.Fill(ctx, `input[name="template_name"]`, "Example Template"))
	var value string
	require.NoError(t, page.Evaluate(ctx, `document.querySelector('input[name="template_name"]').value`, &value))
	assert.Equal(t, "Example Template", value)

	err := page.Fill(ctx, `input[name="does_not_exist"]`, "x")
	assert.ErrorIs(t, err, ErrElementNotFound)

	// One visible row plus the hidden prototype
	require.NoError(t, page.Click(ctx, "#new-field"))
	err = page.Fill(ctx, `input[name="field_name"]`, "ambiguous")
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestAddFieldStampsNewestVisibleRow(t *testing.T) {
	_, page, baseURL := newTestSession(t)
	ctx := context.Background()
	open(t, page, baseURL+"/templates/new")

	first, err := page.AddField(ctx, "#new-field", ".fieldinput")
	require.NoError(t, err)
	second, err := page.AddField(ctx, "#new-field", ".fieldinput")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, second.Index)
	assert.Len(t, page.Fields().Handles(), 2)

	require.NoError(t, page.Fill(ctx, first.Scope(`input[name="field_name"]`), "myfield"))
	require.NoError(t, page.Fill(ctx, second.Scope(`input[name="field_name"]`), "myhtml"))
	require.NoError(t, page.Fill(ctx, second.Scope(`select[name="field_type"]`), "html"))

	var names []string
	require.NoError(t, page.Evaluate(ctx,
		`Array.from(document.querySelectorAll('.fieldinput:not(.hidden) input[name="field_name"]')).map(i => i.value)`,
		&names))
	assert.Equal(t, []string{"myfield", "myhtml"}, names)

	var kind string
	require.NoError(t, page.Evaluate(ctx, `document.querySelector('`+second.Selector()+` select').value`, &kind))
	assert.Equal(t, "html", kind)

	err = page.Fill(ctx, second.Scope(`select[name="field_type"]`), "nonsense")
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestClickLinkByTextAndClearValue(t *testing.T) {
	_, page, baseURL := newTestSession(t)
	ctx := context.Background()

	resp, err := http.PostForm(baseURL+"/templates/new", map[string][]string{"template_name": {"Example Template"}})
	require.NoError(t, err)
	resp.Body.Close()

	open(t, page, baseURL+"/")
	require.NoError(t, page.ClickLinkByText(ctx, "Example Template"))
	require.NoError(t, page.WaitForNavigation(ctx))
	require.NoError(t, page.ClickLinkByText(ctx, "Edit"))
	require.NoError(t, page.WaitForNavigation(ctx))

	require.NoError(t, page.WaitForSelector(ctx, `input[name="templateName"]`))
	require.NoError(t, page.ClearValue(ctx, `input[name="templateName"]`))
	require.NoError(t, page.Fill(ctx, `input[name="templateName"]`, "New Template Name"))
	require.NoError(t, page.Click(ctx, `button[type="submit"]`))
	require.NoError(t, page.WaitForNavigation(ctx))

	content, err := page.Content(ctx)
	require.NoError(t, err)
	assert.Contains(t, content, "New Template Name")
	assert.NotContains(t, content, "Example Template")

	err = page.ClickLinkByText(ctx, "No Such Link")
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestPreviewOpensTrackedPage(t *testing.T) {
	session, page, baseURL := newTestSession(t)
	ctx := context.Background()

	resp, err := http.PostForm(baseURL+"/templates/new", map[string][]string{
		"template_name":       {"T"},
		"entry_path_template": {"/p/{{ myfield }}"},
		"field_name":          {"myfield"},
		"field_type":          {"text"},
		"entry_template":      {"<p>{{ myfield }}</p>"},
	})
	require.NoError(t, err)
	resp.Body.Close()

	open(t, page, baseURL+"/templates/1/entries/new")
	require.NoError(t, page.Fill(ctx, `input[name="myfield"]`, "test"))

	pages, err := session.Pages(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Same(t, page, pages[0])

	require.NoError(t, page.Click(ctx, "#preview"))
	preview, err := session.WaitForNewPage(ctx, len(pages))
	require.NoError(t, err)

	content, err := preview.Content(ctx)
	require.NoError(t, err)
	assert.Contains(t, content, "test")

	pages, err = session.Pages(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Same(t, page, pages[0])
	assert.Same(t, preview, pages[1])

	require.NoError(t, preview.Close())
	require.NoError(t, preview.Close())

	pages, err = session.Pages(ctx)
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	assert.Error(t, page.Close())
}

func TestWaitForNewPageTimeout(t *testing.T) {
	session, page, baseURL := newTestSession(t)
	open(t, page, baseURL+"/")

	session.opts.NewPageTimeout = 300 * time.Millisecond
	_, err := session.WaitForNewPage(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNewPageTimeout)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	session, _, _ := newTestSession(t)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	_, err := session.Pages(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = session.NewPage(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}
