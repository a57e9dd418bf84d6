package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mouseadmin-e2e/internal/browser"
	"github.com/ternarybob/mouseadmin-e2e/internal/models"
	"github.com/ternarybob/mouseadmin-e2e/internal/verify"
)

var (
	// ErrAssertionFailure is wrapped by every failed content or listing check
	ErrAssertionFailure = errors.New("assertion failed")
	// ErrInvalidStep is returned for steps the runner cannot execute as written
	ErrInvalidStep = errors.New("invalid step")
)

// Page is the subset of browser.Page the runner drives
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitForNavigation(ctx context.Context) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	ClickLinkByText(ctx context.Context, text string) error
	ClearValue(ctx context.Context, selector string) error
	WaitForSelector(ctx context.Context, selector string) error
	AddField(ctx context.Context, trigger, container string) (browser.FieldHandle, error)
	Content(ctx context.Context) (string, error)
	Close() error
}

// Browser tracks the pages of a session
type Browser interface {
	PageCount(ctx context.Context) (int, error)
	WaitForNewPage(ctx context.Context, known int) (Page, error)
}

// StepError reports which step stopped the scenario
type StepError struct {
	Phase string
	Index int
	Step  Step
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("phase %q step %d (%s): %v", e.Phase, e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner executes a scenario step by step against named pages
type Runner struct {
	logger   arbor.ILogger
	browser  Browser
	verifier *verify.Verifier
	baseURL  string

	pages  map[string]Page
	fields map[string]browser.FieldHandle

	// OnPhase is called after each phase, passed or failed
	OnPhase func(models.PhaseResult)
}

// NewRunner creates a runner whose main page is main. Relative navigation
// targets resolve against baseURL and file checks against verifier.
func NewRunner(logger arbor.ILogger, b Browser, main Page, baseURL string, verifier *verify.Verifier) *Runner {
	return &Runner{
		logger:   logger,
		browser:  b,
		verifier: verifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
		pages:    map[string]Page{MainPage: main},
		fields:   make(map[string]browser.FieldHandle),
	}
}

// Page returns a named page that is currently open
func (r *Runner) Page(name string) (Page, bool) {
	p, ok := r.pages[name]
	return p, ok
}

// Run executes every phase in order and stops at the first error, which is
// returned as a *StepError. Phases after the failing one are reported as skipped.
func (r *Runner) Run(ctx context.Context, sc *Scenario) ([]models.PhaseResult, error) {
	results := make([]models.PhaseResult, 0, len(sc.Phases))

	for i, phase := range sc.Phases {
		r.logger.Info().Str("phase", phase.Name).Int("steps", len(phase.Steps)).Msg("Phase started")
		start := time.Now()

		err := r.runPhase(ctx, phase)
		result := models.PhaseResult{Name: phase.Name, Status: models.RunStatusPassed, Duration: time.Since(start)}
		if err != nil {
			result.Status = models.RunStatusFailed
			result.Error = err.Error()
		}
		results = append(results, result)
		r.notify(result)

		if err != nil {
			r.logger.Error().Err(err).Str("phase", phase.Name).Msg("Phase failed")
			for _, rest := range sc.Phases[i+1:] {
				skipped := models.PhaseResult{Name: rest.Name, Status: models.RunStatusSkipped}
				results = append(results, skipped)
				r.notify(skipped)
			}
			return results, err
		}
		r.logger.Info().Str("phase", phase.Name).Str("duration", result.Duration.String()).Msg("Phase passed")
	}

	return results, nil
}

func (r *Runner) notify(result models.PhaseResult) {
	if r.OnPhase != nil {
		r.OnPhase(result)
	}
}

func (r *Runner) runPhase(ctx context.Context, phase Phase) error {
	for i, step := range phase.Steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Phase: phase.Name, Index: i, Step: step, Err: err}
		}
		r.logger.Debug().Str("phase", phase.Name).Str("step", step.String()).Msg("Executing step")
		if err := r.execute(ctx, step); err != nil {
			return &StepError{Phase: phase.Name, Index: i, Step: step, Err: err}
		}
	}
	return nil
}

func (r *Runner) page(step Step) (Page, error) {
	name := step.Page
	if name == "" {
		name = MainPage
	}
	p, ok := r.pages[name]
	if !ok {
		return nil, fmt.Errorf("%w: page %q is not open", ErrInvalidStep, name)
	}
	return p, nil
}

// selector scopes the step target to its field row when the step names one
func (r *Runner) selector(step Step) (string, error) {
	if step.Field == "" {
		return step.Target, nil
	}
	h, ok := r.fields[step.Field]
	if !ok {
		return "", fmt.Errorf("%w: field %q was never added", ErrInvalidStep, step.Field)
	}
	return h.Scope(step.Target), nil
}

func (r *Runner) resolveURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: bad navigation target %q: %v", ErrInvalidStep, target, err)
	}
	if u.IsAbs() {
		return target, nil
	}
	return r.baseURL + "/" + strings.TrimLeft(target, "/"), nil
}

func (r *Runner) execute(ctx context.Context, step Step) error {
	if step.Action == ActionVerifyFile {
		if r.verifier == nil {
			return fmt.Errorf("%w: no file verifier configured", ErrInvalidStep)
		}
		return r.verifier.Verify(step.Target, step.Value)
	}

	p, err := r.page(step)
	if err != nil {
		return err
	}

	switch step.Action {
	case ActionNavigate:
		target, err := r.resolveURL(step.Target)
		if err != nil {
			return err
		}
		return p.Navigate(ctx, target)

	case ActionWaitNavigation:
		return p.WaitForNavigation(ctx)

	case ActionFill:
		sel, err := r.selector(step)
		if err != nil {
			return err
		}
		return p.Fill(ctx, sel, step.Value)

	case ActionClick:
		sel, err := r.selector(step)
		if err != nil {
			return err
		}
		if step.OpensPage == "" {
			return p.Click(ctx, sel)
		}
		return r.clickOpening(ctx, p, sel, step.OpensPage)

	case ActionClickLink:
		return p.ClickLinkByText(ctx, step.Target)

	case ActionClear:
		sel, err := r.selector(step)
		if err != nil {
			return err
		}
		return p.ClearValue(ctx, sel)

	case ActionWaitSelector:
		sel, err := r.selector(step)
		if err != nil {
			return err
		}
		return p.WaitForSelector(ctx, sel)

	case ActionAddField:
		if step.Field == "" {
			return fmt.Errorf("%w: add_field needs a field name", ErrInvalidStep)
		}
		if _, exists := r.fields[step.Field]; exists {
			return fmt.Errorf("%w: field %q added twice", ErrInvalidStep, step.Field)
		}
		h, err := p.AddField(ctx, step.Target, step.Value)
		if err != nil {
			return err
		}
		r.fields[step.Field] = h
		r.logger.Debug().Str("field", step.Field).Str("field_id", h.ID).Int("index", h.Index).Msg("Field registered")
		return nil

	case ActionClosePage:
		name := step.Page
		if name == "" || name == MainPage {
			return fmt.Errorf("%w: the main page stays open", ErrInvalidStep)
		}
		if err := p.Close(); err != nil {
			return err
		}
		delete(r.pages, name)
		return nil

	case ActionAssertContains, ActionAssertNotContains, ActionAssertListed,
		ActionAssertNotListed, ActionAssertElement, ActionAssertNoLink:
		content, err := p.Content(ctx)
		if err != nil {
			return err
		}
		return Check(step.Action, content, step.Target)
	}

	return fmt.Errorf("%w: unknown action %q", ErrInvalidStep, step.Action)
}

// clickOpening clicks a control that opens a new page and binds that page to name
func (r *Runner) clickOpening(ctx context.Context, p Page, selector, name string) error {
	if _, taken := r.pages[name]; taken {
		return fmt.Errorf("%w: page %q is already open", ErrInvalidStep, name)
	}
	known, err := r.browser.PageCount(ctx)
	if err != nil {
		return err
	}
	if err := p.Click(ctx, selector); err != nil {
		return err
	}
	opened, err := r.browser.WaitForNewPage(ctx, known)
	if err != nil {
		return err
	}
	r.pages[name] = opened
	return nil
}

// Check evaluates an assertion action against page markup
func Check(action Action, content, target string) error {
	switch action {
	case ActionAssertContains:
		if !strings.Contains(content, target) {
			return fmt.Errorf("%w: page does not contain %q", ErrAssertionFailure, target)
		}
		return nil
	case ActionAssertNotContains:
		if strings.Contains(content, target) {
			return fmt.Errorf("%w: page still contains %q", ErrAssertionFailure, target)
		}
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to parse page content: %w", err)
	}

	switch action {
	case ActionAssertListed:
		if !listed(doc, target) {
			return fmt.Errorf("%w: no list item shows %q", ErrAssertionFailure, target)
		}
	case ActionAssertNotListed:
		if listed(doc, target) {
			return fmt.Errorf("%w: a list item still shows %q", ErrAssertionFailure, target)
		}
	case ActionAssertNoLink:
		if linked(doc, target) {
			return fmt.Errorf("%w: a link still reads %q", ErrAssertionFailure, target)
		}
	case ActionAssertElement:
		if doc.Find(target).Length() == 0 {
			return fmt.Errorf("%w: no element matches %s", ErrAssertionFailure, target)
		}
	default:
		return fmt.Errorf("%w: %q is not an assertion", ErrInvalidStep, action)
	}
	return nil
}

// listed reports whether a list item, or an element inside one, displays exactly text
func listed(doc *goquery.Document, text string) bool {
	found := false
	doc.Find("li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		if strings.TrimSpace(li.Text()) == text {
			found = true
			return false
		}
		li.Find("*").EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if strings.TrimSpace(el.Text()) == text {
				found = true
			}
			return !found
		})
		return !found
	})
	return found
}

// linked reports whether any anchor's visible text is exactly text
func linked(doc *goquery.Document, text string) bool {
	return doc.Find("a").FilterFunction(func(_ int, a *goquery.Selection) bool {
		return strings.TrimSpace(a.Text()) == text
	}).Length() > 0
}
