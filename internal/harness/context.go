package harness

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mouseadmin-e2e/internal/browser"
	"github.com/ternarybob/mouseadmin-e2e/internal/common"
	"github.com/ternarybob/mouseadmin-e2e/internal/diagnostics"
	"github.com/ternarybob/mouseadmin-e2e/internal/models"
	"github.com/ternarybob/mouseadmin-e2e/internal/scenario"
	"github.com/ternarybob/mouseadmin-e2e/internal/supervisor"
)

// RunContext carries everything one run owns. Server, Session and Main are
// nil until the stage that creates them has succeeded.
type RunContext struct {
	Config     *common.Config
	Logger     arbor.ILogger
	RunID      string
	ResultsDir string
	Workflow   *scenario.Workflow
	Scenario   *scenario.Scenario
	Record     *models.RunRecord

	Server  *supervisor.Handle
	Session *browser.Session
	Main    *browser.Page

	// Inspect is the page captured on failure: the page the failing step
	// ran on, or Main when the run failed elsewhere.
	Inspect diagnostics.PageSource
}

// Stdout returns the server's captured stdout, or "" before it started
func (rc *RunContext) Stdout() string {
	if rc.Server == nil {
		return ""
	}
	return rc.Server.Stdout()
}

// Stderr returns the server's captured stderr, or "" before it started
func (rc *RunContext) Stderr() string {
	if rc.Server == nil {
		return ""
	}
	return rc.Server.Stderr()
}

// release terminates the server and closes the browser, whichever exist
func (rc *RunContext) release() {
	if rc.Session != nil {
		if err := rc.Session.Close(); err != nil {
			rc.Logger.Warn().Err(err).Msg("Failed to close browser session")
		}
	}
	if rc.Server != nil {
		if err := rc.Server.Terminate(); err != nil {
			rc.Logger.Warn().Err(err).Int("pid", rc.Server.Pid()).Msg("Failed to terminate server")
		}
	}
}

// pageForStep returns the named scenario page when it is still open and can
// be captured, otherwise fallback.
func pageForStep(lookup func(string) (scenario.Page, bool), name string, fallback diagnostics.PageSource) diagnostics.PageSource {
	if name == "" {
		name = scenario.MainPage
	}
	if p, ok := lookup(name); ok {
		if src, ok := p.(diagnostics.PageSource); ok {
			return src
		}
	}
	return fallback
}
