// Package harness runs a workflow end to end: it starts the server under
// test, opens a browser session, executes the scenario and reports failures.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mouseadmin-e2e/internal/browser"
	"github.com/ternarybob/mouseadmin-e2e/internal/common"
	"github.com/ternarybob/mouseadmin-e2e/internal/diagnostics"
	"github.com/ternarybob/mouseadmin-e2e/internal/interfaces"
	"github.com/ternarybob/mouseadmin-e2e/internal/models"
	"github.com/ternarybob/mouseadmin-e2e/internal/scenario"
	"github.com/ternarybob/mouseadmin-e2e/internal/supervisor"
	"github.com/ternarybob/mouseadmin-e2e/internal/verify"
)

// Stage names recorded as the failed phase when a run fails outside the scenario
const (
	StageStartServer   = "Start Server"
	StageLaunchBrowser = "Launch Browser"
)

// ServiceLogFile receives a copy of everything the server writes
const ServiceLogFile = "service.log"

// Harness runs workflows against freshly started servers
type Harness struct {
	config  *common.Config
	logger  arbor.ILogger
	runs    interfaces.RunStorage
	out     io.Writer
	suspend bool
}

// New creates a harness. runs may be nil to disable run history; out
// receives diagnostics and defaults to os.Stderr.
func New(config *common.Config, logger arbor.ILogger, runs interfaces.RunStorage, out io.Writer) *Harness {
	if out == nil {
		out = os.Stderr
	}
	return &Harness{config: config, logger: logger, runs: runs, out: out, suspend: true}
}

// Run executes the workflow once. On failure the diagnostics are reported
// and, unless suspension is disabled, the run pauses with the server and
// browser still alive before releasing them.
func (h *Harness) Run(ctx context.Context, wf *scenario.Workflow) (*models.RunRecord, error) {
	sc, err := scenario.Build(wf)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	rc := &RunContext{
		Config:     h.config,
		RunID:      common.NewRunID(),
		ResultsDir: filepath.Join(h.config.Output.ResultsDir, fmt.Sprintf("%s-%s", wf.Name, started.Format("20060102-150405"))),
		Workflow:   wf,
		Scenario:   sc,
	}
	if err := os.MkdirAll(rc.ResultsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	rc.Logger = h.runLogger(rc)
	rc.Record = &models.RunRecord{
		ID:         rc.RunID,
		Workflow:   wf.Name,
		StartedAt:  started,
		Status:     models.RunStatusRunning,
		ResultsDir: rc.ResultsDir,
	}
	h.save(ctx, rc)
	common.SetActiveRun(common.ActiveRun{RunID: rc.RunID, Workflow: wf.Name, ResultsDir: rc.ResultsDir})
	defer common.ClearActiveRun()

	rc.Logger.Info().
		Str("workflow", wf.Name).
		Str("results_dir", rc.ResultsDir).
		Msg("Run started")

	reporter := diagnostics.NewReporter(rc.Logger, diagnostics.Options{
		Out:        h.out,
		Pause:      common.Duration(h.config.Diagnostics.Pause, 30*time.Minute),
		Color:      h.config.Diagnostics.Color,
		ResultsDir: rc.ResultsDir,
	})

	if err := h.execute(ctx, rc); err != nil {
		h.fail(ctx, rc, reporter, err)
		return rc.Record, err
	}

	rc.release()
	rc.Record.Finish(nil)
	h.save(ctx, rc)
	rc.Logger.Info().
		Str("duration", rc.Record.Duration().String()).
		Int64("goroutines_spawned", common.GetGoroutineCount()).
		Msg("Run passed")
	reporter.Success(fmt.Sprintf("PASSED %s (%d phases) in %s", wf.Name, len(sc.Phases), rc.Record.Duration().Round(time.Millisecond)))
	return rc.Record, nil
}

// DisableSuspend makes failed runs release their resources right after reporting
func (h *Harness) DisableSuspend() {
	h.suspend = false
}

func (h *Harness) runLogger(rc *RunContext) arbor.ILogger {
	if h.logger != nil {
		return h.logger.WithCorrelationId(rc.RunID)
	}
	return common.InitLogger(h.config, rc.ResultsDir).WithCorrelationId(rc.RunID)
}

func (h *Harness) execute(ctx context.Context, rc *RunContext) error {
	if err := h.startServer(ctx, rc); err != nil {
		rc.Record.FailedPhase = StageStartServer
		return err
	}
	if err := h.launchBrowser(ctx, rc); err != nil {
		rc.Record.FailedPhase = StageLaunchBrowser
		return err
	}

	runner := scenario.NewRunner(
		rc.Logger,
		scenario.SessionBrowser{Session: rc.Session},
		rc.Main,
		h.config.Service.BaseURL,
		verify.New(h.config.Service.Dir),
	)
	runner.OnPhase = func(result models.PhaseResult) {
		rc.Record.Phases = append(rc.Record.Phases, result)
		if result.Status != models.RunStatusSkipped {
			common.UpdateActiveRun(func(run *common.ActiveRun) { run.LastPhase = result.Name })
		}
	}

	_, err := runner.Run(ctx, rc.Scenario)
	if err != nil {
		var stepErr *scenario.StepError
		if errors.As(err, &stepErr) {
			rc.Record.FailedPhase = stepErr.Phase
			rc.Inspect = pageForStep(runner.Page, stepErr.Step.Page, rc.Inspect)
		}
	}
	return err
}

func (h *Harness) startServer(ctx context.Context, rc *RunContext) error {
	svc := h.config.Service

	serviceLog, err := os.Create(filepath.Join(rc.ResultsDir, ServiceLogFile))
	if err != nil {
		return fmt.Errorf("failed to create service log: %w", err)
	}
	server, err := supervisor.Start(rc.Logger, supervisor.Command{
		Path: svc.Command,
		Args: svc.Args,
		Dir:  svc.Dir,
		Env:  svc.Env,
	},
		supervisor.WithMirror(serviceLog),
		supervisor.WithShutdownGrace(common.Duration(svc.ShutdownGrace, 5*time.Second)),
	)
	if err != nil {
		serviceLog.Close()
		return err
	}
	rc.Server = server
	common.UpdateActiveRun(func(run *common.ActiveRun) { run.ServerPID = server.Pid() })
	// The pumps have drained by the time Exited closes
	common.SafeGo(rc.Logger, "service-log-close", func() {
		<-server.Exited()
		serviceLog.Close()
	})

	return server.WaitForReady(ctx, svc.ReadyURL(), supervisor.ReadyOptions{
		Interval: common.Duration(svc.PollInterval, 500*time.Millisecond),
		Timeout:  common.Duration(svc.StartupTimeout, 30*time.Second),
	})
}

func (h *Harness) launchBrowser(ctx context.Context, rc *RunContext) error {
	b := h.config.Browser
	session, err := browser.Launch(ctx, rc.Logger, browser.Options{
		Headless:          b.Headless,
		ExecPath:          b.ExecPath,
		RemoteURL:         b.RemoteURL,
		UserDataDir:       b.UserDataDir,
		NoSandbox:         b.NoSandbox,
		WindowWidth:       b.WindowWidth,
		WindowHeight:      b.WindowHeight,
		NavigationTimeout: common.Duration(b.NavigationTimeout, 30*time.Second),
		ActionTimeout:     common.Duration(b.ActionTimeout, 10*time.Second),
		NewPageTimeout:    common.Duration(b.NewPageTimeout, 10*time.Second),
		PollInterval:      common.Duration(b.PollInterval, 250*time.Millisecond),
	})
	if err != nil {
		return err
	}
	rc.Session = session

	main, err := session.NewPage(ctx)
	if err != nil {
		return err
	}
	rc.Main = main
	rc.Inspect = main
	return nil
}

// fail reports a failed run, then suspends for inspection before releasing
// the server and browser.
func (h *Harness) fail(ctx context.Context, rc *RunContext, reporter *diagnostics.Reporter, err error) {
	rc.Logger.Error().Err(err).Str("phase", rc.Record.FailedPhase).Msg("Run failed")

	if rc.Inspect != nil && h.config.Diagnostics.CapturePage {
		// Capture must not be cut short by an interrupted run context
		captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if _, captureErr := reporter.CapturePage(captureCtx, rc.Inspect); captureErr != nil {
			rc.Logger.Warn().Err(captureErr).Msg("Page capture failed")
		}
		cancel()
	}

	reporter.Report(rc, err)

	rc.Record.Finish(err)
	if reportErr := reporter.WriteReport(rc.Record, rc); reportErr != nil {
		rc.Logger.Warn().Err(reportErr).Msg("Failed to write run report")
	}
	h.save(ctx, rc)

	if h.suspend {
		if suspendErr := reporter.Suspend(ctx); suspendErr != nil {
			rc.Logger.Info().Msg("Inspection pause interrupted")
		}
	}
	rc.release()
}

func (h *Harness) save(ctx context.Context, rc *RunContext) {
	if h.runs == nil {
		return
	}
	if err := h.runs.SaveRun(context.WithoutCancel(ctx), rc.Record); err != nil {
		rc.Logger.Warn().Err(err).Msg("Failed to save run record")
	}
}
