// -----------------------------------------------------------------------
// Crash Protection - Fatal error handling and crash file generation
// -----------------------------------------------------------------------

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"
)

// CrashLogDir is the directory where crash files go when no run is active.
// Set during startup by InstallCrashHandler.
var CrashLogDir = "./results"

// ActiveRun describes the run in progress, so a crash report can say what the
// harness was doing and which server process it leaves behind.
type ActiveRun struct {
	RunID      string
	Workflow   string
	ResultsDir string
	LastPhase  string // Last phase that finished, passed or failed
	ServerPID  int    // 0 until the server has been spawned
}

var (
	activeRun   *ActiveRun
	activeRunMu sync.Mutex
)

// SetActiveRun records the run in progress. Crash files are written to its
// results directory while it is set.
func SetActiveRun(run ActiveRun) {
	activeRunMu.Lock()
	defer activeRunMu.Unlock()
	activeRun = &run
}

// UpdateActiveRun applies fn to the run in progress, if any
func UpdateActiveRun(fn func(*ActiveRun)) {
	activeRunMu.Lock()
	defer activeRunMu.Unlock()
	if activeRun != nil {
		fn(activeRun)
	}
}

// ClearActiveRun forgets the run once its server and browser are released
func ClearActiveRun() {
	activeRunMu.Lock()
	defer activeRunMu.Unlock()
	activeRun = nil
}

// CurrentRun returns a copy of the run in progress
func CurrentRun() (ActiveRun, bool) {
	activeRunMu.Lock()
	defer activeRunMu.Unlock()
	if activeRun == nil {
		return ActiveRun{}, false
	}
	return *activeRun, true
}

// InstallCrashHandler sets up process-level crash protection.
// Call it at the start of main() and defer RecoverWithCrashFile.
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		CrashLogDir = logDir
	}

	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create crash directory: %v\n", err)
	}
}

// crashDir prefers the active run's results directory
func crashDir() string {
	if run, ok := CurrentRun(); ok && run.ResultsDir != "" {
		return run.ResultsDir
	}
	return CrashLogDir
}

// WriteCrashFile writes a crash report and returns its path. When the file
// cannot be created the report goes to stderr and "" is returned.
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	return writeReport("crash", "MOUSEADMIN E2E CRASH REPORT", panicVal, stackTrace, true)
}

func writeReport(prefix, title string, panicVal interface{}, stackTrace string, allGoroutines bool) string {
	timestamp := time.Now().Format("2006-01-02T15-04-05.000")
	dir := crashDir()
	crashPath := filepath.Join(dir, fmt.Sprintf("%s-%s.log", prefix, timestamp))

	var report bytes.Buffer
	fmt.Fprintf(&report, "=== %s ===\n", title)
	fmt.Fprintf(&report, "Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&report, "Version: %s\n\n", GetFullVersion())

	if run, ok := CurrentRun(); ok {
		report.WriteString("=== ACTIVE RUN ===\n")
		fmt.Fprintf(&report, "Run: %s\n", run.RunID)
		fmt.Fprintf(&report, "Workflow: %s\n", run.Workflow)
		fmt.Fprintf(&report, "Last phase: %s\n", run.LastPhase)
		fmt.Fprintf(&report, "Server PID: %d\n\n", run.ServerPID)
	}

	report.WriteString("=== PANIC VALUE ===\n")
	fmt.Fprintf(&report, "%v\n\n", panicVal)

	report.WriteString("=== STACK TRACE ===\n")
	report.WriteString(stackTrace)
	report.WriteString("\n")

	if allGoroutines {
		// Browser and process pumps show up here
		report.WriteString("=== ALL GOROUTINES ===\n")
		report.WriteString(GetAllGoroutineStacks())
		report.WriteString("\n")
	}

	report.WriteString("=== SYSTEM INFO ===\n")
	fmt.Fprintf(&report, "NumGoroutine: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(&report, "SafeGo spawned: %d, recovered: %d\n", GetGoroutineCount(), GetRecoveredPanicCount())
	fmt.Fprintf(&report, "GOOS: %s\n", runtime.GOOS)
	fmt.Fprintf(&report, "GOARCH: %s\n", runtime.GOARCH)
	report.WriteString("=== END REPORT ===\n")

	if err := os.MkdirAll(dir, 0755); err == nil {
		err = os.WriteFile(crashPath, report.Bytes(), 0644)
		if err == nil {
			return crashPath
		}
	}

	// Last resort: stderr
	fmt.Fprintf(os.Stderr, "CRASH: Failed to write %s\n", crashPath)
	fmt.Fprintf(os.Stderr, "%s", report.String())
	return ""
}

// GetAllGoroutineStacks returns stack traces for all goroutines.
func GetAllGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
		if len(buf) > 64*1024*1024 { // Max 64MB
			return string(buf[:runtime.Stack(buf, true)])
		}
	}
}

// GetStackTrace returns the current goroutine's stack trace.
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// killOrphanedServer kills the active run's server so a crashed harness does
// not leave it holding the port.
func killOrphanedServer() {
	run, ok := CurrentRun()
	if !ok || run.ServerPID <= 0 {
		return
	}
	if err := syscall.Kill(run.ServerPID, syscall.SIGKILL); err == nil {
		fmt.Fprintf(os.Stderr, "Killed server process %d\n", run.ServerPID)
	}
}

// RecoverWithCrashFile is a helper for deferred panic recovery that writes a
// crash file, kills the active run's server and exits.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		path := WriteCrashFile(r, GetStackTrace())
		killOrphanedServer()
		if path != "" {
			fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\n", path)
		}
		fmt.Fprintf(os.Stderr, "Panic: %v\n", r)
		os.Exit(1)
	}
}
