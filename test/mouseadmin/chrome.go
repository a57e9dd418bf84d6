package mouseadmin

import (
	"os"
	"os/exec"
)

// FindChrome returns a Chrome/Chromium binary for browser tests, or "" when
// none is installed. MOUSEADMIN_E2E_CHROME takes precedence.
func FindChrome() string {
	if path := os.Getenv("MOUSEADMIN_E2E_CHROME"); path != "" {
		return path
	}
	for _, name := range []string{
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
	} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
