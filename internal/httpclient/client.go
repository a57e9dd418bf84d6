package httpclient

import (
	"net/http"
	"time"
)

// NewProbeClient creates a client for readiness probes against a child
// process. Keep-alives are disabled so no idle connection outlives a probe,
// and redirects are not followed since any answer counts.
func NewProbeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{DisableKeepAlives: true},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
