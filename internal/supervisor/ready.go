package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/mouseadmin-e2e/internal/httpclient"
)

// ErrNotReady is returned when the readiness endpoint never answered in time
var ErrNotReady = errors.New("service not ready")

// ReadyOptions controls readiness polling
type ReadyOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
}

// WaitForReady polls url until it answers with a non-5xx status. It gives up
// early when the process exits, and with ErrNotReady when Timeout elapses.
func (h *Handle) WaitForReady(ctx context.Context, url string, opts ReadyOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = httpclient.NewProbeClient(2 * time.Second)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(opts.Interval), 1)
	started := time.Now()
	attempts := 0

	for {
		if err := limiter.Wait(ctx); err != nil {
			return h.notReady(ctx, url, attempts, started)
		}

		select {
		case <-h.exited:
			return fmt.Errorf("%w while waiting for %s: %v", ErrProcessExited, url, h.ExitErr())
		default:
		}

		attempts++
		if probe(ctx, client, url) {
			h.logger.Info().
				Str("url", url).
				Int("attempts", attempts).
				Str("elapsed", time.Since(started).Round(time.Millisecond).String()).
				Msg("Service ready and responding")
			return nil
		}

		if attempts%10 == 0 {
			h.logger.Debug().Str("url", url).Int("attempts", attempts).Msg("Still waiting for service")
		}
	}
}

func (h *Handle) notReady(ctx context.Context, url string, attempts int, started time.Time) error {
	select {
	case <-h.exited:
		return fmt.Errorf("%w while waiting for %s: %v", ErrProcessExited, url, h.ExitErr())
	default:
	}
	return fmt.Errorf("%w: %s did not respond within %v (after %d attempts): %v",
		ErrNotReady, url, time.Since(started).Round(time.Millisecond), attempts, ctx.Err())
}

func probe(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}
