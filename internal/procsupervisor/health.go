package procsupervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthChecker performs an HTTP GET against a configured URL and treats any
// 2xx response as healthy, grounded on the teacher's health.Checker but
// narrowed to the single HTTP-probe strategy spec.md calls for (the teacher
// also supports TCP-dial and exec-command probes that this domain has no use
// for).
type healthChecker struct {
	url    string
	client *http.Client
}

func newHealthChecker(url string, timeout time.Duration) *healthChecker {
	return &healthChecker{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *healthChecker) check(ctx context.Context) error {
	if h.url == "" {
		return fmt.Errorf("procsupervisor: no health check url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("procsupervisor: build health request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("procsupervisor: health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("procsupervisor: health check returned status %d", resp.StatusCode)
	}
	return nil
}
