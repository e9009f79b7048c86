package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPProbe succeeds when a GET of the URL returns a non-5xx, non-4xx
// status. Redirect responses count as success since the endpoint answered.
type HTTPProbe struct {
	URL string

	// Client overrides the default HTTP client when set.
	Client *http.Client
}

// Check implements Probe.
func (p *HTTPProbe) Check(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe %s: status %d", p.URL, resp.StatusCode)
	}
	return nil
}
