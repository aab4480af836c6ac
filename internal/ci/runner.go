// Package ci delegates continuous-integration runs for a ticket to an
// external runner and records their outcomes. The runner itself stays
// outside the system boundary; only its typed interface lives here.
package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// Runner executes one CI run and reports its outcome.
type Runner interface {
	Run(ctx context.Context, ticketID, ref string) (status v1.CIRunStatus, output string, err error)
}

// HTTPRunner posts runs to an external runner endpoint and waits for the
// synchronous result.
type HTTPRunner struct {
	url        string
	httpClient *http.Client
}

var _ Runner = (*HTTPRunner)(nil)

// NewHTTPRunner creates a runner client for the configured endpoint.
func NewHTTPRunner(url string) *HTTPRunner {
	return &HTTPRunner{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Run delegates one run. A non-2xx reply or transport failure maps to the
// error status; the run record still gets a terminal state.
func (r *HTTPRunner) Run(ctx context.Context, ticketID, ref string) (v1.CIRunStatus, string, error) {
	body, err := json.Marshal(map[string]string{
		"ticket_id": ticketID,
		"ref":       ref,
	})
	if err != nil {
		return v1.CIRunStatusError, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return v1.CIRunStatusError, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return v1.CIRunStatusError, "", apperrors.Upstream("ci runner", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return v1.CIRunStatusError, string(respBody),
			apperrors.Upstream("ci runner", fmt.Errorf("status %d", resp.StatusCode))
	}

	var result struct {
		Passed bool   `json:"passed"`
		Output string `json:"output"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return v1.CIRunStatusError, string(respBody), apperrors.Upstream("ci runner", err)
	}
	if result.Passed {
		return v1.CIRunStatusPassed, result.Output, nil
	}
	return v1.CIRunStatusFailed, result.Output, nil
}
