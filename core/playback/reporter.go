package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenSource supplies the bearer token for telemetry calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// HTTPReporter PUTs reports to the track-playback state endpoint.
type HTTPReporter struct {
	spClientHost string
	deviceID     string
	tokens       TokenSource
	httpClient   *http.Client
}

// NewHTTPReporter builds the production telemetry reporter.
func NewHTTPReporter(spClientHost, deviceID string, tokens TokenSource) *HTTPReporter {
	return &HTTPReporter{
		spClientHost: spClientHost,
		deviceID:     deviceID,
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Report implements Reporter.
func (r *HTTPReporter) Report(ctx context.Context, report *Report) error {
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	// Extra fields ride alongside the fixed report shape.
	body := map[string]any{
		"debug_source":      report.DebugSource,
		"seq_num":           report.SeqNum,
		"state_ref":         report.StateRef,
		"sub_state":         report.SubState,
		"previous_position": report.PreviousPosition,
	}
	for k, v := range report.Extra {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("https://%s/track-playback/v1/devices/%s/state", r.spClientHost, r.deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}
	return nil
}
