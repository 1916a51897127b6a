package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jwebster45206/conversation-engine/internal/engine"
	"github.com/jwebster45206/conversation-engine/internal/services/chatlog"
)

const (
	// PollInterval is how often to read the chat log while waiting
	PollInterval = 500 * time.Millisecond
	// LogLimit is how many entries are read back per check
	LogLimit = 500
)

// doJSON sends in as a JSON body (when not nil) and decodes the response
// into out (when not nil). Any status other than want is an error.
func doJSON(ctx context.Context, client *http.Client, method, url string, in, out any, want int) error {
	var body io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s request: %w", method, url, err)
		}
		body = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s returned %d (expected %d): %s", method, url, resp.StatusCode, want, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, url, err)
	}
	return nil
}

// GetLog reads the newest chat log entries, oldest first.
func GetLog(ctx context.Context, client *http.Client, baseURL string) ([]chatlog.Entry, error) {
	var entries []chatlog.Entry
	url := fmt.Sprintf("%s/v1/log?limit=%d", baseURL, LogLimit)
	if err := doJSON(ctx, client, http.MethodGet, url, nil, &entries, http.StatusOK); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetStatus reads the monitor status.
func GetStatus(ctx context.Context, client *http.Client, baseURL string) (*engine.Status, error) {
	var status engine.Status
	if err := doJSON(ctx, client, http.MethodGet, baseURL+"/v1/monitor", nil, &status, http.StatusOK); err != nil {
		return nil, err
	}
	return &status, nil
}

// PollForLog reads the chat log until check passes or timeout elapses. The
// last entries read and the last check error are returned on timeout.
func PollForLog(ctx context.Context, client *http.Client, baseURL string, timeout time.Duration, check func([]chatlog.Entry) error) ([]chatlog.Entry, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		entries, err := GetLog(ctx, client, baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to read chat log: %w", err)
		}
		if lastErr = check(entries); lastErr == nil {
			return entries, nil
		}
		if time.Now().After(deadline) {
			return entries, fmt.Errorf("timeout waiting for chat log after %v: %w", timeout, lastErr)
		}

		select {
		case <-ctx.Done():
			return entries, ctx.Err()
		case <-ticker.C:
		}
	}
}
