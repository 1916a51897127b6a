package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jwebster45206/conversation-engine/internal/dispatch"
	"github.com/jwebster45206/conversation-engine/internal/engine"
	"github.com/jwebster45206/conversation-engine/internal/services/chatlog"
	"github.com/jwebster45206/conversation-engine/internal/services/events"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func testConnection(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

// do sends a request and decodes a JSON response into out when out is not nil.
func do(client *http.Client, method, url string, in, out any, want int) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != want {
		var errorResp ErrorResponse
		if err := json.Unmarshal(data, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
		}
		return fmt.Errorf("request failed: %s", errorResp.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func getStatus(client *http.Client, baseURL string) (*engine.Status, error) {
	var status engine.Status
	if err := do(client, http.MethodGet, baseURL+"/v1/monitor", nil, &status, http.StatusOK); err != nil {
		return nil, err
	}
	return &status, nil
}

// postMonitor runs start, stop, pause, resume or reload.
func postMonitor(client *http.Client, baseURL, action string) error {
	return do(client, http.MethodPost, baseURL+"/v1/monitor/"+action, nil, nil, http.StatusOK)
}

func getRecentLog(client *http.Client, baseURL string, limit int) ([]chatlog.Entry, error) {
	var entries []chatlog.Entry
	url := fmt.Sprintf("%s/v1/log?limit=%d", baseURL, limit)
	if err := do(client, http.MethodGet, url, nil, &entries, http.StatusOK); err != nil {
		return nil, err
	}
	return entries, nil
}

func getStage(client *http.Client, baseURL string) ([]dispatch.Presentation, error) {
	var active []dispatch.Presentation
	if err := do(client, http.MethodGet, baseURL+"/v1/stage", nil, &active, http.StatusOK); err != nil {
		return nil, err
	}
	return active, nil
}

func listAuras(client *http.Client, baseURL string) ([]dialogue.AuraBinding, error) {
	var auras []dialogue.AuraBinding
	if err := do(client, http.MethodGet, baseURL+"/v1/auras", nil, &auras, http.StatusOK); err != nil {
		return nil, err
	}
	return auras, nil
}

func listGroups(client *http.Client, baseURL string) ([]dialogue.GroupSummary, error) {
	var groups []dialogue.GroupSummary
	if err := do(client, http.MethodGet, baseURL+"/v1/groups", nil, &groups, http.StatusOK); err != nil {
		return nil, err
	}
	return groups, nil
}

func moveEntity(client *http.Client, baseURL, entityID string, pos scene.Position) error {
	return do(client, http.MethodPatch, baseURL+"/v1/scene/entities/"+entityID, pos, nil, http.StatusOK)
}

// listenToSSE connects to the SSE endpoint and streams events to a channel
func listenToSSE(ctx context.Context, client *http.Client, baseURL string, eventChan chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("SSE connection failed with status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventType, data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// Empty line signals end of event
			if eventType != "" && eventType != "connected" {
				var event events.Event
				if err := json.Unmarshal([]byte(data), &event); err == nil {
					select {
					case eventChan <- event:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			eventType, data = "", ""
			continue
		}

		// Parse SSE format
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading SSE stream: %w", err)
	}

	return nil
}
