package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jwebster45206/conversation-engine/internal/services/chatlog"
	"github.com/jwebster45206/conversation-engine/internal/settings"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

const groupTargetPrefix = "group:"

// Runner executes integration tests against a running conversation host
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 30 * time.Second},
		Timeout:           20 * time.Second,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
// Returns a list of actual test suites (expanded from the sequence if needed)
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		// Recursively load (in case a sequence references another sequence)
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// RunSuite applies the suite's setup, runs every step, and removes what the
// setup created, whatever the outcome.
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results:  make([]TestResult, 0, len(suite.Steps)),
		GroupIDs: make(map[string]string, len(suite.Setup.Groups)),
	}

	previous, err := r.applySetup(ctx, suite.Setup, result.GroupIDs)
	defer r.teardown(suite.Setup, result.GroupIDs, previous)
	if err != nil {
		result.Error = fmt.Errorf("failed to apply setup: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.runStep(ctx, step, result.GroupIDs)
		stepResult.TestName = suite.Name
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}

		r.Logger("    [%d/%d] ✓ %s (%v, %d lines)", i+1, len(suite.Steps), step.Name, stepResult.Duration, stepResult.Lines)
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// applySetup places entities, assigns auras, creates groups and patches
// settings, then makes sure the monitor is running. The settings in force
// beforehand are returned so teardown can restore them.
func (r *Runner) applySetup(ctx context.Context, setup SceneSetup, groupIDs map[string]string) (*settings.Patch, error) {
	for _, e := range setup.Entities {
		if err := doJSON(ctx, r.Client, http.MethodPut, r.BaseURL+"/v1/scene/entities/"+e.ID, e, nil, http.StatusOK); err != nil {
			return nil, fmt.Errorf("failed to place entity %s: %w", e.ID, err)
		}
	}

	for _, a := range setup.Auras {
		req := map[string]interface{}{"corpus_id": a.CorpusID}
		if a.Range > 0 {
			req["range"] = a.Range
		}
		if err := doJSON(ctx, r.Client, http.MethodPut, r.BaseURL+"/v1/auras/"+a.EntityID, req, nil, http.StatusOK); err != nil {
			return nil, fmt.Errorf("failed to assign aura to %s: %w", a.EntityID, err)
		}
	}

	for name, cfg := range setup.Groups {
		if cfg.Name == "" {
			cfg.Name = name
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := doJSON(ctx, r.Client, http.MethodPost, r.BaseURL+"/v1/groups", cfg, &created, http.StatusCreated); err != nil {
			return nil, fmt.Errorf("failed to create group %s: %w", name, err)
		}
		groupIDs[name] = created.ID
	}

	var previous *settings.Patch
	if setup.Settings != nil {
		previous = &settings.Patch{}
		if err := doJSON(ctx, r.Client, http.MethodGet, r.BaseURL+"/v1/settings", nil, previous, http.StatusOK); err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
		if err := doJSON(ctx, r.Client, http.MethodPatch, r.BaseURL+"/v1/settings", setup.Settings, nil, http.StatusOK); err != nil {
			return previous, fmt.Errorf("failed to patch settings: %w", err)
		}
	}

	if err := doJSON(ctx, r.Client, http.MethodPost, r.BaseURL+"/v1/monitor/start", nil, nil, http.StatusOK); err != nil {
		return previous, fmt.Errorf("failed to start monitor: %w", err)
	}
	return previous, nil
}

// teardown removes everything setup created. It runs on its own context so a
// cancelled run still cleans up, and logs failures instead of returning them.
func (r *Runner) teardown(setup SceneSetup, groupIDs map[string]string, previous *settings.Patch) {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	var errs []error
	for name, id := range groupIDs {
		if err := doJSON(ctx, r.Client, http.MethodDelete, r.BaseURL+"/v1/groups/"+id, nil, nil, http.StatusNoContent); err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", name, err))
		}
	}
	for _, a := range setup.Auras {
		if err := doJSON(ctx, r.Client, http.MethodDelete, r.BaseURL+"/v1/auras/"+a.EntityID, nil, nil, http.StatusNoContent); err != nil {
			errs = append(errs, fmt.Errorf("aura %s: %w", a.EntityID, err))
		}
	}
	for _, e := range setup.Entities {
		if err := doJSON(ctx, r.Client, http.MethodDelete, r.BaseURL+"/v1/scene/entities/"+e.ID, nil, nil, http.StatusNoContent); err != nil {
			errs = append(errs, fmt.Errorf("entity %s: %w", e.ID, err))
		}
	}
	if previous != nil {
		if err := doJSON(ctx, r.Client, http.MethodPatch, r.BaseURL+"/v1/settings", previous, nil, http.StatusOK); err != nil {
			errs = append(errs, fmt.Errorf("settings: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		r.Logger("    Warning: teardown incomplete: %v", err)
	}
}

// runStep performs a step's action and checks its expectations
func (r *Runner) runStep(ctx context.Context, step TestStep, groupIDs map[string]string) TestResult {
	start := time.Now()
	result := TestResult{StepName: step.Name}

	if !step.KeepLog && step.Action != ActionClearLog {
		if err := r.performAction(ctx, TestStep{Action: ActionClearLog}, groupIDs); err != nil {
			result.Error = err
			result.Duration = time.Since(start)
			return result
		}
	}

	if err := r.performAction(ctx, step, groupIDs); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	check := func(entries []chatlog.Entry) error {
		return CheckExpectations(step.Expectations, entries)
	}

	var entries []chatlog.Entry
	var err error
	if step.WaitSeconds > 0 {
		select {
		case <-ctx.Done():
			result.Error = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-time.After(time.Duration(step.WaitSeconds * float64(time.Second))):
		}
		entries, err = GetLog(ctx, r.Client, r.BaseURL)
		if err == nil {
			err = check(entries)
		}
	} else {
		entries, err = PollForLog(ctx, r.Client, r.BaseURL, r.Timeout, check)
	}
	result.Lines = len(entries)

	if err == nil && step.Expectations.Paused != nil {
		status, statusErr := GetStatus(ctx, r.Client, r.BaseURL)
		switch {
		case statusErr != nil:
			err = statusErr
		case status.Paused != *step.Expectations.Paused:
			err = fmt.Errorf("expected paused=%t, got %t", *step.Expectations.Paused, status.Paused)
		}
	}

	result.Error = err
	result.Success = err == nil
	result.Duration = time.Since(start)
	return result
}

// performAction sends the request for a single step action
func (r *Runner) performAction(ctx context.Context, step TestStep, groupIDs map[string]string) error {
	switch step.Action {
	case ActionMove:
		if step.Target == "" || step.Position == nil {
			return fmt.Errorf("move requires target and position")
		}
		return doJSON(ctx, r.Client, http.MethodPatch, r.BaseURL+"/v1/scene/entities/"+step.Target, step.Position, nil, http.StatusOK)

	case ActionPlace:
		if step.Entity == nil {
			return fmt.Errorf("place requires entity")
		}
		return doJSON(ctx, r.Client, http.MethodPut, r.BaseURL+"/v1/scene/entities/"+step.Entity.ID, step.Entity, nil, http.StatusOK)

	case ActionRemove:
		return doJSON(ctx, r.Client, http.MethodDelete, r.BaseURL+"/v1/scene/entities/"+step.Target, nil, nil, http.StatusNoContent)

	case ActionPause, ActionResume:
		return doJSON(ctx, r.Client, http.MethodPost, r.BaseURL+"/v1/monitor/"+step.Action, nil, nil, http.StatusOK)

	case ActionEnable, ActionDisable:
		body := map[string]bool{"enabled": step.Action == ActionEnable}
		if name, ok := strings.CutPrefix(step.Target, groupTargetPrefix); ok {
			id, found := groupIDs[name]
			if !found {
				return fmt.Errorf("unknown group %q", name)
			}
			return doJSON(ctx, r.Client, http.MethodPatch, r.BaseURL+"/v1/groups/"+id, body, nil, http.StatusOK)
		}
		return doJSON(ctx, r.Client, http.MethodPatch, r.BaseURL+"/v1/auras/"+step.Target, body, nil, http.StatusOK)

	case ActionSettings:
		if step.Settings == nil {
			return fmt.Errorf("settings requires a settings patch")
		}
		return doJSON(ctx, r.Client, http.MethodPatch, r.BaseURL+"/v1/settings", step.Settings, nil, http.StatusOK)

	case ActionClearLog:
		return doJSON(ctx, r.Client, http.MethodDelete, r.BaseURL+"/v1/log", nil, nil, http.StatusNoContent)

	case ActionWait, "":
		return nil

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// CheckExpectations compares a chat log against a step's expectations and
// reports every mismatch at once.
func CheckExpectations(exp Expectations, entries []chatlog.Entry) error {
	var errs []error

	spoke := make(map[string]bool, len(entries))
	for _, e := range entries {
		spoke[e.SpeakerID] = true
	}

	for _, id := range exp.Speakers {
		if !spoke[id] {
			errs = append(errs, fmt.Errorf("expected %s to speak", id))
		}
	}
	for _, id := range exp.Silent {
		if spoke[id] {
			errs = append(errs, fmt.Errorf("expected %s to stay silent", id))
		}
	}

	if len(exp.SpeakerOrder) > 0 {
		next := 0
		for _, e := range entries {
			if next < len(exp.SpeakerOrder) && e.SpeakerID == exp.SpeakerOrder[next] {
				next++
			}
		}
		if next < len(exp.SpeakerOrder) {
			errs = append(errs, fmt.Errorf("expected speaker order %v, got %v", exp.SpeakerOrder, speakers(entries)))
		}
	}

	for _, want := range exp.TextContains {
		if !slices.ContainsFunc(entries, func(e chatlog.Entry) bool { return strings.Contains(e.Text, want) }) {
			errs = append(errs, fmt.Errorf("expected a line containing %q", want))
		}
	}
	for _, unwanted := range exp.TextNotContains {
		if slices.ContainsFunc(entries, func(e chatlog.Entry) bool { return strings.Contains(e.Text, unwanted) }) {
			errs = append(errs, fmt.Errorf("expected no line containing %q", unwanted))
		}
	}

	if exp.MinLines != nil && len(entries) < *exp.MinLines {
		errs = append(errs, fmt.Errorf("expected at least %d lines, got %d", *exp.MinLines, len(entries)))
	}
	if exp.MaxLines != nil && len(entries) > *exp.MaxLines {
		errs = append(errs, fmt.Errorf("expected at most %d lines, got %d", *exp.MaxLines, len(entries)))
	}

	return errors.Join(errs...)
}

func speakers(entries []chatlog.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.SpeakerID
	}
	return out
}
