package runner

import (
	"time"

	"github.com/jwebster45206/conversation-engine/internal/settings"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

// Step actions understood by the runner
const (
	ActionMove     = "move"      // patch an entity position
	ActionPlace    = "place"     // put a whole entity into the scene
	ActionRemove   = "remove"    // delete an entity from the scene
	ActionPause    = "pause"     // POST /v1/monitor/pause
	ActionResume   = "resume"    // POST /v1/monitor/resume
	ActionDisable  = "disable"   // disable the aura or group named by target
	ActionEnable   = "enable"    // enable the aura or group named by target
	ActionSettings = "settings"  // patch world settings
	ActionClearLog = "clear_log" // DELETE /v1/log
	ActionWait     = "wait"      // do nothing, only wait
)

// TestSuite defines a complete integration test scenario
// Can either be a regular test with Setup and Steps, or a suite that references other Cases
type TestSuite struct {
	Name  string     `json:"name"`
	Setup SceneSetup `json:"setup,omitempty"` // Used for regular tests
	Steps []TestStep `json:"steps,omitempty"` // Used for regular tests
	Cases []string   `json:"cases,omitempty"` // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// SceneSetup is applied before the first step and torn down after the last.
// Groups are keyed by a local name so steps can refer to them; the host
// assigns the real IDs.
type SceneSetup struct {
	Entities []scene.Entity                  `json:"entities,omitempty"`
	Auras    []AuraSetup                     `json:"auras,omitempty"`
	Groups   map[string]dialogue.GroupConfig `json:"groups,omitempty"`
	Settings *settings.Patch                 `json:"settings,omitempty"`
}

// AuraSetup assigns a corpus to an entity. A zero range takes the world default.
type AuraSetup struct {
	EntityID string  `json:"entity_id"`
	CorpusID string  `json:"corpus_id"`
	Range    float64 `json:"range,omitempty"`
}

// TestStep defines a single action against the host and its expected outcomes.
// The log is cleared before the action unless KeepLog is set.
type TestStep struct {
	Name         string          `json:"name,omitempty"`
	Action       string          `json:"action"`
	Target       string          `json:"target,omitempty"` // entity ID, or "group:<name>" for groups
	Position     *scene.Position `json:"position,omitempty"`
	Entity       *scene.Entity   `json:"entity,omitempty"`
	Settings     *settings.Patch `json:"settings,omitempty"`
	WaitSeconds  float64         `json:"wait_seconds,omitempty"`
	KeepLog      bool            `json:"keep_log,omitempty"`
	Expectations Expectations    `json:"expect"`
}

// Expectations defines what to check in the chat log after a step executes.
// With WaitSeconds set the log is read once after the wait; otherwise it is
// polled until the expectations hold or the runner times out.
type Expectations struct {
	Speakers        []string `json:"speakers,omitempty"`      // each must have spoken
	Silent          []string `json:"silent,omitempty"`        // none of these may have spoken
	SpeakerOrder    []string `json:"speaker_order,omitempty"` // must appear in this relative order
	TextContains    []string `json:"text_contains,omitempty"` // each must appear in some line
	TextNotContains []string `json:"text_not_contains,omitempty"`
	MinLines        *int     `json:"min_lines,omitempty"`
	MaxLines        *int     `json:"max_lines,omitempty"`
	Paused          *bool    `json:"paused,omitempty"` // monitor status after the step
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName string
	StepName string
	Success  bool
	Error    error
	Duration time.Duration
	Lines    int // chat lines observed when expectations were checked
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	Error    error
	Duration time.Duration
	GroupIDs map[string]string // local group name to host-assigned ID
}
