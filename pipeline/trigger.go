package pipeline

import (
	"errors"
	"fmt"
)

// Event types a trigger can listen for. The names match what the
// forge sends in its webhook deliveries.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

// Trigger is the (event, branch) condition that launches a run. It
// lives on the pipeline, never on a job, so every job of a pipeline
// shares it by construction.
type Trigger struct {
	Events []string `json:"events" yaml:"events"`
	Branch string   `json:"branch" yaml:"branch"`
}

// Event is a normalized repository event. For pushes the branch is the
// pushed ref; for pull requests it's the branch the change targets.
type Event struct {
	Type    string `json:"type"`
	Remote  string `json:"remote"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha"`
	Deleted bool   `json:"deleted"`
}

// Matches reports whether ev should launch a run. It's a pure
// predicate: the decision depends on the trigger and the event alone.
func (t Trigger) Matches(ev Event) bool {
	if ev.Deleted {
		return false
	}

	if ev.Branch != t.Branch {
		return false
	}

	for _, typ := range t.Events {
		if typ == ev.Type {
			return true
		}
	}

	return false
}

// Validate checks the trigger for unknown event types and a missing
// branch filter.
func (t Trigger) Validate() error {
	if t.Branch == "" {
		return errors.New("trigger branch is required")
	}

	if len(t.Events) == 0 {
		return errors.New("trigger events are required")
	}

	for _, typ := range t.Events {
		switch typ {
		case EventPush, EventPullRequest:
		default:
			return fmt.Errorf("unknown trigger event %q", typ)
		}
	}

	return nil
}
