// Package pipeline defines the verification pipeline document: which
// repository events launch a run, which jobs run for it, and the lint
// rule policy the analyzer is held to. The document is pure data.
// Validation here is the setup gate; a document that doesn't pass
// Validate must never reach an executor.
package pipeline

import (
	"errors"
	"fmt"
	"io/ioutil"

	yaml "gopkg.in/yaml.v2"
)

// Pipeline is one verification pipeline: a trigger, a rule policy, and
// the jobs that run when the trigger matches.
type Pipeline struct {
	Name    string            `json:"name" yaml:"name"`
	Trigger Trigger           `json:"trigger" yaml:"trigger"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Policy  RulePolicy        `json:"rules" yaml:"rules"`
	Jobs    []Job             `json:"jobs" yaml:"jobs"`
}

// Job is an independently scheduled group of steps. Jobs in a pipeline
// run in parallel with nothing shared between them; the steps inside a
// job run strictly in order.
type Job struct {
	Name  string `json:"name" yaml:"name"`
	Image string `json:"image" yaml:"image"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step is one atomic action inside a job: a repository checkout, a
// shell command, or the lint pass. Exactly one of the three must be
// set.
type Step struct {
	Name     string    `json:"name" yaml:"name"`
	Checkout bool      `json:"checkout,omitempty" yaml:"checkout,omitempty"`
	Run      string    `json:"run,omitempty" yaml:"run,omitempty"`
	Lint     *LintStep `json:"lint,omitempty" yaml:"lint,omitempty"`
}

// LintStep configures the analyzer invocation. The rules themselves
// come from the pipeline's policy; the step only says how wide the
// pass is.
type LintStep struct {
	AllTargets  bool `json:"all_targets" yaml:"all_targets"`
	AllFeatures bool `json:"all_features" yaml:"all_features"`
}

// Parse decodes and validates a pipeline document.
func Parse(buf []byte) (Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(buf, &p); err != nil {
		return p, fmt.Errorf("unable to decode pipeline: %v", err)
	}

	if err := p.Validate(); err != nil {
		return p, err
	}

	return p, nil
}

// Load reads and parses the pipeline document at path.
func Load(path string) (Pipeline, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return Pipeline{}, err
	}

	return Parse(buf)
}

// Validate checks the whole document. It runs when a pipeline is
// accepted at boot and again in the agent before any step executes, so
// a bad document is always a setup failure and never a partial run.
func (p Pipeline) Validate() error {
	if p.Name == "" {
		return errors.New("pipeline name is required")
	}

	if err := p.Trigger.Validate(); err != nil {
		return err
	}

	if len(p.Jobs) == 0 {
		return errors.New("pipeline has no jobs")
	}

	seen := make(map[string]bool, len(p.Jobs))
	for _, job := range p.Jobs {
		if job.Name == "" {
			return errors.New("job name is required")
		}
		if seen[job.Name] {
			return fmt.Errorf("duplicate job %q", job.Name)
		}
		seen[job.Name] = true

		if err := job.Validate(); err != nil {
			return fmt.Errorf("job %q: %v", job.Name, err)
		}
	}

	return p.Policy.Validate()
}

// Validate checks the job's image and steps.
func (j Job) Validate() error {
	if j.Image == "" {
		return errors.New("image is required")
	}

	if len(j.Steps) == 0 {
		return errors.New("job has no steps")
	}

	for _, step := range j.Steps {
		if err := step.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks that the step is exactly one kind of action.
func (s Step) Validate() error {
	if s.Name == "" {
		return errors.New("step name is required")
	}

	kinds := 0
	if s.Checkout {
		kinds++
	}
	if s.Run != "" {
		kinds++
	}
	if s.Lint != nil {
		kinds++
	}

	switch {
	case kinds == 0:
		return fmt.Errorf("step %q does nothing", s.Name)
	case kinds > 1:
		return fmt.Errorf("step %q mixes checkout, run and lint", s.Name)
	}

	return nil
}

// Argv is the command line the step's container runs, with the lint
// policy already rendered into analyzer flags. Checkout steps return
// nil; the executor owns the clone invocation.
func (s Step) Argv(policy RulePolicy) []string {
	switch {
	case s.Run != "":
		return []string{"sh", "-c", s.Run}
	case s.Lint != nil:
		return s.Lint.argv(policy)
	default:
		return nil
	}
}

func (l LintStep) argv(policy RulePolicy) []string {
	argv := []string{"cargo", "clippy"}
	if l.AllTargets {
		argv = append(argv, "--all-targets")
	}
	if l.AllFeatures {
		argv = append(argv, "--all-features")
	}

	argv = append(argv, "--")
	return append(argv, policy.Args()...)
}
