package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/run-ci/gate/pipeline"
	"github.com/run-ci/gate/store"
	log "github.com/sirupsen/logrus"
)

// agentStore is the slice of the store the agent needs to record
// what it's doing.
type agentStore interface {
	CreateRun(*store.Run) error
	UpdateRun(*store.Run) error
	CreateJob(*store.Job) error
	UpdateJob(*store.Job) error
	CreateStep(*store.Step) error
	UpdateStep(*store.Step) error
	UpdatePipeline(*store.Pipeline) error
}

// containerRunner is what the executor needs from the container
// backend: a workspace per job and a way to run one command in it.
type containerRunner interface {
	CreateEnv() (string, error)
	Run(env, image string, argv, cenv []string) (int, string, error)
	RemoveEnv(env string) error
}

// executor drives pipeline runs to a verdict.
type executor struct {
	st     agentStore
	runner containerRunner
	gitimg string
}

// ExecuteRun runs ev's pipeline once and records the verdict. The
// run passes only if every job passed, and every failing job gets
// named, not just the first one.
func (ex *executor) ExecuteRun(ev Event) {
	logger := logger.WithFields(log.Fields{
		"pipeline_id": ev.PipelineID,
		"remote":      ev.GitRemote.URL,
		"branch":      ev.GitRemote.Branch,
		"sha":         ev.SHA,
	})

	run := store.Run{
		PipelineID: ev.PipelineID,
	}
	run.SetStart()

	// A broken document is a verdict on the configuration, not on
	// the code. The run fails here, before any job or container
	// exists for it.
	if err := ev.Pipeline.Validate(); err != nil {
		logger.WithError(err).Error("pipeline failed validation, failing run")

		run.MarkSuccess(false)
		run.SetEnd()

		if err := ex.st.CreateRun(&run); err != nil {
			logger.WithError(err).Error("unable to save run")
			return
		}

		ex.markPipeline(logger, ev.PipelineID, false)
		return
	}

	if err := ex.st.CreateRun(&run); err != nil {
		logger.WithError(err).Error("unable to save run")
		return
	}

	logger = logger.WithField("run_count", run.Count)
	logger.Info("starting run")

	type result struct {
		name string
		ok   bool
	}

	results := make(chan result, len(ev.Pipeline.Jobs))

	var wg sync.WaitGroup
	for _, jobspec := range ev.Pipeline.Jobs {
		wg.Add(1)

		go func(jobspec pipeline.Job) {
			defer wg.Done()

			results <- result{
				name: jobspec.Name,
				ok:   ex.runJob(ev, run.Count, jobspec),
			}
		}(jobspec)
	}

	wg.Wait()
	close(results)

	failed := []string{}
	for res := range results {
		if !res.ok {
			failed = append(failed, res.name)
		}
	}
	sort.Strings(failed)

	run.MarkSuccess(len(failed) == 0)
	run.SetEnd()

	if err := ex.st.UpdateRun(&run); err != nil {
		logger.WithError(err).Error("unable to save run")
	}

	ex.markPipeline(logger, ev.PipelineID, !run.Failed())

	if len(failed) > 0 {
		logger.WithField("failed_jobs", strings.Join(failed, ", ")).
			Error("run failed")
		return
	}

	logger.Info("run passed")
}

// runJob runs one of the pipeline's jobs in its own workspace. Jobs
// run concurrently, so everything here has to stay off the other
// jobs' state.
func (ex *executor) runJob(ev Event, count int, jobspec pipeline.Job) bool {
	logger := logger.WithFields(log.Fields{
		"pipeline_id": ev.PipelineID,
		"run_count":   count,
		"job":         jobspec.Name,
	})

	job := store.Job{
		Name:       jobspec.Name,
		PipelineID: ev.PipelineID,
		RunCount:   count,
	}
	job.SetStart()

	if err := ex.st.CreateJob(&job); err != nil {
		logger.WithError(err).Error("unable to save job")
		return false
	}

	ok := ex.runSteps(logger, ev, &job, jobspec)

	job.MarkSuccess(ok)
	job.SetEnd()

	if err := ex.st.UpdateJob(&job); err != nil {
		logger.WithError(err).Error("unable to save job")
		return false
	}

	return ok
}

// runSteps runs the job's steps in order, stopping at the first one
// that fails. Steps after a failure are never created, so a job's
// record only ever holds steps that actually ran.
func (ex *executor) runSteps(logger *log.Entry, ev Event, job *store.Job, jobspec pipeline.Job) bool {
	env, err := ex.runner.CreateEnv()
	if err != nil {
		logger.WithError(err).Error("unable to create job environment")
		return false
	}

	defer func() {
		if err := ex.runner.RemoveEnv(env); err != nil {
			logger.WithError(err).Error("unable to remove job environment")
		}
	}()

	cenv := renderEnv(ev.Pipeline.Env)

	for _, stepspec := range jobspec.Steps {
		logger := logger.WithField("step", stepspec.Name)

		step := store.Step{
			Name:  stepspec.Name,
			JobID: job.ID,
		}
		step.SetStart()

		if err := ex.st.CreateStep(&step); err != nil {
			logger.WithError(err).Error("unable to save step")
			return false
		}

		image := jobspec.Image
		argv := stepspec.Argv(ev.Pipeline.Policy)
		if stepspec.Checkout {
			image = ex.gitimg
			argv = []string{ev.GitRemote.URL, ".", ev.SHA}
		}

		logger.WithField("argv", strings.Join(argv, " ")).
			Debug("running step")

		status, out, err := ex.runner.Run(env, image, argv, cenv)

		step.Log = out
		step.SetEnd()

		// Findings get surfaced even when the step passed. Warn
		// rules don't fail the job but they still belong in the log.
		if stepspec.Lint != nil {
			logFindings(logger, out, ev.Pipeline.Policy)
		}

		if err != nil || status != 0 {
			logger.WithError(err).WithField("status", status).
				Error("step failed, aborting job")

			step.MarkSuccess(false)
			if err := ex.st.UpdateStep(&step); err != nil {
				logger.WithError(err).Error("unable to save step")
			}

			return false
		}

		step.MarkSuccess(true)
		if err := ex.st.UpdateStep(&step); err != nil {
			logger.WithError(err).Error("unable to save step")
			return false
		}
	}

	return true
}

// markPipeline mirrors the latest verdict onto the pipeline itself.
func (ex *executor) markPipeline(logger *log.Entry, pid int, ok bool) {
	p := store.Pipeline{ID: pid}
	p.MarkSuccess(ok)

	if err := ex.st.UpdatePipeline(&p); err != nil {
		logger.WithError(err).Error("unable to save pipeline status")
	}
}

func logFindings(logger *log.Entry, out string, policy pipeline.RulePolicy) {
	findings := pipeline.ParseFindings(out, policy)

	denied, warned := 0, 0
	for _, f := range findings {
		entry := logger.WithFields(log.Fields{
			"rule": f.Rule,
			"file": f.File,
			"line": f.Line,
		})

		switch f.Level {
		case pipeline.Deny:
			denied++
			entry.Error(f.Message)
		default:
			warned++
			entry.Warn(f.Message)
		}
	}

	logger.WithFields(log.Fields{
		"denied": denied,
		"warned": warned,
	}).Info("lint findings")
}

// renderEnv flattens the pipeline's env map in sorted key order so
// every container in the run sees the same environment list.
func renderEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rendered := make([]string, 0, len(keys))
	for _, k := range keys {
		rendered = append(rendered, fmt.Sprintf("%v=%v", k, env[k]))
	}

	return rendered
}
