package store

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

var (
	// ErrPipelineNotFound is what's returned when a pipeline couldn't
	// be found in the store.
	ErrPipelineNotFound = errors.New("pipeline not found")
	// ErrNoPipelines is an error returned when a method of a GateStore
	// doesn't find any pipelines.
	ErrNoPipelines = errors.New("no pipelines found")
	// ErrRunNotFound is an error returned when a run isn't found for a
	// given pipeline.
	ErrRunNotFound = errors.New("run not found")
	// ErrJobNotFound is an error returned when a Job isn't found.
	ErrJobNotFound = errors.New("job not found")
	// ErrStepNotFound is an error returned when a Step isn't found.
	ErrStepNotFound = errors.New("step not found")
	// ErrNotAuthenticated is returned when a user's credentials don't
	// check out.
	ErrNotAuthenticated = errors.New("not authenticated")
)

func init() {
	logger = log.WithFields(log.Fields{
		"package": "store",
	})
}

// GateStore is an all-encompassing interface for all the behaviors
// a store can exhibit. The interface is massive, but all this is included
// so that store implementations can be seamlessly swapped out. Consumers
// should define their own interfaces that use a subset of this interface's
// functions related to what they're interested in.
type GateStore interface {
	GetPipelines() ([]Pipeline, error)
	GetPipeline(id int) (Pipeline, error)
	// GetPipelineID takes these fields because it's the only way to
	// identify a pipeline before the ID is known. If there are no
	// pipelines matching these filters, implementations should return
	// ErrNoPipelines.
	GetPipelineID(GitRemote, string) (int, error)

	// GetRun returns the nth run for the pipeline with the passed
	// in ID from the store. If a run with that count isn't found
	// for whatever reason, ErrRunNotFound is returned.
	GetRun(pid, n int) (Run, error)
	// GetJob returns the job with the given ID from the store.
	// If no job with that ID is found, ErrJobNotFound should
	// be returned.
	GetJob(id int) (Job, error)
	// GetStep returns the Step with the given ID from the store.
	// If no Step with that ID is found, ErrStepNotFound should
	// be returned.
	GetStep(id int) (Step, error)

	// These Create* methods save their respective resources in
	// the store, setting create-time values on the input.
	CreatePipeline(*Pipeline) error
	CreateRun(*Run) error
	CreateJob(*Job) error
	CreateStep(*Step) error

	// These Update* methods update their respective resources in
	// the store, setting update-time values on the input if there
	// are any.
	UpdatePipeline(*Pipeline) error
	UpdateRun(*Run) error
	UpdateJob(*Job) error
	UpdateStep(*Step) error

	CreateUser(*User) error
	Authenticate(email, pass string) error
}

// GitRemote is the remote location of a Git repository, specified
// by the URL and branch name.
type GitRemote struct {
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

// Pipeline is the record of a verification pipeline watching a
// remote. Its success mirrors the latest run's verdict.
type Pipeline struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Success *bool  `json:"success"`

	GitRemote GitRemote `json:"git_remote"`

	// The jobs are accessed run by run because a pipeline
	// can be updated to have different jobs. Placing them
	// directly on the pipeline itself would mean that the
	// data from previous runs could be mangled.
	Runs []Run `json:"runs,omitempty"`
}

// Run is a representation of the actual state of execution of a pipeline.
type Run struct {
	Count   int        `json:"count"`
	Start   *time.Time `json:"start"`
	End     *time.Time `json:"end"`
	Success *bool      `json:"success"` // mid-run is neither success nor failure

	// This attribute is necessary to have here because a run can only be
	// identified by the combination of its pipeline and its place.
	PipelineID int `json:"pipeline_id"`

	Jobs []Job `json:"jobs,omitempty"`
}

// Job is the representation of the actual state of execution of one
// of a run's parallel jobs.
type Job struct {
	ID      int        `json:"id"`
	Name    string     `json:"name"`
	Start   *time.Time `json:"start"`
	End     *time.Time `json:"end"`
	Success *bool      `json:"success"` // mid-run is neither success nor failure

	PipelineID int `json:"-"`
	RunCount   int `json:"-"`

	Steps []Step `json:"steps,omitempty"`
}

// Step is the representation of the actual state of execution of one
// of a job's sequential steps, along with the output it produced.
type Step struct {
	ID      int        `json:"id"`
	Name    string     `json:"name"`
	Start   *time.Time `json:"start"`
	End     *time.Time `json:"end"`
	Success *bool      `json:"success"` // mid-run is neither success nor failure
	Log     string     `json:"log"`

	JobID int `json:"-"`
}

// User is an entity that's authorized to interact with the CI system.
type User struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MarkSuccess is a convenience method for setting the success status.
func (p *Pipeline) MarkSuccess(s bool) {
	p.Success = &s
}

// Failed is a convenience method for checking the success status
// for a failure.
func (p *Pipeline) Failed() bool {
	return p.Success != nil && *p.Success == false
}

// SetStart is a convenience method for setting the start time pointer.
func (r *Run) SetStart() {
	t := time.Now()
	r.Start = &t
}

// SetEnd is a convenience method for setting the end time pointer.
func (r *Run) SetEnd() {
	t := time.Now()
	r.End = &t
}

// MarkSuccess is a convenience method for setting the success status.
func (r *Run) MarkSuccess(s bool) {
	r.Success = &s
}

// Failed is a convenience method for checking the success status
// for a failure.
func (r *Run) Failed() bool {
	return r.Success != nil && *r.Success == false
}

// SetStart is a convenience method for setting the start time pointer.
func (j *Job) SetStart() {
	t := time.Now()
	j.Start = &t
}

// SetEnd is a convenience method for setting the end time pointer.
func (j *Job) SetEnd() {
	t := time.Now()
	j.End = &t
}

// MarkSuccess is a convenience method for setting the success status.
func (j *Job) MarkSuccess(s bool) {
	j.Success = &s
}

// Failed is a convenience method for checking the success status
// for a failure.
func (j *Job) Failed() bool {
	return j.Success != nil && *j.Success == false
}

// SetStart is a convenience method for setting the start time pointer.
func (st *Step) SetStart() {
	t := time.Now()
	st.Start = &t
}

// SetEnd is a convenience method for setting the end time pointer.
func (st *Step) SetEnd() {
	t := time.Now()
	st.End = &t
}

// MarkSuccess is a convenience method for setting the success status.
func (st *Step) MarkSuccess(s bool) {
	st.Success = &s
}
