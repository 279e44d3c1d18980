package main

import (
	"github.com/run-ci/gate/pipeline"
	"github.com/run-ci/gate/store"
)

// Event is a message that comes in requesting a pipeline run. The
// pipeline document rides along in full so the agent never has to
// ask the server what to execute.
type Event struct {
	GitRemote  store.GitRemote   `json:"git_remote"`
	SHA        string            `json:"sha"`
	PipelineID int               `json:"pipeline_id"`
	Pipeline   pipeline.Pipeline `json:"pipeline"`
}
