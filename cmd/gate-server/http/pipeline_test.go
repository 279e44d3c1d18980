package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/run-ci/gate/pipeline"
	"github.com/run-ci/gate/store"
)

func (st *memStore) GetPipelines() ([]store.Pipeline, error) {
	pipelines := []store.Pipeline{}
	for _, p := range st.pipelinedb {
		pipelines = append(pipelines, p)
	}

	return pipelines, nil
}

func (st *memStore) GetPipeline(id int) (store.Pipeline, error) {
	p, ok := st.pipelinedb[id]
	if !ok {
		return store.Pipeline{}, store.ErrPipelineNotFound
	}

	return p, nil
}

func (st *memStore) seedPipelines() {
	passed := true
	failed := false

	st.pipelinedb[1] = store.Pipeline{
		ID:      1,
		Name:    "verify",
		Success: &passed,
		GitRemote: store.GitRemote{
			URL:    "https://github.com/run-ci/sokoban.git",
			Branch: "main",
		},
		Runs: []store.Run{
			{
				Count:      1,
				PipelineID: 1,
				Success:    &passed,
			},
			{
				Count:      2,
				PipelineID: 1,
				Success:    &passed,
			},
		},
	}

	st.pipelinedb[2] = store.Pipeline{
		ID:      2,
		Name:    "verify",
		Success: &failed,
		GitRemote: store.GitRemote{
			URL:    "https://github.com/run-ci/gate.git",
			Branch: "main",
		},
	}
}

func TestGetPipelines(t *testing.T) {
	st := &memStore{
		pipelinedb: make(map[int]store.Pipeline),
	}
	st.seedPipelines()

	srv := NewServer(":9001", make(chan []byte), st, pipeline.Default(), "test", "")

	req := httptest.NewRequest(http.MethodGet, "http://test/pipelines", nil)
	req = req.WithContext(context.WithValue(context.Background(), keyReqID, "test"))
	rw := httptest.NewRecorder()

	srv.handleGetPipelines(rw, req)

	resp := rw.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %v, got %v", http.StatusOK, resp.StatusCode)
	}

	payload, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("got error reading response body: %v", err)
	}
	defer resp.Body.Close()

	pipelines := []store.Pipeline{}
	err = json.Unmarshal(payload, &pipelines)
	if err != nil {
		t.Fatalf("got error unmarshaling response body: %v", err)
	}

	if len(pipelines) != len(st.pipelinedb) {
		t.Fatalf("expected to get %v pipelines, got %v", len(st.pipelinedb), len(pipelines))
	}

	for _, p := range pipelines {
		stored, ok := st.pipelinedb[p.ID]
		if !ok {
			t.Fatalf("got pipeline %+v that isn't in DB", p)
		}

		if stored.Name != p.Name {
			t.Fatalf("expected pipeline named %v, got %v", stored.Name, p.Name)
		}

		if stored.GitRemote != p.GitRemote {
			t.Fatalf("expected pipeline remote %v, got %v", stored.GitRemote, p.GitRemote)
		}
	}
}

func TestGetPipeline(t *testing.T) {
	st := &memStore{
		pipelinedb: make(map[int]store.Pipeline),
	}
	st.seedPipelines()

	srv := NewServer(":9001", make(chan []byte), st, pipeline.Default(), "test", "")

	test := struct {
		input    int
		expected store.Pipeline
		actual   store.Pipeline
		status   int
	}{
		input:    1,
		expected: st.pipelinedb[1],
		actual:   store.Pipeline{},
		status:   http.StatusOK,
	}

	r := mux.NewRouter()
	r.Handle("/pipelines/{id}", chain(srv.handleGetPipeline, setRequestID, autoAuth))

	ts := httptest.NewServer(r)
	defer ts.Close()

	requrl := fmt.Sprintf("%v/pipelines/%v", ts.URL, test.input)
	req, err := http.NewRequest(http.MethodGet, requrl, nil)
	if err != nil {
		t.Fatalf("error creating http request for test: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("error executing test against test server: %v", err)
	}

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("got error reading response body: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != test.status {
		t.Fatalf("expected status code %v, got %v", test.status, resp.StatusCode)
	}

	err = json.Unmarshal(buf, &test.actual)
	if err != nil {
		t.Fatalf("got error unmarshaling pipeline: %v", err)
	}

	if test.expected.ID != test.actual.ID {
		t.Fatalf("expected ID %v, got %v", test.expected.ID, test.actual.ID)
	}

	if test.expected.Name != test.actual.Name {
		t.Fatalf("expected Name %v, got %v", test.expected.Name, test.actual.Name)
	}

	if test.expected.GitRemote != test.actual.GitRemote {
		t.Fatalf("expected remote %v, got %v", test.expected.GitRemote, test.actual.GitRemote)
	}

	if len(test.expected.Runs) != len(test.actual.Runs) {
		t.Fatalf("expected pipeline to have %v runs, got %v",
			len(test.expected.Runs),
			len(test.actual.Runs),
		)
	}
}

func TestGetPipelineNotFound(t *testing.T) {
	st := &memStore{
		pipelinedb: make(map[int]store.Pipeline),
	}
	st.seedPipelines()

	srv := NewServer(":9001", make(chan []byte), st, pipeline.Default(), "test", "")

	r := mux.NewRouter()
	r.Handle("/pipelines/{id}", chain(srv.handleGetPipeline, setRequestID, autoAuth))

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(fmt.Sprintf("%v/pipelines/%v", ts.URL, 42))
	if err != nil {
		t.Fatalf("error executing test against test server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status code %v, got %v", http.StatusNotFound, resp.StatusCode)
	}
}
