package http

import (
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

func (st *memStore) GetStep(id int) (store.Step, error) {
	s, ok := st.stepdb[id]
	if !ok {
		return store.Step{}, store.ErrStepNotFound
	}

	return s, nil
}

func (st *memStore) seedSteps() {
	passed := true
	failed := false

	st.stepdb[1] = store.Step{
		ID:      1,
		Name:    "compile",
		Success: &passed,
		Log:     "   Compiling sokoban v0.1.0 (/ci/repo)\n    Finished dev [unoptimized + debuginfo] target(s) in 4.02s\n",
		JobID:   1,
	}

	st.stepdb[2] = store.Step{
		ID:      2,
		Name:    "lint",
		Success: &failed,
		Log:     "error: used `unwrap()` on a `Result` value\n  --> src/main.rs:14:18\n",
		JobID:   2,
	}
}

func TestGetStep(t *testing.T) {
	st := &memStore{
		stepdb: make(map[int]store.Step),
	}
	st.seedSteps()

	srv := NewServer(":9001", make(chan []byte), st, pipeline.Default(), "test", "")

	test := struct {
		input    int
		expected store.Step
		actual   store.Step
		status   int
	}{
		input:    2,
		expected: st.stepdb[2],
		actual:   store.Step{},
		status:   http.StatusOK,
	}

	r := mux.NewRouter()
	r.Handle("/steps/{id}", chain(srv.handleGetStep, setRequestID, autoAuth))

	ts := httptest.NewServer(r)
	defer ts.Close()

	requrl := fmt.Sprintf("%v/steps/%v", ts.URL, test.input)
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
		t.Fatalf("got error unmarshaling step: %v", err)
	}

	if test.expected.ID != test.actual.ID {
		t.Fatalf("expected ID %v, got %v", test.expected.ID, test.actual.ID)
	}

	if test.expected.Name != test.actual.Name {
		t.Fatalf("expected Name %v, got %v", test.expected.Name, test.actual.Name)
	}

	if *test.expected.Success != *test.actual.Success {
		t.Fatalf("expected Success %v, got %v", *test.expected.Success, *test.actual.Success)
	}

	// The log needs to come back exactly as the container wrote it,
	// trailing whitespace and all.
	if test.expected.Log != test.actual.Log {
		t.Fatalf("expected Log %q, got %q", test.expected.Log, test.actual.Log)
	}
}

func TestGetStepNotFound(t *testing.T) {
	st := &memStore{
		stepdb: make(map[int]store.Step),
	}
	st.seedSteps()

	srv := NewServer(":9001", make(chan []byte), st, pipeline.Default(), "test", "")

	r := mux.NewRouter()
	r.Handle("/steps/{id}", chain(srv.handleGetStep, setRequestID, autoAuth))

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(fmt.Sprintf("%v/steps/%v", ts.URL, 42))
	if err != nil {
		t.Fatalf("error executing test against test server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status code %v, got %v", http.StatusNotFound, resp.StatusCode)
	}
}

// TODO: test that /steps/{id} respects auth
