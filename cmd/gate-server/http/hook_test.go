package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/run-ci/gate/pipeline"
	"github.com/run-ci/gate/store"
)

type memStore struct {
	pipelinedb map[int]store.Pipeline
	rundb      map[int]store.Run
	jobdb      map[int]store.Job
	stepdb     map[int]store.Step

	createPipeline func(p *store.Pipeline) error
}

func (st *memStore) GetPipelineID(remote store.GitRemote, name string) (int, error) {
	for id, p := range st.pipelinedb {
		if p.GitRemote == remote && p.Name == name {
			return id, nil
		}
	}

	return 0, store.ErrNoPipelines
}

func (st *memStore) CreatePipeline(p *store.Pipeline) error {
	if st.createPipeline != nil {
		return st.createPipeline(p)
	}

	p.ID = len(st.pipelinedb) + 1
	st.pipelinedb[p.ID] = *p
	return nil
}

func (st *memStore) seedHookPipeline(remote string) {
	st.pipelinedb[1] = store.Pipeline{
		ID:   1,
		Name: "verify",
		GitRemote: store.GitRemote{
			URL:    remote,
			Branch: "main",
		},
	}
}

const testRemote = "https://github.com/run-ci/sokoban.git"
const testSHA = "4e1243bd22c66e76c2ba9eddc1f91394e57f9f83"

func mkpush(ref, sha, remote string, deleted bool) []byte {
	var p pushPayload
	p.Ref = ref
	p.After = sha
	p.Deleted = deleted
	p.Repository.CloneURL = remote

	buf, _ := json.Marshal(p)
	return buf
}

func mkpr(action, base, sha, remote string) []byte {
	var p pullRequestPayload
	p.Action = action
	p.PullRequest.Head.SHA = sha
	p.PullRequest.Base.Ref = base
	p.PullRequest.Base.Repo.CloneURL = remote

	buf, _ := json.Marshal(p)
	return buf
}

func postHook(srv *Server, event string, body []byte) *http.Response {
	req := httptest.NewRequest(http.MethodPost, "http://test/hooks/github", bytes.NewBuffer(body))
	req = req.WithContext(context.WithValue(context.Background(), keyReqID, "test"))
	req.Header.Set("X-GitHub-Event", event)

	rw := httptest.NewRecorder()
	srv.handleGithubHook(rw, req)

	return rw.Result()
}

func TestGithubHook(t *testing.T) {
	tests := []struct {
		label    string
		event    string
		body     []byte
		launched bool
	}{
		{
			label:    "push to main",
			event:    "push",
			body:     mkpush("refs/heads/main", testSHA, testRemote, false),
			launched: true,
		},
		{
			label:    "push to another branch",
			event:    "push",
			body:     mkpush("refs/heads/develop", testSHA, testRemote, false),
			launched: false,
		},
		{
			label:    "tag push",
			event:    "push",
			body:     mkpush("refs/tags/v1.0.0", testSHA, testRemote, false),
			launched: false,
		},
		{
			label:    "branch deletion",
			event:    "push",
			body:     mkpush("refs/heads/main", testSHA, testRemote, true),
			launched: false,
		},
		{
			label:    "pull request opened",
			event:    "pull_request",
			body:     mkpr("opened", "main", testSHA, testRemote),
			launched: true,
		},
		{
			label:    "pull request synchronize",
			event:    "pull_request",
			body:     mkpr("synchronize", "main", testSHA, testRemote),
			launched: true,
		},
		{
			label:    "pull request closed",
			event:    "pull_request",
			body:     mkpr("closed", "main", testSHA, testRemote),
			launched: false,
		},
		{
			label:    "pull request against another branch",
			event:    "pull_request",
			body:     mkpr("opened", "develop", testSHA, testRemote),
			launched: false,
		},
		{
			label:    "ping",
			event:    "ping",
			body:     []byte("{}"),
			launched: false,
		},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			send := make(chan []byte, 1)
			st := &memStore{
				pipelinedb: make(map[int]store.Pipeline),
			}
			st.seedHookPipeline(testRemote)

			srv := NewServer(":9001", send, st, pipeline.Default(), "test", "")

			resp := postHook(srv, test.event, test.body)

			status := http.StatusOK
			if test.launched {
				status = http.StatusAccepted
			}

			if resp.StatusCode != status {
				t.Fatalf("expected status %v, got %v", status, resp.StatusCode)
			}

			buf, err := ioutil.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("got error reading response body: %v", err)
			}
			defer resp.Body.Close()

			var hr hookResponse
			err = json.Unmarshal(buf, &hr)
			if err != nil {
				t.Fatalf("got error unmarshaling response body: %v", err)
			}

			if hr.Launched != test.launched {
				t.Fatalf("expected launched %v, got %v", test.launched, hr.Launched)
			}

			if !test.launched {
				return
			}

			var ev runEvent
			select {
			case rawmsg := <-send:
				err = json.Unmarshal(rawmsg, &ev)
				if err != nil {
					t.Fatalf("got error unmarshaling run event: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("expected a run event to be published")
			}

			if ev.PipelineID != 1 {
				t.Fatalf("expected pipeline id %v, got %v", 1, ev.PipelineID)
			}

			if ev.SHA != testSHA {
				t.Fatalf("expected sha %v, got %v", testSHA, ev.SHA)
			}

			if ev.GitRemote.URL != testRemote || ev.GitRemote.Branch != "main" {
				t.Fatalf("expected remote %v#main, got %v#%v",
					testRemote,
					ev.GitRemote.URL,
					ev.GitRemote.Branch,
				)
			}

			// The document rides along whole so the agent doesn't
			// have to ask for it.
			if ev.Pipeline.Name != "verify" {
				t.Fatalf("expected pipeline verify, got %v", ev.Pipeline.Name)
			}

			if len(ev.Pipeline.Jobs) != 2 {
				t.Fatalf("expected %v jobs in the event, got %v", 2, len(ev.Pipeline.Jobs))
			}
		})
	}
}

func TestGithubHookCreatesPipeline(t *testing.T) {
	send := make(chan []byte, 1)
	st := &memStore{
		pipelinedb: make(map[int]store.Pipeline),
	}

	// Setting this so that the ID gets set appropriately.
	st.createPipeline = func(p *store.Pipeline) error {
		p.ID = 999
		st.pipelinedb[p.ID] = *p

		return nil
	}

	srv := NewServer(":9001", send, st, pipeline.Default(), "test", "")

	resp := postHook(srv, "push", mkpush("refs/heads/main", testSHA, testRemote, false))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %v, got %v", http.StatusAccepted, resp.StatusCode)
	}

	stored, ok := st.pipelinedb[999]
	if !ok {
		t.Fatalf("expected pipeline to be created on first hook")
	}

	if stored.Name != "verify" {
		t.Fatalf("expected pipeline named verify, got %v", stored.Name)
	}

	if stored.GitRemote.URL != testRemote || stored.GitRemote.Branch != "main" {
		t.Fatalf("expected remote %v#main, got %v#%v",
			testRemote,
			stored.GitRemote.URL,
			stored.GitRemote.Branch,
		)
	}

	var ev runEvent
	select {
	case rawmsg := <-send:
		if err := json.Unmarshal(rawmsg, &ev); err != nil {
			t.Fatalf("got error unmarshaling run event: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a run event to be published")
	}

	if ev.PipelineID != 999 {
		t.Fatalf("expected pipeline id %v, got %v", 999, ev.PipelineID)
	}
}

func TestGithubHookSignature(t *testing.T) {
	secret := "s3cr3t"
	body := mkpush("refs/heads/main", testSHA, testRemote, false)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	goodsig := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	tests := []struct {
		label  string
		sig    string
		status int
	}{
		{
			label:  "no signature",
			sig:    "",
			status: http.StatusUnauthorized,
		},
		{
			label:  "bad signature",
			sig:    "sha1=deadbeef",
			status: http.StatusUnauthorized,
		},
		{
			label:  "good signature",
			sig:    goodsig,
			status: http.StatusAccepted,
		},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			send := make(chan []byte, 1)
			st := &memStore{
				pipelinedb: make(map[int]store.Pipeline),
			}
			st.seedHookPipeline(testRemote)

			srv := NewServer(":9001", send, st, pipeline.Default(), "test", secret)

			req := httptest.NewRequest(http.MethodPost, "http://test/hooks/github", bytes.NewBuffer(body))
			req = req.WithContext(context.WithValue(context.Background(), keyReqID, "test"))
			req.Header.Set("X-GitHub-Event", "push")
			if test.sig != "" {
				req.Header.Set("X-Hub-Signature", test.sig)
			}

			rw := httptest.NewRecorder()
			srv.handleGithubHook(rw, req)

			resp := rw.Result()
			if resp.StatusCode != test.status {
				t.Fatalf("expected status %v, got %v", test.status, resp.StatusCode)
			}
		})
	}
}
