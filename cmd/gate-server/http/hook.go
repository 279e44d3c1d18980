package http

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/run-ci/gate/pipeline"
	"github.com/run-ci/gate/store"
	"github.com/sirupsen/logrus"
)

// runEvent is the message published to agents requesting a pipeline
// run. Agents unmarshal it into their own event type, so the field
// names here are load-bearing.
type runEvent struct {
	GitRemote  store.GitRemote   `json:"git_remote"`
	SHA        string            `json:"sha"`
	PipelineID int               `json:"pipeline_id"`
	Pipeline   pipeline.Pipeline `json:"pipeline"`
}

type hookResponse struct {
	Launched bool `json:"launched"`
}

type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref  string `json:"ref"`
			Repo struct {
				CloneURL string `json:"clone_url"`
			} `json:"repo"`
		} `json:"base"`
	} `json:"pull_request"`
}

func (srv *Server) handleGithubHook(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("reading request body")
	buf, err := ioutil.ReadAll(req.Body)
	if err != nil {
		logger.WithField("error", err).
			Error("unable to read request body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	if len(srv.hooksecret) > 0 {
		logger.Debug("verifying hook signature")

		err := verifySignature(srv.hooksecret, req.Header.Get("X-Hub-Signature"), buf)
		if err != nil {
			logger.WithError(err).Error("unable to verify hook signature")

			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}
	}

	event := req.Header.Get("X-GitHub-Event")
	logger = logger.WithField("event", event)

	logger.Debug("normalizing hook payload")

	var ev pipeline.Event
	switch event {
	case "push":
		var payload pushPayload
		err := json.Unmarshal(buf, &payload)
		if err != nil {
			logger.WithField("error", err).
				Error("unable to unmarshal request body")

			writeErrResp(rw, err, http.StatusBadRequest)
			return
		}

		// Pushes to tags come through on the same hook. Only branch
		// heads can launch runs.
		if !strings.HasPrefix(payload.Ref, "refs/heads/") {
			logger.WithField("ref", payload.Ref).
				Debug("ref is not a branch, ignoring hook")

			sendHookResp(rw, logger, hookResponse{Launched: false})
			return
		}

		ev = pipeline.Event{
			Type:    pipeline.EventPush,
			Remote:  payload.Repository.CloneURL,
			Branch:  strings.TrimPrefix(payload.Ref, "refs/heads/"),
			SHA:     payload.After,
			Deleted: payload.Deleted,
		}
	case "pull_request":
		var payload pullRequestPayload
		err := json.Unmarshal(buf, &payload)
		if err != nil {
			logger.WithField("error", err).
				Error("unable to unmarshal request body")

			writeErrResp(rw, err, http.StatusBadRequest)
			return
		}

		// Actions like "labeled" or "closed" don't change the code
		// under review, so they don't get a run.
		switch payload.Action {
		case "opened", "synchronize", "reopened":
		default:
			logger.WithField("action", payload.Action).
				Debug("action doesn't affect the head, ignoring hook")

			sendHookResp(rw, logger, hookResponse{Launched: false})
			return
		}

		ev = pipeline.Event{
			Type:   pipeline.EventPullRequest,
			Remote: payload.PullRequest.Base.Repo.CloneURL,
			Branch: payload.PullRequest.Base.Ref,
			SHA:    payload.PullRequest.Head.SHA,
		}
	default:
		// GitHub sends "ping" when the hook is created, and there's
		// a long tail of other event types. None of them launch runs.
		logger.Debug("ignoring hook event")

		sendHookResp(rw, logger, hookResponse{Launched: false})
		return
	}

	logger = logger.WithFields(logrus.Fields{
		"remote": ev.Remote,
		"branch": ev.Branch,
		"sha":    ev.SHA,
	})

	if !srv.pipeline.Trigger.Matches(ev) {
		logger.Debug("event doesn't match trigger, ignoring hook")

		sendHookResp(rw, logger, hookResponse{Launched: false})
		return
	}

	remote := store.GitRemote{
		URL:    ev.Remote,
		Branch: srv.pipeline.Trigger.Branch,
	}

	logger.Debug("retrieving pipeline id")

	id, err := srv.st.GetPipelineID(remote, srv.pipeline.Name)
	if err == store.ErrNoPipelines {
		logger.Info("no pipeline for remote yet, creating one")

		p := store.Pipeline{
			Name:      srv.pipeline.Name,
			GitRemote: remote,
		}
		err = srv.st.CreatePipeline(&p)
		if err != nil {
			logger.WithError(err).Error("unable to create pipeline")

			writeErrResp(rw, err, http.StatusInternalServerError)
			return
		}

		id = p.ID
	} else if err != nil {
		logger.WithError(err).Error("unable to retrieve pipeline id")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	logger = logger.WithField("pipeline_id", id)

	rawmsg, err := json.Marshal(runEvent{
		GitRemote:  remote,
		SHA:        ev.SHA,
		PipelineID: id,
		Pipeline:   srv.pipeline,
	})
	if err != nil {
		logger.WithError(err).Error("unable to marshal run event")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	// Not being able to reach an agent right away is not enough to
	// cause the request to fail. For this reason, we should try as
	// hard as possible to send the request.
	go sendWithBackoff(logger, srv.runch, rawmsg)

	logger.Info("launching run")

	buf, err = json.Marshal(hookResponse{Launched: true})
	if err != nil {
		logger.WithError(err).Error("unable to marshal response body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusAccepted)
	rw.Write(buf)
	return
}

// verifySignature checks the "sha1=<hex>" signature GitHub computes
// over the hook body against the shared secret.
func verifySignature(secret []byte, sig string, body []byte) error {
	if sig == "" {
		return errors.New("missing hook signature")
	}

	if !strings.HasPrefix(sig, "sha1=") {
		return errors.New("malformed hook signature")
	}

	mac := hmac.New(sha1.New, secret)
	mac.Write(body)
	expected := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return errors.New("invalid hook signature")
	}

	return nil
}

func sendHookResp(rw http.ResponseWriter, logger *logrus.Entry, resp hookResponse) {
	buf, err := json.Marshal(resp)
	if err != nil {
		logger.WithError(err).Error("unable to marshal response body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusOK)
	rw.Write(buf)
	return
}
