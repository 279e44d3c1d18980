package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// writeErrResp writes err to the response as a JSON body with the
// given status.
func writeErrResp(rw http.ResponseWriter, err error, status int) {
	body := map[string]string{
		"error": err.Error(),
	}

	buf, err := json.Marshal(body)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(status)
	rw.Write(buf)
	return
}

func getRoot(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("handling root request")

	buf, err := json.Marshal(map[string]string{
		"service": "gate",
		"status":  "ok",
	})
	if err != nil {
		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusOK)
	rw.Write(buf)
	return
}

// sendWithBackoff keeps trying to put msg on ch, doubling the wait
// between attempts. After five misses it gives up and logs the loss.
func sendWithBackoff(logger *logrus.Entry, ch chan<- []byte, msg []byte) {
	timeout := 500 * time.Millisecond

	for attempt := 1; attempt <= 5; attempt++ {
		select {
		case ch <- msg:
			logger.Debug("message sent")
			return
		case <-time.After(timeout):
			logger.WithField("attempt", attempt).
				Warn("unable to send message, backing off")

			timeout = timeout * 2
		}
	}

	logger.Error("giving up sending message")
}
