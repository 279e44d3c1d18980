package http

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

func (srv *Server) handleAuth(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	buf, err := ioutil.ReadAll(req.Body)
	if err != nil {
		logger.WithError(err).Error("unable to read request body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	var auth map[string]string
	err = json.Unmarshal(buf, &auth)
	if err != nil {
		logger.WithError(err).Error("unable to unmarshal request body")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if _, ok := auth["email"]; !ok {
		err := errors.New("missing fields in auth request body")
		logger.WithError(err).Error("unable to authenticate")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if _, ok := auth["password"]; !ok {
		err := errors.New("missing fields in auth request body")
		logger.WithError(err).Error("unable to authenticate")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	err = srv.st.Authenticate(auth["email"], auth["password"])
	if err != nil {
		logger.WithError(err).Error("unable to authenticate")

		writeErrResp(rw, err, http.StatusUnauthorized)
		return
	}

	now := time.Now()
	claims := &jwt.StandardClaims{
		Subject:   auth["email"],
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(15 * time.Minute).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(srv.jwtsecret)
	if err != nil {
		logger.WithError(err).Error("unable to sign token")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	buf, err = json.Marshal(map[string]string{
		"token": ss,
	})
	if err != nil {
		logger.WithError(err).Error("unable to marshal response body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusOK)
	rw.Write(buf)
	return
}
