package main

import (
	"fmt"
	"os"

	"github.com/run-ci/gate/cmd/gate-server/http"
	"github.com/run-ci/gate/pipeline"
	"github.com/run-ci/gate/queue"
	"github.com/run-ci/gate/store"

	nats "github.com/nats-io/go-nats"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

var pgconnstr, natsURL, jwtsecret, hooksecret string
var pipe pipeline.Pipeline

func init() {
	lvl, err := logrus.ParseLevel(os.Getenv("GATE_LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}

	logrus.SetLevel(lvl)

	logger = logrus.WithField("package", "main")

	pguser := os.Getenv("GATE_POSTGRES_USER")
	if pguser == "" {
		logger.Fatal("need GATE_POSTGRES_USER")
	}

	pgpass := os.Getenv("GATE_POSTGRES_PASS")
	if pgpass == "" {
		logger.Fatal("need GATE_POSTGRES_PASS")
	}

	pghref := os.Getenv("GATE_POSTGRES_HREF")
	if pghref == "" {
		logger.Fatal("need GATE_POSTGRES_HREF")
	}

	pgdb := os.Getenv("GATE_POSTGRES_DB")
	if pgdb == "" {
		logger.Fatal("need GATE_POSTGRES_DB")
	}

	pgssl := os.Getenv("GATE_POSTGRES_SSL")
	if pgssl == "" {
		logger.Info("GATE_POSTGRES_SSL not set - defaulting to verify-full")
		pgssl = "verify-full"
	}

	pgconnstr = fmt.Sprintf("postgres://%v:%v@%v/%v?sslmode=%v",
		pguser, pgpass, pghref, pgdb, pgssl)

	natsURL = os.Getenv("GATE_NATS_URL")
	if natsURL == "" {
		logger.Warnf("setting NATS url to %v", nats.DefaultURL)
		natsURL = nats.DefaultURL
	}

	jwtsecret = os.Getenv("GATE_JWT_SECRET")
	if jwtsecret == "" {
		logger.Warn("GATE_JWT_SECRET not set - defaulting to \"\" (HIGHLY INSECURE!)")
	}

	hooksecret = os.Getenv("GATE_WEBHOOK_SECRET")
	if hooksecret == "" {
		logger.Warn("GATE_WEBHOOK_SECRET not set - hook signatures won't be verified")
	}

	// An invalid pipeline document has to kill the server here, at
	// boot, before any hook can launch a run with it.
	path := os.Getenv("GATE_PIPELINE_PATH")
	if path == "" {
		logger.Info("GATE_PIPELINE_PATH not set - using the built-in pipeline")
		pipe = pipeline.Default()
	} else {
		pipe, err = pipeline.Load(path)
		if err != nil {
			logger.WithField("error", err).Fatal("unable to load pipeline")
		}
	}
}

func main() {
	logger.Info("booting server...")

	logger.Info("connecting to database")
	st, err := store.NewPostgres(pgconnstr)
	if err != nil {
		logger.WithField("error", err).Fatal("unable to connect to postgres")
	}

	logger.Info("setting up NATS connection")
	bus, err := queue.NewNATS(natsURL)
	if err != nil {
		logger.WithField("error", err).Fatal("unable to connect to NATS")
	}

	logger.Info("setting up runs send channel")
	send := bus.SenderOn("runs")

	srv := http.NewServer(":9001", send, st, pipe, jwtsecret, hooksecret)

	if err := srv.ListenAndServe(); err != nil {
		logger.WithField("error", err).Fatal("shutting down server")
	}
}
