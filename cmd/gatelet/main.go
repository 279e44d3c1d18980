package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/run-ci/gate/queue"
	"github.com/run-ci/gate/store"

	docker "github.com/fsouza/go-dockerclient"
	nats "github.com/nats-io/go-nats"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

var pgconnstr, natsURL, gitimg string

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

	gitimg = os.Getenv("GATE_GIT_IMAGE")
	if gitimg == "" {
		gitimg = "runci/git-clone"
		logger.Warnf("setting git image to %v", gitimg)
	}
}

func main() {
	logger.Info("booting agent...")

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

	recv, err := bus.ReceiverOn("runs", "gatelets")
	if err != nil {
		logger.WithField("error", err).Fatal("unable to subscribe to runs")
	}

	logger.Info("connecting to docker")
	client, err := docker.NewClientFromEnv()
	if err != nil {
		logger.WithField("error", err).Fatal("unable to connect to docker")
	}

	ex := &executor{
		st:     st,
		runner: &dockerRunner{client: client},
		gitimg: gitimg,
	}

	logger.Info("waiting for runs")

	// Runs are handled one at a time. The jobs inside a run still
	// fan out, and more agents on the same queue group pick up the
	// rest of the traffic.
	for msg := range recv {
		var ev Event
		err := json.Unmarshal(msg, &ev)
		if err != nil {
			logger.WithError(err).Error("unable to unmarshal run event, dropping it")
			continue
		}

		ex.ExecuteRun(ev)
	}
}
