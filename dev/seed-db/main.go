package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/run-ci/gate/store"
	yaml "gopkg.in/yaml.v2"
)

func usage() {
	fmt.Println("usage: go run dev/seed-db/main.go $POSTGRES_CONNECTION_STRING $DATA_YAML_PATH")
}

func main() {
	// This is 4 because passing arguments to `go run` requires the `--` and
	// that also counts as one of the arguments in `os.Args`.
	if len(os.Args) != 4 {
		usage()
		os.Exit(1)
	}

	args := os.Args[2:]

	connstr := args[0]
	if connstr == "" {
		usage()
		return
	}

	path := args[1]
	if path == "" {
		usage()
		return
	}

	fmt.Printf("seeding %v with data from %v\n", connstr, path)

	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("got error reading path: %v\n", err)
		os.Exit(1)
	}

	buf, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("got error reading file: %v\n", err)
		os.Exit(1)
	}

	var d data
	err = yaml.Unmarshal(buf, &d)
	if err != nil {
		fmt.Printf("got error loading YAML: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewPostgres(connstr)
	if err != nil {
		fmt.Printf("got error connecting to store: %v\n", err)
		os.Exit(1)
	}

	for _, u := range d.Users {
		err = st.CreateUser(&u)
		if err != nil {
			fmt.Printf("got error creating user %v: %v\n", u.Email, err)
			os.Exit(1)
		}

		fmt.Printf("created user %v\n", u.Email)
	}

	for i := range d.Pipelines {
		p := &d.Pipelines[i]

		err = st.CreatePipeline(p)
		if err != nil {
			fmt.Printf("got error creating pipeline %v: %v\n", p.Name, err)
			os.Exit(1)
		}

		fmt.Printf("created pipeline %v with id %v\n", p.Name, p.ID)
	}
}

type data struct {
	Users     []store.User
	Pipelines []store.Pipeline
}
