package main

import (
	"bytes"
	"fmt"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/google/uuid"
)

// cimnt is where the job's workspace volume gets mounted in every
// step container.
const cimnt = "/ci/repo"

// dockerRunner runs step containers against the local docker daemon.
type dockerRunner struct {
	client *docker.Client
}

// CreateEnv makes the volume that carries the job's workspace between
// its step containers and returns its name.
func (dr *dockerRunner) CreateEnv() (string, error) {
	name := fmt.Sprintf("gatelet.%v", uuid.New())

	logger := logger.WithField("env", name)
	logger.Debug("creating volume")

	vol, err := dr.client.CreateVolume(docker.CreateVolumeOptions{
		Name: name,
	})
	if err != nil {
		logger.WithField("error", err).
			Error("unable to create volume")

		return "", err
	}

	logger.Debugf("created volume: %v", vol.Name)

	return vol.Name, nil
}

// RemoveEnv removes the job's workspace volume.
func (dr *dockerRunner) RemoveEnv(env string) error {
	logger := logger.WithField("env", env)
	logger.Debug("removing volume")

	return dr.client.RemoveVolume(env)
}

// Run executes argv in a container of image with the workspace volume
// mounted at cimnt. It blocks until the container exits, then returns
// the exit status along with everything the container wrote to its
// output streams, interleaved the way the streams produced it.
func (dr *dockerRunner) Run(env, image string, argv, cenv []string) (int, string, error) {
	logger := logger.WithField("env", env).WithField("image", image)

	err := dr.ensureImage(image)
	if err != nil {
		logger.WithField("error", err).
			Error("unable to verify image presence")

		return 0, "", err
	}

	logger.Debug("creating container")

	container, err := dr.client.CreateContainer(docker.CreateContainerOptions{
		Name: fmt.Sprintf("gatelet.%v", uuid.New()),
		Config: &docker.Config{
			Image:      image,
			Cmd:        argv,
			Env:        cenv,
			WorkingDir: cimnt,
		},
		HostConfig: &docker.HostConfig{
			Mounts: []docker.HostMount{
				{
					Target: cimnt,
					Source: env,
					Type:   "volume",
				},
			},
		},
	})
	if err != nil {
		logger.WithField("error", err).
			Error("unable to create container")

		return 0, "", err
	}

	logger = logger.WithField("container_id", container.ID)

	defer func() {
		logger.Debug("removing container")

		err := dr.client.RemoveContainer(docker.RemoveContainerOptions{
			ID:    container.ID,
			Force: true,
		})
		if err != nil {
			logger.WithField("error", err).
				Error("unable to remove container")
		}
	}()

	logger.Debug("starting container")

	err = dr.client.StartContainer(container.ID, nil)
	if err != nil {
		logger.WithField("error", err).
			Error("unable to start container")

		return 0, "", err
	}

	status, err := dr.client.WaitContainer(container.ID)
	if err != nil {
		logger.WithField("error", err).
			Error("unable to wait for container")

		return status, "", err
	}

	logger.Debugf("container exited with status %v", status)

	var buf bytes.Buffer
	err = dr.client.Logs(docker.LogsOptions{
		Container:    container.ID,
		OutputStream: &buf,
		ErrorStream:  &buf,
		Stdout:       true,
		Stderr:       true,
	})
	if err != nil {
		logger.WithField("error", err).
			Error("unable to capture container logs")

		return status, buf.String(), err
	}

	return status, buf.String(), nil
}

func (dr *dockerRunner) ensureImage(image string) error {
	_, err := dr.client.InspectImage(image)
	if err == nil {
		return nil
	}
	if err != docker.ErrNoSuchImage {
		return err
	}

	repo, tag := docker.ParseRepositoryTag(image)
	if tag == "" {
		tag = "latest"
	}

	logger.WithField("image", image).Debug("pulling image")

	return dr.client.PullImage(docker.PullImageOptions{
		Repository: repo,
		Tag:        tag,
	}, docker.AuthConfiguration{})
}
