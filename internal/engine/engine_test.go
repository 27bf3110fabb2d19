package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cli, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "docker", cli.Binary)

	cli, err = New("podman")
	require.NoError(t, err)
	assert.Equal(t, "podman", cli.Binary)

	_, err = New("rkt")
	assert.EqualError(t, err, `unsupported container engine "rkt" (expected docker or podman)`)
}

func TestGetBuildArgs(t *testing.T) {
	actual := getBuildArgs(&BuildRequest{
		Dockerfile: "/build/docker/main/Dockerfile.CRaCCheckpoint",
		ContextDir: "/build/docker/main",
		Tags:       []string{"demo-app-checkpoint"},
	}, "/tmp/iid")

	expected := []string{"build", "--file", "/build/docker/main/Dockerfile.CRaCCheckpoint", "--iidfile", "/tmp/iid", "--tag", "demo-app-checkpoint", "/build/docker/main"}
	assert.Equal(t, expected, actual)
}

func TestGetCreateArgs(t *testing.T) {
	actual := getCreateArgs(&CreateRequest{
		Image:      "demo-app-checkpoint",
		Name:       "demo-app-checkpoint-1234",
		Privileged: true,
		Network:    "ci",
		Binds:      map[string]string{"/build/docker/main/cr": "/home/app/cr", "/a": "/b"},
		Labels:     map[string]string{"createdBy": "cracpack"},
	})

	expected := []string{"create", "--name", "demo-app-checkpoint-1234", "--privileged", "--network=ci", "--volume=/a:/b", "--volume=/build/docker/main/cr:/home/app/cr", "--label=createdBy=cracpack", "demo-app-checkpoint"}
	assert.Equal(t, expected, actual)

	minimal := getCreateArgs(&CreateRequest{Image: "img"})
	assert.Equal(t, []string{"create", "img"}, minimal)
}

// fakeEngine writes a shell script that stands in for the engine binary.
func fakeEngine(t *testing.T, script string) *CLI {
	fp := filepath.Join(t.TempDir(), "engine")
	require.NoError(t, os.WriteFile(fp, []byte("#!/bin/sh\n"+script), 0755))
	return &CLI{Binary: fp}
}

func TestCLILogs(t *testing.T) {
	cli := fakeEngine(t, `echo "out line"; echo "err line" 1>&2`)

	rc, err := cli.Logs(context.Background(), "abc")
	require.NoError(t, err)
	defer rc.Close()

	buf, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "out line\n")
	assert.Contains(t, string(buf), "err line\n")
}

func TestCLILogsFailure(t *testing.T) {
	cli := fakeEngine(t, `echo "partial"; exit 3`)

	rc, err := cli.Logs(context.Background(), "abc")
	require.NoError(t, err)
	defer rc.Close()

	_, err = io.ReadAll(rc)
	assert.ErrorContains(t, err, `following logs of container "abc"`)
}

func TestCLIBuild(t *testing.T) {
	// the fake engine writes the image id to the file following --iidfile
	cli := fakeEngine(t, `while [ "$#" -gt 0 ]; do if [ "$1" = "--iidfile" ]; then echo "sha256:1234" > "$2"; fi; shift; done`)

	id, err := cli.Build(context.Background(), &BuildRequest{Dockerfile: "Dockerfile", ContextDir: ".", Tags: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, "sha256:1234", id)
}

func TestCLIErrorOutput(t *testing.T) {
	cli := fakeEngine(t, `echo "no such container: $3" 1>&2; exit 1`)

	err := cli.Remove(context.Background(), "abc")
	assert.EqualError(t, err, `removing container "abc": no such container: abc`)

	_, err = cli.Create(context.Background(), &CreateRequest{Image: "img"})
	assert.ErrorContains(t, err, `creating container from "img"`)
}
