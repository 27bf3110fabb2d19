// Package engine drives a container engine through its command line.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Backend is the subset of a container engine used to produce images.
type Backend interface {
	Build(ctx context.Context, req *BuildRequest) (string /* image id */, error)
	Push(ctx context.Context, tags []string) error
	Create(ctx context.Context, req *CreateRequest) (string /* container id */, error)
	Start(ctx context.Context, id string) error
	// Logs follows the combined stdout/stderr of a container from its first
	// line until the container exits.
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	// Remove forcibly removes a container, stopping it if needed.
	Remove(ctx context.Context, id string) error
}

type BuildRequest struct {
	Dockerfile string
	ContextDir string
	Tags       []string
}

type CreateRequest struct {
	Image      string
	Name       string
	Privileged bool
	Network    string
	Binds      map[string]string // host path -> container path
	Labels     map[string]string
}

// New returns a CLI backend for a supported engine.
func New(name string) (*CLI, error) {
	switch name {
	case "", "docker":
		return &CLI{Binary: "docker"}, nil
	case "podman":
		return &CLI{Binary: "podman"}, nil
	default:
		return nil, fmt.Errorf("unsupported container engine %q (expected docker or podman)", name)
	}
}

// CLI implements Backend by executing the docker or podman binary.
type CLI struct {
	Binary string
}

func (c *CLI) Build(ctx context.Context, req *BuildRequest) (string, error) {
	dir, err := os.MkdirTemp("", "cracpack-build-")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	iidFile := filepath.Join(dir, "iid")
	if err := c.run(ctx, getBuildArgs(req, iidFile)...); err != nil {
		return "", fmt.Errorf("building image %s: %s", strings.Join(req.Tags, ", "), err)
	}

	iid, err := os.ReadFile(iidFile)
	if err != nil {
		return "", fmt.Errorf("reading image id: %w", err)
	}
	return strings.TrimSpace(string(iid)), nil
}

func (c *CLI) Push(ctx context.Context, tags []string) error {
	for _, tag := range tags {
		if err := c.run(ctx, "push", tag); err != nil {
			return fmt.Errorf("pushing image %q: %s", tag, err)
		}
	}
	return nil
}

func (c *CLI) Create(ctx context.Context, req *CreateRequest) (string, error) {
	out, err := exec.CommandContext(ctx, c.Binary, getCreateArgs(req)...).Output()
	if err != nil {
		return "", fmt.Errorf("creating container from %q: %s", req.Image, exitMessage(err))
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *CLI) Start(ctx context.Context, id string) error {
	if err := c.run(ctx, "start", id); err != nil {
		return fmt.Errorf("starting container %q: %s", id, err)
	}
	return nil
}

func (c *CLI) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	pr, pw := io.Pipe()

	cmd := exec.CommandContext(ctx, c.Binary, "logs", "--follow", id)
	cmd.Stdout = pw
	cmd.Stderr = pw // merge stdout and stderr
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("starting container log stream: %w", err)
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			err = fmt.Errorf("following logs of container %q: %w", id, err)
		}
		pw.CloseWithError(err) // nil closes with io.EOF
	}()

	return pr, nil
}

func (c *CLI) Remove(ctx context.Context, id string) error {
	if err := c.run(ctx, "rm", "--force", id); err != nil {
		return fmt.Errorf("removing container %q: %s", id, err)
	}
	return nil
}

func (c *CLI) run(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, c.Binary, args...).CombinedOutput()
	if err != nil {
		if len(bytes.TrimSpace(out)) == 0 {
			return err
		}
		return fmt.Errorf("%s", bytes.TrimSpace(out))
	}
	return nil
}

func exitMessage(err error) string {
	if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
		return string(bytes.TrimSpace(ee.Stderr))
	}
	return err.Error()
}

func getBuildArgs(req *BuildRequest, iidFile string) []string {
	args := []string{"build", "--file", req.Dockerfile, "--iidfile", iidFile}
	for _, tag := range req.Tags {
		args = append(args, "--tag", tag)
	}
	return append(args, req.ContextDir)
}

func getCreateArgs(req *CreateRequest) []string {
	args := []string{"create"}
	if req.Name != "" {
		args = append(args, "--name", req.Name)
	}
	if req.Privileged {
		args = append(args, "--privileged")
	}
	if req.Network != "" {
		args = append(args, "--network="+req.Network)
	}

	// sorted for stable command lines
	for _, host := range sortedKeys(req.Binds) {
		args = append(args, fmt.Sprintf("--volume=%s:%s", host, req.Binds[host]))
	}
	for _, key := range sortedKeys(req.Labels) {
		args = append(args, fmt.Sprintf("--label=%s=%s", key, req.Labels[key]))
	}

	return append(args, req.Image)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
