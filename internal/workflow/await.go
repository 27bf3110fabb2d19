package workflow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// CompletionSignal is logged by the checkpoint container once the snapshot
// has been written.
const CompletionSignal = "Snapshotting complete"

// ErrContainerIO is returned when the checkpoint container's logs can't be read.
type ErrContainerIO struct {
	Container string
	Err       error
}

func (e *ErrContainerIO) Error() string {
	return fmt.Sprintf("checkpoint container failed: reading logs of container %q: %s", e.Container, e.Err)
}

func (e *ErrContainerIO) Unwrap() error { return e.Err }

// ErrCheckpointFailed is returned when the checkpoint container exited
// without logging the completion signal.
type ErrCheckpointFailed struct {
	Container string
}

func (e *ErrCheckpointFailed) Error() string {
	return fmt.Sprintf("checkpoint container failed: container %q exited without logging %q", e.Container, CompletionSignal)
}

// AwaitCompletion reads the container's log stream until it ends. Every line
// is forwarded to log in order before the completion signal is checked.
func AwaitCompletion(ctx context.Context, container string, logs io.Reader, log logrus.FieldLogger) error {
	lines := []string{}
	scan := bufio.NewScanner(logs)
	scan.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scan.Scan() {
		lines = append(lines, scan.Text())
	}
	if err := scan.Err(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return &ErrContainerIO{Container: container, Err: err}
	}

	found := false
	for _, line := range lines {
		log.Info(line)
		if strings.Contains(line, CompletionSignal) {
			found = true
		}
	}
	if !found {
		return &ErrCheckpointFailed{Container: container}
	}
	return nil
}
