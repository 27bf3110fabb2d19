package workflow

import "time"

// State is the progress of one target's workflow run.
type State string

const (
	StateConfigured                State = "Configured"
	StateCheckpointDockerfileStaged State = "CheckpointDockerfileStaged"
	StateCheckpointImageBuilt      State = "CheckpointImageBuilt"
	StateContainerRunning          State = "ContainerRunning"
	StateCompletionDetected        State = "CompletionDetected"
	StateCompletionFailed          State = "CompletionFailed"
	StateContainerRemoved          State = "ContainerRemoved"
	StateFinalDockerfileStaged     State = "FinalDockerfileStaged"
	StateFinalImageBuilt           State = "FinalImageBuilt"
	StatePushed                    State = "Pushed"
)

// Snapshot is the observable status of a target.
type Snapshot struct {
	Target          string    `toml:"target"`
	RunID           string    `toml:"runId"`
	State           State     `toml:"state"`
	Container       string    `toml:"container,omitempty"`
	CheckpointImage string    `toml:"checkpointImage,omitempty"`
	FinalImage      string    `toml:"finalImage,omitempty"`
	Error           string    `toml:"error,omitempty"`
	Done            bool      `toml:"done"`
	Updated         time.Time `toml:"updated"`
}

// Observer receives every state change of a pipeline.
type Observer interface {
	Observe(Snapshot)
}

type ObserverFunc func(Snapshot)

func (o ObserverFunc) Observe(s Snapshot) { o(s) }
