package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jveski/cracpack/internal/crac"
	"github.com/jveski/cracpack/internal/dockerfile"
	"github.com/jveski/cracpack/internal/engine"
	"github.com/jveski/cracpack/internal/layers"
	"github.com/jveski/cracpack/internal/scripts"
)

// Base task names. Targets other than "main" get prefixed names, see crac.AdaptName.
const (
	TaskScripts              = "checkpointScripts"
	TaskBuildLayers          = "buildLayers"
	TaskCheckpointDockerfile = "checkpointDockerfile"
	TaskCheckpointBuildImage = "checkpointBuildImage"
	TaskCreateContainer      = "checkpointCreateContainer"
	TaskRemoveContainer      = "checkpointRemoveContainer"
	TaskRun                  = "checkpointDockerRun"
	TaskAwait                = "checkpointAwaitSuccess"
	TaskFinalDockerfile      = "dockerfileCrac"
	TaskFinalBuild           = "dockerBuildCrac"
	TaskPush                 = "dockerPushCrac"

	groupCrac   = "CRaC"
	groupUpload = "upload"
)

var sensitiveBanner = []string{
	"**********************************************************",
	" CRaC checkpoint files may contain sensitive information.",
	"**********************************************************",
}

type Options struct {
	Project  *crac.Project
	Target   string
	Config   *crac.Config
	Layers   []*crac.LayerSpec
	Backend  engine.Backend
	Log      logrus.FieldLogger
	Observer Observer
}

// Pipeline is the checkpoint workflow of one image target. A pipeline is
// meant to be run once.
type Pipeline struct {
	opts  Options
	graph *Graph
	dir   string
	log   logrus.FieldLogger

	// decided at configuration time
	customCheckpoint string
	customFinal      string

	snapshot             Snapshot
	layers               []dockerfile.Layer
	checkpointDockerfile string
	finalDockerfile      string
	checkpointImageID    string
	containerID          string
	started              bool
}

func New(opts Options) (*Pipeline, error) {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFunc(func(Snapshot) {})
	}

	p := &Pipeline{
		opts:  opts,
		graph: NewGraph(),
		dir:   opts.Project.TargetDir(opts.Target),
		log:   opts.Log.WithField("target", opts.Target),
		snapshot: Snapshot{
			Target: opts.Target,
			RunID:  uuid.NewString(),
		},
	}
	if custom := opts.Project.CustomCheckpointDockerfile(opts.Target); dockerfile.Exists(custom) {
		p.customCheckpoint = custom
		p.log.WithField("path", custom).Info("using custom checkpoint Dockerfile")
	}
	if custom := opts.Project.CustomFinalDockerfile(opts.Target); dockerfile.Exists(custom) {
		p.customFinal = custom
		p.log.WithField("path", custom).Info("using custom final Dockerfile")
	}

	if err := p.register(); err != nil {
		return nil, err
	}
	p.publish(StateConfigured)
	return p, nil
}

func (p *Pipeline) Target() string { return p.opts.Target }

func (p *Pipeline) Graph() *Graph { return p.graph }

func (p *Pipeline) TaskName(base string) string { return crac.AdaptName(base, p.opts.Target) }

// Run executes the given tasks (base names) and everything they require.
func (p *Pipeline) Run(ctx context.Context, bases ...string) error {
	goals := make([]string, len(bases))
	for i, base := range bases {
		goals[i] = p.TaskName(base)
	}

	plan, err := p.graph.Plan(goals...)
	if err == nil {
		err = Execute(ctx, plan, p.log)
	}

	p.snapshot.Done = true
	if err != nil {
		p.snapshot.Error = err.Error()
	}
	p.publish(p.snapshot.State)
	return err
}

func (p *Pipeline) register() error {
	var (
		scriptsTask = p.TaskName(TaskScripts)
		layersTask  = p.TaskName(TaskBuildLayers)
		runTask     = p.TaskName(TaskRun)
		awaitTask   = p.TaskName(TaskAwait)
		removeTask  = p.TaskName(TaskRemoveContainer)
		createTask  = p.TaskName(TaskCreateContainer)
		buildTask   = p.TaskName(TaskCheckpointBuildImage)
		finalTask   = p.TaskName(TaskFinalBuild)
		target      = p.opts.Target
	)

	tasks := []*Task{{
		Name:        scriptsTask,
		Group:       groupCrac,
		Description: fmt.Sprintf("Copies the scripts required for use in the CRaC checkpoint container (%s image)", target),
		Outputs:     []string{p.path("scripts")},
		Action:      p.writeScripts,
	}, {
		Name:        layersTask,
		Group:       groupCrac,
		Description: fmt.Sprintf("Stages the application layers of the %s image", target),
		Outputs:     []string{p.path("layers")},
		Action:      p.stageLayers,
	}}

	checkpointImageDeps := []string{layersTask, scriptsTask}
	if p.customCheckpoint == "" {
		name := p.TaskName(TaskCheckpointDockerfile)
		checkpointImageDeps = append(checkpointImageDeps, name)
		tasks = append(tasks, &Task{
			Name:        name,
			Group:       groupCrac,
			Description: "Builds a Checkpoint Docker File for image " + target,
			DependsOn:   []string{layersTask},
			Outputs:     []string{p.path("Dockerfile.CRaCCheckpoint")},
			Action: func(ctx context.Context) error {
				_, err := p.StageCheckpointDockerfile()
				return err
			},
		})
	}

	tasks = append(tasks, &Task{
		Name:        buildTask,
		Group:       groupCrac,
		Description: "Builds a CRaC checkpoint Docker Image",
		DependsOn:   checkpointImageDeps,
		Action:      p.buildCheckpointImage,
	}, &Task{
		Name:        createTask,
		Group:       groupCrac,
		Description: fmt.Sprintf("Creates the %s CRaC checkpoint container", p.checkpointTag()),
		DependsOn:   []string{buildTask},
		Action:      p.createContainer,
	}, &Task{
		Name:        removeTask,
		Group:       groupCrac,
		Description: "Removes the CRaC checkpoint container",
		Action:      p.removeContainer,
	}, &Task{
		Name:        runTask,
		Group:       groupCrac,
		Description: fmt.Sprintf("Runs the %s CRaC checkpoint container", p.checkpointTag()),
		DependsOn:   []string{createTask},
		FinalizedBy: []string{awaitTask},
		Outputs:     []string{p.path("cr")},
		Action:      p.startContainer,
	}, &Task{
		Name:        awaitTask,
		Group:       groupCrac,
		Description: "Waits for the CRaC checkpoint container to write its snapshot",
		DependsOn:   []string{runTask},
		FinalizedBy: []string{removeTask},
		Action:      p.awaitCompletion,
	})

	// the final image reads the snapshot directory written by the run task
	finalImageDeps := []string{layersTask, scriptsTask, runTask}
	if p.customFinal == "" {
		name := p.TaskName(TaskFinalDockerfile)
		finalImageDeps = append(finalImageDeps, name)
		tasks = append(tasks, &Task{
			Name:         name,
			Group:        groupCrac,
			Description:  "Builds a Docker File for CRaC checkpointed image " + target,
			DependsOn:    []string{layersTask},
			MustRunAfter: []string{runTask},
			Outputs:      []string{p.path("Dockerfile")},
			Action: func(ctx context.Context) error {
				_, err := p.StageFinalDockerfile()
				return err
			},
		})
	}

	tasks = append(tasks, &Task{
		Name:        finalTask,
		Group:       groupCrac,
		Description: fmt.Sprintf("Builds a CRaC checkpoint Docker Image (image %s)", target),
		DependsOn:   finalImageDeps,
		Action:      p.buildFinalImage,
	})

	if p.customFinal == "" {
		tasks = append(tasks, &Task{
			Name:        p.TaskName(TaskPush),
			Group:       groupUpload,
			Description: fmt.Sprintf("Pushes the %s Docker Image", target),
			DependsOn:   []string{finalTask},
			Action:      p.pushFinalImage,
		})
	}

	for _, t := range tasks {
		if err := p.graph.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) checkpointTag() string { return p.opts.Project.CheckpointImage(p.opts.Target) }

func (p *Pipeline) imageTag() string { return p.opts.Project.Image(p.opts.Target) }

func (p *Pipeline) path(elem ...string) string {
	return filepath.Join(append([]string{p.dir}, elem...)...)
}

func (p *Pipeline) publish(state State) {
	p.snapshot.State = state
	p.snapshot.Updated = time.Now().UTC()
	p.opts.Observer.Observe(p.snapshot)
}

func (p *Pipeline) writeScripts(ctx context.Context) error {
	return scripts.Write(p.path("scripts"), &scripts.Spec{
		CheckpointScript: p.opts.Config.CheckpointScript,
		WarmupScript:     p.opts.Config.WarmupScript,
		ReadinessCommand: p.opts.Config.ReadinessCommand,
	})
}

func (p *Pipeline) stageLayers(ctx context.Context) error {
	staged, err := layers.Stage(p.dir, p.opts.Layers)
	if err != nil {
		return err
	}
	p.layers = staged
	return nil
}

// StageCheckpointDockerfile returns the custom checkpoint Dockerfile when one
// exists, otherwise writes a generated one into the target's build context.
func (p *Pipeline) StageCheckpointDockerfile() (string, error) {
	cfg := p.opts.Config
	path, err := dockerfile.Stage(p.customCheckpoint, p.path("Dockerfile.CRaCCheckpoint"), func() string {
		return dockerfile.Checkpoint(&dockerfile.CheckpointSpec{
			BaseImage:   cfg.BaseImage,
			Platform:    cfg.Platform,
			Arch:        cfg.Arch,
			OS:          cfg.OS,
			JavaVersion: cfg.JavaVersion,
			Layers:      p.layers,
		})
	})
	if err != nil {
		return "", err
	}

	p.checkpointDockerfile = path
	p.publish(StateCheckpointDockerfileStaged)
	return path, nil
}

// StageFinalDockerfile is the final image's equivalent of StageCheckpointDockerfile.
func (p *Pipeline) StageFinalDockerfile() (string, error) {
	cfg := p.opts.Config
	path, err := dockerfile.Stage(p.customFinal, p.path("Dockerfile"), func() string {
		return dockerfile.Final(&dockerfile.FinalSpec{
			BaseImage:       cfg.BaseImage,
			Platform:        cfg.Platform,
			CheckpointImage: p.checkpointTag(),
			Args:            cfg.FinalArgs,
			Layers:          p.layers,
		})
	})
	if err != nil {
		return "", err
	}

	p.finalDockerfile = path
	p.publish(StateFinalDockerfileStaged)
	return path, nil
}

func (p *Pipeline) buildCheckpointImage(ctx context.Context) error {
	if p.checkpointDockerfile == "" {
		if _, err := p.StageCheckpointDockerfile(); err != nil {
			return err
		}
	}

	tag := p.checkpointTag()
	id, err := p.opts.Backend.Build(ctx, &engine.BuildRequest{
		Dockerfile: p.checkpointDockerfile,
		ContextDir: p.dir,
		Tags:       []string{tag},
	})
	if err != nil {
		return err
	}

	p.log.WithFields(logrus.Fields{"image": tag, "id": id}).Info("built checkpoint image")
	p.checkpointImageID = id
	p.snapshot.CheckpointImage = tag
	p.publish(StateCheckpointImageBuilt)
	return nil
}

func (p *Pipeline) createContainer(ctx context.Context) error {
	crDir, err := filepath.Abs(p.path("cr"))
	if err != nil {
		return fmt.Errorf("getting abspath for checkpoint directory: %w", err)
	}
	// a snapshot left over from an earlier run must not reach the final image
	if err := os.RemoveAll(crDir); err != nil {
		return fmt.Errorf("cleaning up checkpoint directory: %w", err)
	}
	if err := os.MkdirAll(crDir, 0755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	// by ID, the tag may be rebuilt meanwhile
	id, err := p.opts.Backend.Create(ctx, &engine.CreateRequest{
		Image:      p.checkpointImageID,
		Name:       p.checkpointTag() + "-" + strings.SplitN(p.snapshot.RunID, "-", 2)[0],
		Privileged: true,
		Network:    p.opts.Config.Network,
		Binds:      map[string]string{crDir: dockerfile.CheckpointDir},
		Labels: map[string]string{
			"createdBy":     "cracpack",
			"cracpackRun":   p.snapshot.RunID,
			"cracpackImage": p.opts.Target,
		},
	})
	if err != nil {
		return err
	}

	p.log.WithField("container", id).Info("created checkpoint container")
	p.containerID = id
	p.snapshot.Container = id
	return nil
}

func (p *Pipeline) startContainer(ctx context.Context) error {
	if err := p.opts.Backend.Start(ctx, p.containerID); err != nil {
		return err
	}
	p.started = true
	p.publish(StateContainerRunning)
	return nil
}

func (p *Pipeline) awaitCompletion(ctx context.Context) error {
	if !p.started {
		return ErrSkipped
	}

	if timeout := p.opts.Config.CheckpointTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logs, err := p.opts.Backend.Logs(ctx, p.containerID)
	if err != nil {
		p.publish(StateCompletionFailed)
		return &ErrContainerIO{Container: p.containerID, Err: err}
	}
	defer logs.Close()

	// unblock the reader once the deadline passes
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logs.Close()
		case <-done:
		}
	}()

	err = AwaitCompletion(ctx, p.containerID, logs, p.log.WithField("task", p.TaskName(TaskAwait)))
	if err != nil {
		p.publish(StateCompletionFailed)
		return err
	}
	p.publish(StateCompletionDetected)
	return nil
}

func (p *Pipeline) removeContainer(ctx context.Context) error {
	if p.containerID == "" {
		return ErrSkipped
	}
	if err := p.opts.Backend.Remove(ctx, p.containerID); err != nil {
		return err
	}

	p.log.WithField("container", p.containerID).Info("removed checkpoint container")
	p.publish(StateContainerRemoved)
	return nil
}

func (p *Pipeline) buildFinalImage(ctx context.Context) error {
	if p.finalDockerfile == "" {
		if _, err := p.StageFinalDockerfile(); err != nil {
			return err
		}
	}

	tag := p.imageTag()
	id, err := p.opts.Backend.Build(ctx, &engine.BuildRequest{
		Dockerfile: p.finalDockerfile,
		ContextDir: p.dir,
		Tags:       []string{tag},
	})
	if err != nil {
		return err
	}

	p.log.WithFields(logrus.Fields{"image": tag, "id": id}).Info("built final image")
	for _, line := range sensitiveBanner {
		p.log.Warn(line)
	}
	p.snapshot.FinalImage = tag
	p.publish(StateFinalImageBuilt)
	return nil
}

func (p *Pipeline) pushFinalImage(ctx context.Context) error {
	if err := p.opts.Backend.Push(ctx, []string{p.imageTag()}); err != nil {
		return err
	}
	p.publish(StatePushed)
	return nil
}
