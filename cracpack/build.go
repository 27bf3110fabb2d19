package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/jveski/cracpack/internal/status"
	"github.com/jveski/cracpack/internal/workflow"
)

func tasksCmd(c *cli.Context) error {
	cc, err := setup(c, nil)
	if err != nil {
		return err
	}

	printTasks(cc.Pipelines, os.Stdout)
	return nil
}

func printTasks(pipelines []*workflow.Pipeline, w io.Writer) {
	tr := tabwriter.NewWriter(w, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "IMAGE\tGROUP\tTASK\tDESCRIPTION\n")
	for _, p := range pipelines {
		for _, t := range p.Graph().Tasks() {
			fmt.Fprintf(tr, "%s\t%s\t%s\t%s\n", p.Target(), t.Group, t.Name, t.Description)
		}
	}
	tr.Flush()
}

func runCmd(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one task is required")
	}

	cc, err := setup(c, nil)
	if err != nil {
		return err
	}
	return workflow.RunTargets(c.Context, cc.Pipelines, c.Args().Slice()...)
}

func buildCmd(c *cli.Context) error {
	if !c.IsSet("status-port") {
		cc, err := setup(c, nil)
		if err != nil {
			return err
		}
		return workflow.RunTargets(c.Context, cc.Pipelines, workflow.TaskFinalBuild)
	}

	store := &status.Store{}
	cc, err := setup(c, store)
	if err != nil {
		return err
	}

	token := c.String("token")
	if token == "" {
		token = uuid.NewString()
	}
	settingsDir := c.String("settings-dir")
	if settingsDir == "" {
		settingsDir = cc.Project.BuildDir
	}

	svr, err := status.Start(store, &status.Options{
		Port:        c.Int("status-port"),
		Token:       token,
		SettingsDir: settingsDir,
		Log:         cc.Log.WithField("component", "status"),
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		if err := svr.Close(ctx); err != nil {
			cc.Log.WithError(err).Warn("stopping status server")
		}
	}()

	return workflow.RunTargets(c.Context, cc.Pipelines, workflow.TaskFinalBuild)
}

func pushCmd(c *cli.Context) error {
	cc, err := setup(c, nil)
	if err != nil {
		return err
	}

	for _, p := range cc.Pipelines {
		if _, ok := p.Graph().Lookup(p.TaskName(workflow.TaskPush)); !ok {
			return fmt.Errorf("image %s is built from a custom Dockerfile and must be pushed manually", p.Target())
		}
	}
	return workflow.RunTargets(c.Context, cc.Pipelines, workflow.TaskPush)
}

func dockerfilesCmd(c *cli.Context) error {
	cc, err := setup(c, nil)
	if err != nil {
		return err
	}

	for _, p := range cc.Pipelines {
		// the Dockerfiles reference the staged layers
		if err := p.Run(c.Context, workflow.TaskBuildLayers); err != nil {
			return fmt.Errorf("image %s: %w", p.Target(), err)
		}

		for _, stage := range []func() (string, error){p.StageCheckpointDockerfile, p.StageFinalDockerfile} {
			path, err := stage()
			if err != nil {
				return fmt.Errorf("image %s: %w", p.Target(), err)
			}
			if rel, err := filepath.Rel(cc.Project.Dir, path); err == nil {
				path = rel
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\n", p.Target(), path)
		}
	}
	return nil
}
