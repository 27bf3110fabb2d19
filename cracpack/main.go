package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/jveski/cracpack/internal/crac"
	"github.com/jveski/cracpack/internal/engine"
	"github.com/jveski/cracpack/internal/rpc"
	"github.com/jveski/cracpack/internal/workflow"
)

func main() {
	app := &cli.App{
		Name:  "cracpack",
		Usage: "Build container images from CRaC checkpoints of a JVM application",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "project file (TOML, or YAML when the extension is .yaml/.yml)",
				Value:   "crac.toml",
				EnvVars: []string{"CRACPACK_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "engine",
				Usage:   "container engine binary: `docker` or `podman` (overrides the project file)",
				EnvVars: []string{"CRACPACK_ENGINE"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  "base-image",
				Usage: "base image of the checkpoint and final images",
			},
			&cli.StringFlag{
				Name:  "platform",
				Usage: "platform passed to FROM --platform",
			},
			&cli.StringFlag{
				Name:  "arch",
				Usage: "JDK architecture: aarch64 or amd64 (defaults to the host's)",
			},
			&cli.IntFlag{
				Name:  "java-version",
				Usage: "major version of the CRaC JDK",
			},
			&cli.StringFlag{
				Name:  "network",
				Usage: "network the checkpoint container joins",
			},
			&cli.DurationFlag{
				Name:  "checkpoint-timeout",
				Usage: "give up on the checkpoint container after this long (0 waits forever)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "tasks",
				Usage:  "List the tasks of every image",
				Flags:  []cli.Flag{targetFlag()},
				Action: tasksCmd,
			},
			{
				Name:      "run",
				Usage:     "Run tasks (and everything they require) for every image",
				ArgsUsage: "<task base name>...",
				Flags:     []cli.Flag{targetFlag()},
				Action:    runCmd,
			},
			{
				Name:  "build",
				Usage: "Checkpoint the application and build the final images",
				Flags: []cli.Flag{
					targetFlag(),
					&cli.IntFlag{
						Name:  "status-port",
						Usage: "serve workflow status on this localhost port while building (0 picks a free port)",
					},
					&cli.StringFlag{
						Name:  "token",
						Usage: "access token of the status server (generated when empty)",
					},
					&cli.StringFlag{
						Name:  "settings-dir",
						Usage: "where the status server writes test-resources.properties (defaults to the build dir)",
					},
				},
				Action: buildCmd,
			},
			{
				Name:   "push",
				Usage:  "Build and push the final images",
				Flags:  []cli.Flag{targetFlag()},
				Action: pushCmd,
			},
			{
				Name:   "dockerfiles",
				Usage:  "Write both Dockerfiles of every image without building anything",
				Flags:  []cli.Flag{targetFlag()},
				Action: dockerfilesCmd,
			},
			{
				Name:  "test-resources",
				Usage: "Write a test-resources.properties file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "output-dir",
						Usage:    "directory of the properties file",
						Required: true,
					},
					&cli.IntFlag{
						Name:     "port",
						Usage:    "port of the test resources server",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "token",
						Usage: "access token of the test resources server",
					},
					&cli.IntFlag{
						Name:  "client-timeout",
						Usage: "client read timeout in seconds",
					},
				},
				Action: testResourcesCmd,
			},
			{
				Name:  "status",
				Usage: "Get the status of a running build",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "settings",
						Usage:    "test-resources.properties written by `build --status-port`",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "follow",
						Usage: "keep printing changes until every image is done",
					},
				},
				Action: statusCmd,
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	cancel()
	if err == nil {
		return
	}

	fmt.Fprint(os.Stderr, getErrorString(err))
	os.Exit(1)
}

func targetFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "target",
		Usage: "limit the command to the given image `name` (repeatable)",
	}
}

type appContext struct {
	Project   *crac.Project
	Pipelines []*workflow.Pipeline
	Log       *logrus.Logger
}

func newLogger(c *cli.Context) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if c.Bool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// setup loads and resolves all configuration before anything is executed.
func setup(c *cli.Context, observer workflow.Observer) (*appContext, error) {
	logger := newLogger(c)

	project, targets, err := crac.LoadFile(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("engine") {
		project.Engine = c.String("engine")
	}

	backend, err := engine.New(project.Engine)
	if err != nil {
		return nil, err
	}

	targets, err = selectTargets(targets, c.StringSlice("target"))
	if err != nil {
		return nil, err
	}

	flags := flagOverrides(c)
	pipelines := make([]*workflow.Pipeline, 0, len(targets))
	for _, target := range targets {
		cfg, err := crac.Resolve(crac.HostArch(), flags.Merge(target.Overrides))
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", target.Name, err)
		}

		p, err := workflow.New(workflow.Options{
			Project:  project,
			Target:   target.Name,
			Config:   cfg,
			Layers:   target.Layers,
			Backend:  backend,
			Log:      logger,
			Observer: observer,
		})
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}

	return &appContext{Project: project, Pipelines: pipelines, Log: logger}, nil
}

func flagOverrides(c *cli.Context) crac.Overrides {
	o := crac.Overrides{
		BaseImage:   c.String("base-image"),
		Platform:    c.String("platform"),
		Arch:        c.String("arch"),
		JavaVersion: c.Int("java-version"),
		Network:     c.String("network"),
	}
	if c.IsSet("checkpoint-timeout") {
		d := crac.Duration(c.Duration("checkpoint-timeout"))
		o.CheckpointTimeout = &d
	}
	return o
}

func selectTargets(all []*crac.Target, names []string) ([]*crac.Target, error) {
	if len(names) == 0 {
		return all, nil
	}

	byName := map[string]*crac.Target{}
	for _, t := range all {
		byName[t.Name] = t
	}

	selected := make([]*crac.Target, 0, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			known := make([]string, 0, len(all))
			for _, t := range all {
				known = append(known, t.Name)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("image %q is not defined (known images: %s)", name, strings.Join(known, ", "))
		}
		selected = append(selected, t)
	}
	return selected, nil
}

func getErrorString(err error) string {
	ec := &crac.ErrConfiguration{}
	if errors.As(err, &ec) {
		return fmt.Sprintf("error: %s\nFix the value in the project file or pass the matching command line flag.\n", err)
	}

	eu := &rpc.ErrUnauthorized{}
	if errors.As(err, &eu) {
		return "The status server rejected the access token.\nMake sure --settings points at the file written by the running build.\n"
	}

	var te workflow.TargetErrors
	if errors.As(err, &te) {
		names := make([]string, 0, len(te))
		for name := range te {
			names = append(names, name)
		}
		sort.Strings(names)

		b := &strings.Builder{}
		for _, name := range names {
			fmt.Fprintf(b, "error: image %s: %s\n", name, te[name])
		}
		return b.String()
	}

	return fmt.Sprintf("error: %s\n", err)
}
