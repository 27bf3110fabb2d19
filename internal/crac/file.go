package crac

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File is the on-disk project description.
type File struct {
	Project ProjectSpec  `toml:"project" yaml:"project"`
	Crac    Overrides    `toml:"crac" yaml:"crac"`
	Images  []*ImageSpec `toml:"image" yaml:"image"`
}

type ProjectSpec struct {
	Root     string `toml:"root" yaml:"root"`
	Path     string `toml:"path" yaml:"path"`
	Name     string `toml:"name" yaml:"name"`
	BuildDir string `toml:"buildDir" yaml:"buildDir"`
	Engine   string `toml:"engine" yaml:"engine"`
}

type ImageSpec struct {
	Name   string       `toml:"name" yaml:"name"`
	Layers []*LayerSpec `toml:"layer" yaml:"layer"`
	Crac   Overrides    `toml:"crac" yaml:"crac"`
}

type LayerSpec struct {
	Kind string `toml:"kind" yaml:"kind"`
	Dir  string `toml:"dir" yaml:"dir"`
}

// Target is a named image target with its own configuration.
type Target struct {
	Name      string
	Overrides Overrides
	Layers    []*LayerSpec
}

// LoadFile reads a TOML or YAML project file. Relative paths in the file are
// resolved against the file's directory.
func LoadFile(path string) (*Project, []*Target, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading project file: %w", err)
	}

	file := &File{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(buf, file)
	default:
		_, err = toml.Decode(string(buf), file)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("decoding project file %q: %w", path, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, nil, fmt.Errorf("getting abspath for project dir: %w", err)
	}
	return file.Build(dir)
}

// Build converts the file into a project and its targets.
func (f *File) Build(dir string) (*Project, []*Target, error) {
	proj := &Project{
		RootName: f.Project.Root,
		Path:     f.Project.Path,
		Name:     f.Project.Name,
		Dir:      dir,
		BuildDir: f.Project.BuildDir,
		Engine:   f.Project.Engine,
	}
	if proj.RootName == "" {
		proj.RootName = filepath.Base(dir)
	}
	if proj.Path == "" {
		proj.Path = ":"
	}
	if proj.Name == "" {
		proj.Name = proj.RootName
		if i := strings.LastIndex(proj.Path, ":"); i >= 0 && i < len(proj.Path)-1 {
			proj.Name = proj.Path[i+1:]
		}
	}
	if proj.BuildDir == "" {
		proj.BuildDir = "build"
	}
	if !filepath.IsAbs(proj.BuildDir) {
		proj.BuildDir = filepath.Join(dir, proj.BuildDir)
	}

	images := f.Images
	if len(images) == 0 {
		images = []*ImageSpec{{Name: MainTarget}}
	}

	seen := map[string]struct{}{}
	targets := make([]*Target, 0, len(images))
	for _, img := range images {
		if img.Name == "" {
			return nil, nil, &ErrConfiguration{Field: "image.name", Reason: "must not be empty"}
		}
		if _, ok := seen[img.Name]; ok {
			return nil, nil, &ErrConfiguration{Field: "image.name", Reason: fmt.Sprintf("duplicate image %q", img.Name)}
		}
		seen[img.Name] = struct{}{}

		target := &Target{Name: img.Name, Overrides: img.Crac.Merge(f.Crac)}
		for _, layer := range img.Layers {
			if layer.Kind == "" {
				return nil, nil, &ErrConfiguration{Field: "image.layer.kind", Reason: fmt.Sprintf("empty layer kind in image %q", img.Name)}
			}
			l := *layer
			if l.Dir != "" && !filepath.IsAbs(l.Dir) {
				l.Dir = filepath.Join(dir, l.Dir)
			}
			target.Layers = append(target.Layers, &l)
		}
		target.Overrides.CheckpointScript = absFrom(dir, target.Overrides.CheckpointScript)
		target.Overrides.WarmupScript = absFrom(dir, target.Overrides.WarmupScript)
		targets = append(targets, target)
	}

	return proj, targets, nil
}

func absFrom(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Duration is a time.Duration that decodes from strings like "10m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
