package crac

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultBaseImage        = "ubuntu:22.04"
	DefaultPlatform         = "linux/amd64"
	ArmArch                 = "aarch64"
	X86Arch                 = "amd64"
	DefaultOS               = "linux-glibc"
	DefaultJavaVersion      = 17
	DefaultReadinessCommand = "curl --output /dev/null --silent --head http://localhost:8080"

	// MainTarget is the image target whose derived names are left unprefixed.
	MainTarget = "main"
)

// Config is the fully resolved checkpoint configuration of one image target.
type Config struct {
	BaseImage         string
	Platform          string
	Arch              string
	OS                string
	JavaVersion       int
	ReadinessCommand  string
	Network           string
	CheckpointScript  string
	WarmupScript      string
	FinalArgs         []string
	CheckpointTimeout time.Duration
}

// Overrides holds user supplied configuration. Zero values (nil for the
// timeout) are unset.
type Overrides struct {
	BaseImage         string   `toml:"baseImage" yaml:"baseImage"`
	Platform          string   `toml:"platform" yaml:"platform"`
	Arch              string   `toml:"arch" yaml:"arch"`
	OS                string   `toml:"os" yaml:"os"`
	JavaVersion       int      `toml:"javaVersion" yaml:"javaVersion"`
	ReadinessCommand  string   `toml:"readinessCommand" yaml:"readinessCommand"`
	Network           string   `toml:"network" yaml:"network"`
	CheckpointScript  string   `toml:"checkpointScript" yaml:"checkpointScript"`
	WarmupScript      string   `toml:"warmupScript" yaml:"warmupScript"`
	FinalArgs         []string `toml:"finalArgs" yaml:"finalArgs"`
	CheckpointTimeout *Duration `toml:"checkpointTimeout" yaml:"checkpointTimeout"`
}

// Merge returns o with every unset field taken from fallback.
func (o Overrides) Merge(fallback Overrides) Overrides {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}

	out := Overrides{
		BaseImage:         pick(o.BaseImage, fallback.BaseImage),
		Platform:          pick(o.Platform, fallback.Platform),
		Arch:              pick(o.Arch, fallback.Arch),
		OS:                pick(o.OS, fallback.OS),
		JavaVersion:       o.JavaVersion,
		ReadinessCommand:  pick(o.ReadinessCommand, fallback.ReadinessCommand),
		Network:           pick(o.Network, fallback.Network),
		CheckpointScript:  pick(o.CheckpointScript, fallback.CheckpointScript),
		WarmupScript:      pick(o.WarmupScript, fallback.WarmupScript),
		FinalArgs:         o.FinalArgs,
		CheckpointTimeout: o.CheckpointTimeout,
	}
	if out.JavaVersion == 0 {
		out.JavaVersion = fallback.JavaVersion
	}
	if out.FinalArgs == nil {
		out.FinalArgs = fallback.FinalArgs
	}
	if out.CheckpointTimeout == nil {
		out.CheckpointTimeout = fallback.CheckpointTimeout
	}
	return out
}

// Resolve merges the overrides onto the built-in defaults.
// hostArch uses the JVM naming, see HostArch.
func Resolve(hostArch string, overrides Overrides) (*Config, error) {
	defaultArch := X86Arch
	if hostArch == ArmArch {
		defaultArch = ArmArch
	}

	merged := overrides.Merge(Overrides{
		BaseImage:        DefaultBaseImage,
		Platform:         DefaultPlatform,
		Arch:             defaultArch,
		OS:               DefaultOS,
		JavaVersion:      DefaultJavaVersion,
		ReadinessCommand: DefaultReadinessCommand,
	})

	if merged.Arch != ArmArch && merged.Arch != X86Arch {
		return nil, &ErrConfiguration{Field: "arch", Reason: fmt.Sprintf("%q is not one of %q, %q", merged.Arch, ArmArch, X86Arch)}
	}
	if merged.JavaVersion < 0 {
		return nil, &ErrConfiguration{Field: "javaVersion", Reason: fmt.Sprintf("%d is not a positive integer", merged.JavaVersion)}
	}
	var timeout time.Duration
	if merged.CheckpointTimeout != nil {
		timeout = time.Duration(*merged.CheckpointTimeout)
	}
	if timeout < 0 {
		return nil, &ErrConfiguration{Field: "checkpointTimeout", Reason: "must not be negative"}
	}

	return &Config{
		BaseImage:         merged.BaseImage,
		Platform:          merged.Platform,
		Arch:              merged.Arch,
		OS:                merged.OS,
		JavaVersion:       merged.JavaVersion,
		ReadinessCommand:  merged.ReadinessCommand,
		Network:           merged.Network,
		CheckpointScript:  merged.CheckpointScript,
		WarmupScript:      merged.WarmupScript,
		FinalArgs:         append([]string(nil), merged.FinalArgs...),
		CheckpointTimeout: timeout,
	}, nil
}

// HostArch returns the current CPU architecture as a JVM would report it.
func HostArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return ArmArch
	default:
		return runtime.GOARCH
	}
}

// ErrConfiguration is returned when a configuration value is invalid.
type ErrConfiguration struct {
	Field  string
	Reason string
}

func (e *ErrConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %s", e.Field, e.Reason)
}

// AdaptName derives a per-target name from a base name.
func AdaptName(base, target string) string {
	if target == MainTarget {
		return base
	}
	return target + capitalize(base)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// CheckpointImageName returns the tag of the intermediate checkpoint image.
func CheckpointImageName(rootName, path string) string {
	return strings.ReplaceAll(rootName+path+"-checkpoint", ":", "-")
}

// Project identifies the application being packaged.
type Project struct {
	RootName string
	Path     string
	Name     string
	Dir      string
	BuildDir string
	Engine   string
}

func (p *Project) TargetDir(target string) string {
	return filepath.Join(p.BuildDir, "docker", target)
}

// CheckpointImage returns the checkpoint image tag of a target. Only the main
// target keeps the bare project name.
func (p *Project) CheckpointImage(target string) string {
	name := CheckpointImageName(p.RootName, p.Path)
	if target == MainTarget {
		return name
	}
	return strings.TrimSuffix(name, "-checkpoint") + "-" + strings.ToLower(target) + "-checkpoint"
}

// Image returns the final image tag of a target.
func (p *Project) Image(target string) string {
	if target == MainTarget {
		return p.Name
	}
	return p.Name + "-" + strings.ToLower(target)
}

func (p *Project) CustomCheckpointDockerfile(target string) string {
	return filepath.Join(p.Dir, AdaptName("DockerfileCracCheckpoint", target))
}

func (p *Project) CustomFinalDockerfile(target string) string {
	return filepath.Join(p.Dir, AdaptName("Dockerfile", target))
}
