package dockerfile

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	AppHome        = "/home/app"
	CheckpointDir  = AppHome + "/cr"
	JDKDir         = "/azul-crac-jdk"
	azulPackageAPI = "https://api.azul.com/metadata/v1/zulu/packages/"
)

// Layer is one filesystem layer of the application. Dir is relative to the
// build context.
type Layer struct {
	Kind string
	Dir  string
}

func (l Layer) destination() string {
	if l.Kind == "app" {
		return AppHome + "/"
	}
	return path.Join(AppHome, l.Kind)
}

type CheckpointSpec struct {
	BaseImage   string
	Platform    string
	Arch        string
	OS          string
	JavaVersion int
	Layers      []Layer
}

type FinalSpec struct {
	BaseImage       string
	Platform        string
	CheckpointImage string // the JDK is copied out of this image
	Args            []string
	Layers          []Layer
}

// Checkpoint renders the Dockerfile of the image that performs the checkpoint.
func Checkpoint(spec *CheckpointSpec) string {
	b := &builder{}
	b.from(spec.Platform, spec.BaseImage)
	b.line("WORKDIR %s", AppHome)
	b.line("RUN apt-get update && apt-get install -y curl jq libnl-3-200 && rm -rf /var/lib/apt/lists/*")
	b.line("RUN url=$(curl -fsSL -H 'accept: application/json' %q | jq -r '.[0].download_url') \\", jdkQuery(spec))
	b.line("    && curl -fsSL \"$url\" -o /tmp/jdk.tar.gz \\")
	b.line("    && mkdir -p %s \\", JDKDir)
	b.line("    && tar -xzf /tmp/jdk.tar.gz -C %s --strip-components=1 \\", JDKDir)
	b.line("    && rm /tmp/jdk.tar.gz")
	b.jdkEnv()
	b.layers(spec.Layers)
	b.line("COPY scripts/checkpoint.sh scripts/warmup.sh %s/", AppHome)
	b.line("RUN chmod +x %s/checkpoint.sh %s/warmup.sh", AppHome, AppHome)
	b.entrypoint([]string{AppHome + "/checkpoint.sh"})
	return b.String()
}

// Final renders the Dockerfile of the image that restores from the checkpoint.
func Final(spec *FinalSpec) string {
	b := &builder{}
	b.from(spec.Platform, spec.BaseImage)
	b.line("WORKDIR %s", AppHome)
	b.line("RUN apt-get update && apt-get install -y libnl-3-200 && rm -rf /var/lib/apt/lists/*")
	b.line("COPY --from=%s %s %s", spec.CheckpointImage, JDKDir, JDKDir)
	b.jdkEnv()
	b.line("COPY cr %s", CheckpointDir)
	b.layers(spec.Layers)
	b.line("COPY scripts/run.sh %s/run.sh", AppHome)
	b.line("RUN chmod +x %s/run.sh", AppHome)
	b.entrypoint(append([]string{AppHome + "/run.sh"}, spec.Args...))
	return b.String()
}

func jdkQuery(spec *CheckpointSpec) string {
	q := url.Values{}
	q.Set("java_version", strconv.Itoa(spec.JavaVersion))
	q.Set("arch", spec.Arch)
	q.Set("os", spec.OS)
	q.Set("archive_type", "tar.gz")
	q.Set("java_package_type", "jdk")
	q.Set("crac_supported", "true")
	q.Set("latest", "true")
	q.Set("release_status", "ga")
	return azulPackageAPI + "?" + q.Encode()
}

type builder struct {
	strings.Builder
}

func (b *builder) line(format string, args ...any) {
	fmt.Fprintf(b, format, args...)
	b.WriteByte('\n')
}

func (b *builder) from(platform, image string) {
	if platform == "" {
		b.line("FROM %s", image)
		return
	}
	b.line("FROM --platform=%s %s", platform, image)
}

func (b *builder) jdkEnv() {
	b.line("ENV JAVA_HOME=%s", JDKDir)
	b.line("ENV PATH=$PATH:$JAVA_HOME/bin")
}

func (b *builder) layers(layers []Layer) {
	for _, l := range layers {
		b.line("COPY %s %s", filepath.ToSlash(l.Dir), l.destination())
	}
}

func (b *builder) entrypoint(args []string) {
	js, _ := json.Marshal(args) // a []string always marshals
	b.line("ENTRYPOINT %s", js)
}

// Stage produces the Dockerfile at dest. custom is the path of a user
// supplied Dockerfile chosen at configuration time (see Exists) or empty.
// A custom file is returned as-is and synth is never called.
func Stage(custom, dest string, synth func() string) (string, error) {
	if custom != "" {
		return custom, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("creating Dockerfile directory: %w", err)
	}
	if err := os.WriteFile(dest, []byte(synth()), 0644); err != nil {
		return "", fmt.Errorf("writing Dockerfile: %w", err)
	}
	return dest, nil
}

// Exists reports whether a custom Dockerfile is present.
func Exists(custom string) bool {
	info, err := os.Stat(custom)
	return err == nil && !info.IsDir()
}
