// Package scripts writes the shell scripts baked into the checkpoint and
// final images.
package scripts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/jveski/cracpack/internal/dockerfile"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type Spec struct {
	CheckpointScript string // optional user-supplied replacement for checkpoint.sh
	WarmupScript     string // optional user-supplied replacement for warmup.sh
	ReadinessCommand string
}

// Write renders checkpoint.sh, warmup.sh and run.sh into dir.
func Write(dir string, spec *Spec) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating scripts directory: %w", err)
	}

	data := map[string]string{
		"AppHome":          dockerfile.AppHome,
		"CheckpointDir":    dockerfile.CheckpointDir,
		"ReadinessCommand": spec.ReadinessCommand,
	}

	files := []struct {
		Name, Custom string
	}{
		{Name: "checkpoint.sh", Custom: spec.CheckpointScript},
		{Name: "warmup.sh", Custom: spec.WarmupScript},
		{Name: "run.sh"},
	}
	for _, file := range files {
		content, err := render(file.Name, file.Custom, data)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, file.Name), content, 0755); err != nil {
			return fmt.Errorf("writing %s: %w", file.Name, err)
		}
	}
	return nil
}

func render(name, custom string, data map[string]string) ([]byte, error) {
	if custom != "" {
		buf, err := os.ReadFile(custom)
		if err != nil {
			return nil, fmt.Errorf("reading custom %s: %w", name, err)
		}
		return buf, nil
	}

	buf := &bytes.Buffer{}
	if err := templates.ExecuteTemplate(buf, name+".tmpl", data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
