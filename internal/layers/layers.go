package layers

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jveski/cracpack/internal/crac"
	"github.com/jveski/cracpack/internal/dockerfile"
)

// Stage copies every layer into <contextDir>/layers/<kind>, replacing stale
// copies, and returns them relative to the context in their original order.
func Stage(contextDir string, specs []*crac.LayerSpec) ([]dockerfile.Layer, error) {
	root := filepath.Join(contextDir, "layers")
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("cleaning up stale layers: %w", err)
	}

	out := make([]dockerfile.Layer, 0, len(specs))
	for _, spec := range specs {
		if spec.Dir == "" {
			return nil, fmt.Errorf("layer %q has no source directory", spec.Kind)
		}

		dest := filepath.Join(root, spec.Kind)
		if err := copyTree(spec.Dir, dest); err != nil {
			return nil, fmt.Errorf("copying layer %q: %w", spec.Kind, err)
		}
		out = append(out, dockerfile.Layer{Kind: spec.Kind, Dir: filepath.Join("layers", spec.Kind)})
	}
	return out, nil
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
