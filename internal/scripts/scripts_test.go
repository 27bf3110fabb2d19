package scripts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scripts")
	require.NoError(t, Write(dir, &Spec{ReadinessCommand: "curl -sf http://localhost:9999/health"}))

	checkpoint, err := os.ReadFile(filepath.Join(dir, "checkpoint.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(checkpoint), "until curl -sf http://localhost:9999/health; do")
	assert.Contains(t, string(checkpoint), "-XX:CRaCCheckpointTo=\"$CHECKPOINT_DIR\"")
	assert.Contains(t, string(checkpoint), "CHECKPOINT_DIR=/home/app/cr\n")
	assert.Contains(t, string(checkpoint), "echo \"Snapshotting complete\"")

	run, err := os.ReadFile(filepath.Join(dir, "run.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(run), "-XX:CRaCRestoreFrom=/home/app/cr")

	info, err := os.Stat(filepath.Join(dir, "warmup.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "scripts must be executable")
}

func TestWriteCustom(t *testing.T) {
	src := t.TempDir()
	custom := filepath.Join(src, "my-warmup.sh")
	require.NoError(t, os.WriteFile(custom, []byte("#!/bin/sh\ncurl localhost:8080/warm\n"), 0644))

	dir := filepath.Join(t.TempDir(), "scripts")
	require.NoError(t, Write(dir, &Spec{WarmupScript: custom, ReadinessCommand: "true"}))

	actual, err := os.ReadFile(filepath.Join(dir, "warmup.sh"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\ncurl localhost:8080/warm\n", string(actual))
}

func TestWriteMissingCustom(t *testing.T) {
	err := Write(t.TempDir(), &Spec{CheckpointScript: "/does/not/exist.sh"})
	assert.ErrorContains(t, err, "reading custom checkpoint.sh")
}
