package testresources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestWriteServerSettings(t *testing.T) {
	tests := []struct {
		Name     string
		Settings Settings
		Expected string
	}{
		{
			Name:     "port only",
			Settings: Settings{Port: 8080},
			Expected: "server.uri=http\\://localhost\\:8080\n",
		},
		{
			Name:     "token and timeout",
			Settings: Settings{Port: 9000, Token: ptr("abc"), ClientTimeout: ptr(30)},
			Expected: "server.uri=http\\://localhost\\:9000\nserver.access.token=abc\nserver.client.read.timeout=30\n",
		},
		{
			Name:     "timeout without token",
			Settings: Settings{Port: 1, ClientTimeout: ptr(5)},
			Expected: "server.uri=http\\://localhost\\:1\nserver.client.read.timeout=5\n",
		},
		{
			Name:     "token with placeholder syntax",
			Settings: Settings{Port: 8080, Token: ptr("a${b}c")},
			Expected: "server.uri=http\\://localhost\\:8080\nserver.access.token=a${b}c\n",
		},
		{
			Name:     "token referencing a key",
			Settings: Settings{Port: 8080, Token: ptr("${server.uri}")},
			Expected: "server.uri=http\\://localhost\\:8080\nserver.access.token=${server.uri}\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.Name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "nested")
			fp, err := WriteServerSettings(dir, &tc.Settings)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "test-resources.properties"), fp)

			buf, err := os.ReadFile(fp)
			require.NoError(t, err)
			assert.Equal(t, tc.Expected, string(buf))

			read, err := ReadServerSettings(fp)
			require.NoError(t, err)
			assert.Equal(t, tc.Settings, *read)
		})
	}
}

func TestReadServerSettingsInvalid(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.properties")
	require.NoError(t, os.WriteFile(missing, []byte("server.access.token=abc\n"), 0644))
	_, err := ReadServerSettings(missing)
	assert.EqualError(t, err, missing+" is missing server.uri")

	badTimeout := filepath.Join(dir, "timeout.properties")
	require.NoError(t, os.WriteFile(badTimeout, []byte("server.uri=http\\://localhost\\:1\nserver.client.read.timeout=soon\n"), 0644))
	_, err = ReadServerSettings(badTimeout)
	assert.ErrorContains(t, err, "parsing server.client.read.timeout")
}

func TestSettingsURI(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", (&Settings{Port: 8080}).URI())
}
