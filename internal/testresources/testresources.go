package testresources

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
)

const (
	FileName = "test-resources.properties"

	keyServerURI     = "server.uri"
	keyAccessToken   = "server.access.token"
	keyClientTimeout = "server.client.read.timeout"
)

// Settings tell test clients how to reach the test resources server.
type Settings struct {
	Port          int
	Token         *string
	ClientTimeout *int // seconds
}

func (s *Settings) URI() string { return fmt.Sprintf("http://localhost:%d", s.Port) }

// WriteServerSettings writes the settings file into dir and returns its path.
// The token and client timeout lines are only written when set.
func WriteServerSettings(dir string, s *Settings) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating settings directory: %w", err)
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "%s=http\\://localhost\\:%d\n", keyServerURI, s.Port)
	if s.Token != nil {
		fmt.Fprintf(b, "%s=%s\n", keyAccessToken, *s.Token)
	}
	if s.ClientTimeout != nil {
		fmt.Fprintf(b, "%s=%d\n", keyClientTimeout, *s.ClientTimeout)
	}

	fp := filepath.Join(dir, FileName)
	if err := os.WriteFile(fp, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("writing settings: %w", err)
	}
	return fp, nil
}

// ReadServerSettings parses a file written by WriteServerSettings.
func ReadServerSettings(file string) (*Settings, error) {
	// tokens are opaque and may contain ${...}
	l := &properties.Loader{Encoding: properties.ISO_8859_1, DisableExpansion: true}
	p, err := l.LoadFile(file)
	if err != nil {
		return nil, err
	}

	raw, ok := p.Get(keyServerURI)
	if !ok {
		return nil, fmt.Errorf("%s is missing %s", file, keyServerURI)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", keyServerURI, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, fmt.Errorf("%s %q has no valid port", keyServerURI, raw)
	}

	s := &Settings{Port: port}
	if token, ok := p.Get(keyAccessToken); ok {
		s.Token = &token
	}
	if raw, ok := p.Get(keyClientTimeout); ok {
		timeout, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", keyClientTimeout, err)
		}
		s.ClientTimeout = &timeout
	}
	return s, nil
}
