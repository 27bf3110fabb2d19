package status

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jveski/cracpack/internal/rpc"
	"github.com/jveski/cracpack/internal/testresources"
)

const defaultClientTimeout = time.Minute

type Client struct {
	rpc     *rpc.Client
	baseURL string
}

func NewClient(settings *testresources.Settings) *Client {
	timeout := defaultClientTimeout
	if settings.ClientTimeout != nil {
		timeout = time.Duration(*settings.ClientTimeout) * time.Second
	}
	token := ""
	if settings.Token != nil {
		token = *settings.Token
	}
	return &Client{rpc: rpc.NewClient(timeout, token), baseURL: settings.URI()}
}

func (c *Client) List(ctx context.Context) ([]*Entry, error) {
	resp, err := c.rpc.GET(ctx, c.baseURL+"/targets")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	listing := &Listing{}
	if _, err := toml.NewDecoder(resp.Body).Decode(listing); err != nil {
		return nil, fmt.Errorf("decoding targets: %w", err)
	}
	return listing.Targets, nil
}

// Wait returns the target once its version differs from after. A nil entry
// means the server's poll window passed without a change.
func (c *Client) Wait(ctx context.Context, name string, after uint64) (*Entry, error) {
	resp, err := c.rpc.GET(ctx, fmt.Sprintf("%s/targets/%s?after=%d", c.baseURL, url.PathEscape(name), after))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 304 {
		return nil, nil
	}

	entry := &Entry{}
	if _, err := toml.NewDecoder(resp.Body).Decode(entry); err != nil {
		return nil, fmt.Errorf("decoding target: %w", err)
	}
	return entry, nil
}
