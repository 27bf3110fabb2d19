package rpc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

func NewServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: time.Second * 15,
		IdleTimeout:       time.Minute,
	}
}

// Client sends the access token with every request and turns non-200
// responses into errors.
type Client struct {
	*http.Client
	Token string
}

func NewClient(timeout time.Duration, token string) *Client {
	return &Client{
		Client: &http.Client{Timeout: timeout},
		Token:  token,
	}
}

func (c *Client) GET(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case 200, 304:
		return resp, nil
	case 401, 403:
		resp.Body.Close()
		return nil, &ErrUnauthorized{Status: resp.StatusCode}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("server error status: %d, body: %s", resp.StatusCode, body)
	}
}

// ErrUnauthorized is returned when the server rejected (or wasn't sent) the access token.
type ErrUnauthorized struct {
	Status int
}

func (e *ErrUnauthorized) Error() string {
	return fmt.Sprintf("access token rejected by server (status %d)", e.Status)
}
