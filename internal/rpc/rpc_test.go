package rpc

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		Name        string
		ServerToken string
		ClientToken string
		Handler     httprouter.Handle
		Fn          func(*testing.T, *Client, string)
	}{
		{
			Name:        "happy path",
			ServerToken: "secret",
			ClientToken: "secret",
			Handler: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				w.Write([]byte("ok"))
			},
			Fn: func(t *testing.T, cli *Client, addr string) {
				resp, err := cli.GET(ctx, "http://"+addr)
				require.NoError(t, err)
				defer resp.Body.Close()
				assert.Equal(t, 200, resp.StatusCode)
			},
		},
		{
			Name: "no token configured",
			Handler: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				assert.Empty(t, r.Header.Get("Authorization"))
			},
			Fn: func(t *testing.T, cli *Client, addr string) {
				resp, err := cli.GET(ctx, "http://"+addr)
				require.NoError(t, err)
				resp.Body.Close()
			},
		},
		{
			Name:        "missing token",
			ServerToken: "secret",
			Handler: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				t.Error("handler should not be called")
			},
			Fn: func(t *testing.T, cli *Client, addr string) {
				e := &ErrUnauthorized{}
				_, err := cli.GET(ctx, "http://"+addr)
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 401, e.Status)
			},
		},
		{
			Name:        "wrong token",
			ServerToken: "secret",
			ClientToken: "guess",
			Handler: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				t.Error("handler should not be called")
			},
			Fn: func(t *testing.T, cli *Client, addr string) {
				e := &ErrUnauthorized{}
				_, err := cli.GET(ctx, "http://"+addr)
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 403, e.Status)
			},
		},
		{
			Name: "server error",
			Handler: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				w.WriteHeader(500)
				w.Write([]byte("broken"))
			},
			Fn: func(t *testing.T, cli *Client, addr string) {
				_, err := cli.GET(ctx, "http://"+addr)
				assert.EqualError(t, err, "server error status: 500, body: broken")
			},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			defer ln.Close()

			logger, _ := testLogger()
			router := httprouter.New()
			router.GET("/", WithAuth(test.ServerToken, test.Handler))
			svr := NewServer(WithLogging(logger, router))
			go svr.Serve(ln)
			defer svr.Close()

			cli := NewClient(time.Second, test.ClientToken)
			test.Fn(t, cli, ln.Addr().String())
		})
	}
}

func TestWithLogging(t *testing.T) {
	logger, hook := testLogger()
	h := WithLogging(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svr := NewServer(h)
	go svr.Serve(ln)
	defer svr.Close()

	resp, err := http.Get("http://" + ln.Addr().String() + "/targets")
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool { return hook.LastEntry() != nil }, time.Second, time.Millisecond*10)
	entry := hook.LastEntry()
	assert.Equal(t, 204, entry.Data["status"])
	assert.Equal(t, "/targets", entry.Data["url"])
}

func testLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}
