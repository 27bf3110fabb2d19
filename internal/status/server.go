package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/jveski/cracpack/internal/rpc"
	"github.com/jveski/cracpack/internal/testresources"
)

// DefaultPollTimeout caps how long a request for the next version is held open.
const DefaultPollTimeout = time.Second * 30

func NewHandler(store *Store, token string, pollTimeout time.Duration, log logrus.FieldLogger) http.Handler {
	router := httprouter.New()

	router.GET("/targets", rpc.WithAuth(token, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		writeTOML(w, &Listing{Targets: store.List()}, log)
	}))

	// Get one target, optionally waiting until its version differs from ?after
	router.GET("/targets/:name", rpc.WithAuth(token, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		name := ps.ByName("name")

		var watcher <-chan struct{}
		after := r.URL.Query().Get("after")
		if after != "" {
			if _, err := strconv.ParseUint(after, 10, 64); err != nil {
				w.WriteHeader(400)
				return
			}

			ctx, done := context.WithTimeout(r.Context(), pollTimeout)
			defer done()
			watcher = store.Watch(ctx)
		}

		for {
			entry, ok := store.Get(name)
			if ok && (after == "" || strconv.FormatUint(entry.Version, 10) != after) {
				writeTOML(w, entry, log)
				return
			}
			if watcher == nil {
				w.WriteHeader(404)
				return
			}

			if _, open := <-watcher; !open {
				if ok {
					w.WriteHeader(304)
				} else {
					w.WriteHeader(404)
				}
				return
			}
		}
	}))

	return rpc.WithLogging(log, router)
}

func writeTOML(w http.ResponseWriter, v any, log logrus.FieldLogger) {
	w.Header().Set("Content-Type", "application/toml")
	if err := toml.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("encoding response")
	}
}

type Options struct {
	Port          int // 0 picks a free port
	Token         string
	SettingsDir   string
	ClientTimeout *int
	PollTimeout   time.Duration
	Log           logrus.FieldLogger
}

// Server serves a Store on localhost.
type Server struct {
	svr      *http.Server
	Port     int
	Settings string // path of the written test-resources.properties
}

// Start begins serving and writes the settings file clients use to find the server.
func Start(store *Store, opts *Options) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", opts.Port))
	if err != nil {
		return nil, fmt.Errorf("starting status server: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	settings := &testresources.Settings{Port: port, ClientTimeout: opts.ClientTimeout}
	if opts.Token != "" {
		token := opts.Token
		settings.Token = &token
	}
	fp, err := testresources.WriteServerSettings(opts.SettingsDir, settings)
	if err != nil {
		ln.Close()
		return nil, err
	}

	poll := opts.PollTimeout
	if poll == 0 {
		poll = DefaultPollTimeout
	}

	s := &Server{
		svr:      rpc.NewServer(NewHandler(store, opts.Token, poll, opts.Log)),
		Port:     port,
		Settings: fp,
	}
	go func() {
		if err := s.svr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Log.WithError(err).Error("status server stopped")
		}
	}()

	opts.Log.WithFields(logrus.Fields{"port": port, "settings": fp}).Info("status server started")
	return s, nil
}

func (s *Server) Close(ctx context.Context) error {
	return s.svr.Shutdown(ctx)
}
