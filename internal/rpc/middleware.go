package rpc

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

// WithAuth requires the bearer token when one is configured.
func WithAuth(token string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if token == "" {
			next(w, r, ps)
			return
		}

		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			w.WriteHeader(401)
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			w.WriteHeader(403)
			return
		}

		next(w, r, ps)
	}
}

func WithLogging(log logrus.FieldLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wp := &responseProxy{ResponseWriter: w, Status: 200}
		next.ServeHTTP(wp, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"url":      r.URL.String(),
			"status":   wp.Status,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Debug("handled request")
	})
}

// responseProxy is an annoying necessity to retain the response status for logging purposes.
type responseProxy struct {
	http.ResponseWriter
	Status int
}

func (r *responseProxy) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}
