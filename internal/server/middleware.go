package server

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/takuphilchan/offgrid-t2i/internal/apperr"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs all HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"client":      clientKey(r),
		}
		if rec.status >= http.StatusInternalServerError {
			s.log.Warn("request", fields)
			return
		}
		s.log.Info("request", fields)
	})
}

// recoveryMiddleware turns handler panics into 500 responses.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error("panic in handler", map[string]any{
					"path":  r.URL.Path,
					"panic": fmt.Sprint(v),
					"stack": string(debug.Stack()),
				})
				s.writeError(w, r, apperr.Internal("Something went wrong!", fmt.Errorf("panic: %v", v)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows the configured origins, or any origin when none
// are configured.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, o := range strings.Split(s.config.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		switch {
		case len(allowed) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitGenerations applies the request rate limit and the concurrency cap.
// A failing shared limiter lets requests through rather than blocking all
// generations.
func (s *Server) limitGenerations(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		if s.limiter != nil {
			ok, err := s.limiter.Allow(r.Context(), key)
			if err != nil {
				s.log.Warn("rate limiter unavailable", map[string]any{"error": err})
			} else if !ok {
				s.writeError(w, r, apperr.RateLimit("Too many requests. Please try again later."))
				return
			}
		}

		if !s.slots.Acquire(key) {
			s.writeError(w, r, apperr.RateLimit("Too many concurrent requests. Please wait for current requests to complete."))
			return
		}
		defer s.slots.Release(key)

		next(w, r)
	}
}

// clientKey identifies the caller by remote IP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
