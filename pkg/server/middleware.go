package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/security/auth"
	sectls "mercator-hq/warden/pkg/security/tls"
	"mercator-hq/warden/pkg/telemetry/logging"
)

// RequestIDHeader carries the request ID in requests and responses.
const RequestIDHeader = "X-Request-ID"

// requestID propagates a caller-supplied X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

type responseRecorder struct {
	http.ResponseWriter
	code  int
	bytes int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch {
		case rec.code >= http.StatusInternalServerError:
			level = slog.LevelError
		case rec.code >= http.StatusBadRequest:
			level = slog.LevelWarn
		case isProbe(r.URL.Path, s.cfg):
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"bytes", rec.bytes,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, codeInternal, "an internal error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate requires a named API key, or a verified client certificate
// when mTLS is enabled. It is a no-op when neither is configured.
func (s *Server) authenticate(next http.Handler) http.Handler {
	mtls := s.cfg.Server.TLS.Enabled && s.cfg.Server.TLS.MTLS.Enabled
	if s.keys.Len() == 0 && !mtls && s.deps.Keys == nil {
		return next
	}
	opts := []auth.Option{
		auth.WithLogger(s.logger),
		auth.WithDeny(func(w http.ResponseWriter, _ *http.Request, err error) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
			writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
		}),
	}
	if mtls {
		source := s.cfg.Server.TLS.MTLS.IdentitySource
		opts = append(opts, auth.WithClientCertificates(func(r *http.Request) (string, bool) {
			return sectls.PeerIdentity(r, source)
		}))
	}
	return auth.NewMiddleware(s.keys, opts...).Handle(next)
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	limit := s.cfg.Server.MaxBodyBytes
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
