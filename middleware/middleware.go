package middleware

import (
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog/log"

	"github.com/chilla55/backup-dashboard/tracing"
)

// Chain applies middlewares so the first one listed runs outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RequestID middleware adds a unique request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, r = tracing.InjectRequestID(w, r)
		next.ServeHTTP(w, r)
	})
}

// NoCache marks every response as uncacheable so browsers always show the
// latest snapshot.
func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, post-check=0, pre-check=0, max-age=0")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "-1")
		next.ServeHTTP(w, r)
	})
}

// Recover turns a panicking handler into a 500.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Str("request_id", getRequestID(r)).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Msg("Handler panicked")
				http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Logger middleware logs all requests
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		event := log.Info()
		if wrapped.statusCode >= 500 {
			event = log.Warn()
		}
		event.
			Str("request_id", getRequestID(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Int64("bytes", wrapped.bytesWritten).
			Msg("Request completed")
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Compress encodes responses with brotli or gzip, whichever the client
// prefers. Clients that accept neither get the body as is.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead || r.Header.Get("Accept-Encoding") == "" {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, r: r}
		defer cw.Close()
		next.ServeHTTP(cw, r)
	})
}

type compressWriter struct {
	http.ResponseWriter
	r           *http.Request
	enc         io.WriteCloser
	wroteHeader bool
}

func (cw *compressWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true

	// Bodies the handler already encoded pass through untouched.
	if code != http.StatusNoContent && code != http.StatusNotModified && cw.Header().Get("Content-Encoding") == "" {
		cw.Header().Del("Content-Length")
		// Sets Content-Encoding and Vary from Accept-Encoding.
		cw.enc = brotli.HTTPCompressor(cw.ResponseWriter, cw.r)
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.enc == nil {
		return cw.ResponseWriter.Write(b)
	}
	return cw.enc.Write(b)
}

func (cw *compressWriter) Close() error {
	if cw.enc == nil {
		return nil
	}
	return cw.enc.Close()
}

func getRequestID(r *http.Request) string {
	if id := tracing.GetRequestID(r.Context()); id != "" {
		return id
	}
	return "unknown"
}
