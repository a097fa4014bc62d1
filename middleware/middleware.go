package middleware

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/MrEthical07/cookieauth"
)

// ErrorHandler answers a request whose authentication pass failed.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Option customizes Authenticate.
type Option func(*options)

type options struct {
	onError ErrorHandler
}

// WithErrorHandler replaces DefaultErrorHandler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		if h != nil {
			o.onError = h
		}
	}
}

// DefaultErrorHandler answers 503 for storage faults and 500 otherwise.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, cookieauth.ErrStorageFault) {
		http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// Authenticate runs Manager.Authenticate before next and attaches the result
// to the request context. The response of next is buffered; queued cookies
// are written once next returns, followed by the buffered status and body.
// When next panics nothing is written.
//
// Buffering rules out streaming responses; Flush on the wrapped writer is a
// no-op.
func Authenticate(m *cookieauth.Manager, opts ...Option) func(http.Handler) http.Handler {
	o := options{onError: DefaultErrorHandler}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				o.onError(w, r, cookieauth.ErrNoAuthContext)
				return
			}
			a, err := m.Authenticate(r.Context(), r)
			if err != nil {
				o.onError(w, r, err)
				return
			}
			r = r.WithContext(cookieauth.WithAuth(r.Context(), a))
			a.Request = r

			bw := newBufferedWriter()
			next.ServeHTTP(bw, r)

			a.ApplyCookies(bw.header)
			bw.flushTo(w)
		})
	}
}

// RequireAuth answers 401 unless the request was authenticated by
// Authenticate.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := cookieauth.FromContext(r.Context())
		if !ok || !a.Authenticated() {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: http.Header{}}
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

func (w *bufferedWriter) Flush() {}

func (w *bufferedWriter) flushTo(dst http.ResponseWriter) {
	h := dst.Header()
	for k, v := range w.header {
		h[k] = append(h[k], v...)
	}
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	dst.WriteHeader(status)
	if w.body.Len() > 0 {
		_, _ = dst.Write(w.body.Bytes())
	}
}
