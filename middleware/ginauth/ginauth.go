// Package ginauth adapts cookieauth to gin. It follows the same contract as
// the net/http middleware: authenticate before the handlers run, write queued
// cookies only after they have all returned.
package ginauth

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/cookieauth"
)

// ContextKey is the gin context key the Auth is stored under.
const ContextKey = "cookieauth"

// Authenticate runs Manager.Authenticate, stores the Auth on both the gin
// context and the request context, and buffers the response of the remaining
// handlers. Storage faults abort with 503.
func Authenticate(m *cookieauth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := m.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, cookieauth.ErrStorageFault) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "authentication unavailable"})
			return
		}
		c.Request = c.Request.WithContext(cookieauth.WithAuth(c.Request.Context(), a))
		a.Request = c.Request
		c.Set(ContextKey, a)

		bw := &bufferedWriter{ResponseWriter: c.Writer}
		c.Writer = bw
		// Restored on panic too, so recovery middleware writes to the real
		// writer and no cookie leaks out.
		defer func() { c.Writer = bw.ResponseWriter }()

		c.Next()

		a.ApplyCookies(bw.ResponseWriter.Header())
		bw.flush()
	}
}

// RequireAuth aborts with 401 unless the request is authenticated.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := FromContext(c)
		if !ok || !a.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// FromContext returns the Auth stored by Authenticate.
func FromContext(c *gin.Context) (*cookieauth.Auth, bool) {
	v, ok := c.Get(ContextKey)
	if !ok {
		return nil, false
	}
	a, ok := v.(*cookieauth.Auth)
	return a, ok && a != nil
}

// bufferedWriter holds status and body until flush. Headers go straight to
// the wrapped writer's map, which is not sent before flush.
type bufferedWriter struct {
	gin.ResponseWriter
	status int
	body   bytes.Buffer
	wrote  bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if code > 0 && !w.wrote {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {
	w.wrote = true
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	w.wrote = true
	return w.body.Write(p)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	w.wrote = true
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *bufferedWriter) Size() int {
	if !w.wrote {
		return -1
	}
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool { return w.wrote }

func (w *bufferedWriter) Flush() {}

func (w *bufferedWriter) flush() {
	w.ResponseWriter.WriteHeader(w.Status())
	if w.body.Len() == 0 {
		w.ResponseWriter.WriteHeaderNow()
		return
	}
	_, _ = w.ResponseWriter.Write(w.body.Bytes())
}
