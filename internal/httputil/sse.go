package httputil

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SetSSEHeaders sets the standard headers for a Server-Sent Events response.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// BearerToken returns the token from an "Authorization: Bearer" header, or ""
// when there is none.
func BearerToken(r *http.Request) string {
	rest, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}

// Authorized reports whether r carries the bearer token want. An empty want
// accepts every request.
func Authorized(r *http.Request, want string) bool {
	if want == "" {
		return true
	}
	got := BearerToken(r)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Flush flushes w when it supports http.Flusher.
func Flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
