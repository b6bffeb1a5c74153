package middleware

import (
	"net/http"

	"github.com/cloo-solutions/agentkb/internal/api"
	"github.com/cloo-solutions/agentkb/internal/domain"
)

// MaxBodyBytes caps the body of requests whose handlers decode one.
// A declared Content-Length over the limit is refused before the handler
// runs; a chunked body is cut off by http.MaxBytesReader while the handler
// reads it, and the handler reports domain.ErrBodyTooLarge itself.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || !carriesBody(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				w.Header().Set("Connection", "close")
				api.HandleError(w, domain.ErrBodyTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
