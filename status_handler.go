package servicetree

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

func (n *Node) handleStatus(w http.ResponseWriter, r *http.Request) {
	msg, err := n.Status(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, msg)
}

// Recoverer converts a handler panic into the internal error response.
func Recoverer(logger Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = nopLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("Handler panicked", "method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
				WriteError(w, InternalError(fmt.Sprint(rec)))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
