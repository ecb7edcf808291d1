package request

import (
	"log/slog"
	"net/http"
)

// NotFoundHandler answers requests for paths no route serves.
func NotFoundHandler(l *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Encode(l, w, http.StatusNotFound, NewMessage("No route for %s", r.URL.Path))
	}
}

// MethodNotAllowedHandler answers requests using a method the route does not accept.
func MethodNotAllowedHandler(l *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Encode(l, w, http.StatusMethodNotAllowed, NewMessage("%s is not allowed on %s", r.Method, r.URL.Path))
	}
}
