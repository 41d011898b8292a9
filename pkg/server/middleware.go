package server

import (
	"net/http"
	"os"
	"strings"

	"github.com/labmanager/labml/config"
)

const versionHeader = "X-Labml-Version"

// SendVersion is a middleware that adds the current version to the response
func SendVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get(versionHeader) == "" {
			w.Header().Set(versionHeader, config.VersionString)
		}
		next.ServeHTTP(w, r)
	})
}

// ApplyCustomHeaders adds the configured server.custom_headers to every response. A value
// of the form "env:NAME" is read from the environment once, when the router is built.
func ApplyCustomHeaders(customHeaders map[string]string) func(http.Handler) http.Handler {
	resolved := make(map[string]string, len(customHeaders))
	for key, value := range customHeaders {
		if name, ok := strings.CutPrefix(value, "env:"); ok {
			value = os.Getenv(name)
		}
		resolved[http.CanonicalHeaderKey(key)] = value
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for key, value := range resolved {
				// route-specific headers win
				if w.Header().Get(key) == "" {
					w.Header().Set(key, value)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
