package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	// UserIDKey is the context key for the requesting user id.
	UserIDKey contextKey = "user_id"
	// ProjectKey is the context key for the project (scope) id.
	ProjectKey contextKey = "project"
)

// TenantExtractor extracts user and project identity from the request.
// It checks the X-Project-Id header, then the project query parameter,
// and falls back to "default". The user comes from X-User-Id.
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := ""

		if h := r.Header.Get("X-Project-Id"); h != "" {
			project = strings.TrimSpace(h)
		}
		if project == "" {
			if q := r.URL.Query().Get("project"); q != "" {
				project = strings.TrimSpace(q)
			}
		}
		if project == "" {
			project = "default"
		}

		user := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if user == "" {
			user = "anonymous"
		}

		ctx := context.WithValue(r.Context(), ProjectKey, project)
		ctx = context.WithValue(ctx, UserIDKey, user)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetProject retrieves the project id from the request context.
func GetProject(ctx context.Context) string {
	if v, ok := ctx.Value(ProjectKey).(string); ok {
		return v
	}
	return "default"
}

// GetUserID retrieves the user id from the request context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return "anonymous"
}
