package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func extractInto(t *testing.T, req *http.Request) (project, user string) {
	t.Helper()
	handler := TenantExtractor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project = GetProject(r.Context())
		user = GetUserID(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return project, user
}

func TestTenantExtractorHeaderWins(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/chains?project=query-proj", nil)
	req.Header.Set("X-Project-Id", "header-proj")
	req.Header.Set("X-User-Id", "user-1")

	project, user := extractInto(t, req)
	if project != "header-proj" {
		t.Errorf("project = %q, want header value", project)
	}
	if user != "user-1" {
		t.Errorf("user = %q, want user-1", user)
	}
}

func TestTenantExtractorQueryFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/chains?project=query-proj", nil)

	project, _ := extractInto(t, req)
	if project != "query-proj" {
		t.Errorf("project = %q, want query value", project)
	}
}

func TestTenantExtractorDefaults(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/chains", nil)

	project, user := extractInto(t, req)
	if project != "default" {
		t.Errorf("project = %q, want default", project)
	}
	if user != "anonymous" {
		t.Errorf("user = %q, want anonymous", user)
	}
}
