package security

import "testing"

func TestCheckPermission_Admin(t *testing.T) {
	tests := []struct {
		method, path string
	}{
		{"GET", "/api/status"},
		{"POST", "/api/sync/clear"},
		{"PUT", "/api/sync/auto"},
		{"POST", "/api/remote/retry/abc"},
		{"POST", "/api/scheduler/jobs/periodic-sync/run"},
	}
	for _, tt := range tests {
		if !CheckPermission(ScopeAdmin, tt.method, tt.path) {
			t.Errorf("admin should access %s %s", tt.method, tt.path)
		}
	}
}

func TestCheckPermission_Producer(t *testing.T) {
	allowed := []struct {
		method, path string
	}{
		{"POST", "/api/queue"},
		{"POST", "/api/sync"},
		{"GET", "/api/queue"},
		{"GET", "/api/status"},
		{"GET", "/api/events"},
	}
	for _, tt := range allowed {
		if !CheckPermission(ScopeProducer, tt.method, tt.path) {
			t.Errorf("producer should access %s %s", tt.method, tt.path)
		}
	}

	denied := []struct {
		method, path string
	}{
		{"POST", "/api/sync/retry"},
		{"POST", "/api/sync/clear"},
		{"PUT", "/api/sync/auto"},
		{"POST", "/api/remote/clear"},
	}
	for _, tt := range denied {
		if CheckPermission(ScopeProducer, tt.method, tt.path) {
			t.Errorf("producer should NOT access %s %s", tt.method, tt.path)
		}
	}
}

func TestCheckPermission_Readonly(t *testing.T) {
	for _, path := range []string{"/api/status", "/api/queue", "/api/remote/stats", "/api/scheduler"} {
		if !CheckPermission(ScopeReadonly, "GET", path) {
			t.Errorf("readonly should GET %s", path)
		}
	}
	for _, path := range []string{"/api/queue", "/api/sync", "/api/sync/retry"} {
		if CheckPermission(ScopeReadonly, "POST", path) {
			t.Errorf("readonly should NOT POST %s", path)
		}
	}
}

func TestCheckPermission_UnknownScope(t *testing.T) {
	if CheckPermission("root", "GET", "/api/status") {
		t.Error("unknown scope should be denied")
	}
}

func TestMatchRoute(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"/api/", "/api/status", true},
		{"/api/", "/api", true},
		{"/api/", "/apix", false},
		{"/api/sync", "/api/sync", true},
		{"/api/sync", "/api/sync/clear", false},
		{"/api/remote/retry/{id}", "/api/remote/retry/abc", true},
		{"/api/remote/retry/{id}", "/api/remote/retry", false},
	}
	for _, tt := range tests {
		got := matchRoute(tt.pattern, tt.path)
		if got != tt.want {
			t.Errorf("matchRoute(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestValidScope(t *testing.T) {
	for _, s := range ValidScopes {
		if !ValidScope(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	if ValidScope("owner") {
		t.Error("owner is not a scope")
	}
}
