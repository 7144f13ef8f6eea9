package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

var testClients = map[string]Client{
	"dash-key":    {ID: "dashboard", Role: RoleCareTeam},
	"gateway-key": {ID: "pharmacy-gateway", Role: RoleChannel},
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(testClients)(okHandler())

	cases := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"missing key", "", "", http.StatusUnauthorized},
		{"invalid key", "X-API-Key", "bogus", http.StatusUnauthorized},
		{"valid key", "X-API-Key", "dash-key", http.StatusOK},
		{"bearer token", "Authorization", "Bearer gateway-key", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/patients/p1/snapshot", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if rec.Code != http.StatusOK && rec.Header().Get("Content-Type") != "application/json" {
				t.Fatalf("error content type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRequireRoleBlocksChannelClients(t *testing.T) {
	h := APIKeyAuth(testClients)(RequireRole(RoleCareTeam)(okHandler()))

	req := httptest.NewRequest("POST", "/api/v1/careplan/p1/tasks", nil)
	req.Header.Set("X-API-Key", "gateway-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("channel client status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest("POST", "/api/v1/careplan/p1/tasks", nil)
	req.Header.Set("X-API-Key", "dash-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("care-team client status = %d, want 200", rec.Code)
	}
}

func TestRateLimitKeysByClient(t *testing.T) {
	h := APIKeyAuth(testClients)(RateLimit(rate.Limit(0.001), 2)(okHandler()))

	do := func(key string) int {
		req := httptest.NewRequest("GET", "/api/v1/patients/p1/snapshot", nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("dash-key"); code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, code)
		}
	}
	if code := do("dash-key"); code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded status = %d, want 429", code)
	}
	// Another client has its own budget.
	if code := do("gateway-key"); code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", code)
	}
}
