package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JonMunkholm/ProgramUpload/internal/config"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestAPIKeyAuth(t *testing.T) {
	secured := config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"alpha", "beta"}}

	tests := []struct {
		name   string
		cfg    config.SecurityConfig
		header map[string]string
		want   int
	}{
		{"disabled passes", config.SecurityConfig{}, nil, http.StatusNoContent},
		{"missing key", secured, nil, http.StatusUnauthorized},
		{"invalid key", secured, map[string]string{"X-API-Key": "gamma"}, http.StatusForbidden},
		{"valid header key", secured, map[string]string{"X-API-Key": "beta"}, http.StatusNoContent},
		{"valid bearer token", secured, map[string]string{"Authorization": "Bearer alpha"}, http.StatusNoContent},
		{"non-bearer authorization", secured, map[string]string{"Authorization": "Basic alpha"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := APIKeyAuth(tt.cfg)(http.HandlerFunc(okHandler))
			req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestTrustedRealIP(t *testing.T) {
	mw := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-an-ip"})

	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		want       string
	}{
		{"trusted cidr uses X-Real-IP", "10.1.2.3:5000", "203.0.113.9", "", "203.0.113.9"},
		{"trusted single ip uses first forwarded", "192.168.1.5:443", "", "198.51.100.7, 10.1.1.1", "198.51.100.7"},
		{"untrusted keeps remote", "172.16.0.1:1234", "203.0.113.9", "", "172.16.0.1:1234"},
		{"invalid header keeps remote", "10.1.2.3:5000", "garbage", "", "10.1.2.3:5000"},
		{"no headers keeps remote", "10.1.2.3:5000", "", "", "10.1.2.3:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger_PassesStatusThrough(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}
