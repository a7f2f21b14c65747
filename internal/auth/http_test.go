// ABOUTME: Tests for the bearer-token HTTP middleware
// ABOUTME: Verifies rejection of missing/invalid tokens and identity propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
		{header: "Bearer abc.def", token: "abc.def"},
	}

	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		if (errMsg != "") != tt.wantErr {
			t.Errorf("extractBearerToken(%q) errMsg = %q, wantErr %v", tt.header, errMsg, tt.wantErr)
		}
		if token != tt.token {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, token, tt.token)
		}
	}
}

func TestHTTPAuthMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	valid, err := verifier.Generate(Identity{Subject: "alice", Platform: "slack"}, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var seen *Identity
	handler := HTTPAuthMiddleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Token " + valid, want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + valid, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusNoContent {
				if seen != nil {
					t.Error("handler should not run for rejected requests")
				}
				return
			}
			if seen == nil || seen.Subject != "alice" || seen.Platform != "slack" {
				t.Errorf("identity = %+v, want alice/slack", seen)
			}
		})
	}
}

func TestFromContextEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := FromContext(req.Context()); id != nil {
		t.Errorf("FromContext() = %+v, want nil", id)
	}
}
