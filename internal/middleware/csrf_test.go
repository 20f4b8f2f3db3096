package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, "/api/collections", nil))

			if !called {
				t.Errorf("handler should have been called for %s", method)
			}
		})
	}
}

func TestCSRFMiddleware_MutatingMethods(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		wantStatus int
	}{
		{"POST without cookie", http.MethodPost, "", "", http.StatusForbidden},
		{"POST without header", http.MethodPost, "token-abc", "", http.StatusForbidden},
		{"POST with mismatched token", http.MethodPost, "token-abc", "wrong-token", http.StatusForbidden},
		{"POST with valid token", http.MethodPost, "valid-token", "valid-token", http.StatusOK},
		{"PUT with valid token", http.MethodPut, "valid-token", "valid-token", http.StatusOK},
		{"PATCH without token", http.MethodPatch, "", "", http.StatusForbidden},
		{"PATCH with valid token", http.MethodPatch, "valid-token", "valid-token", http.StatusOK},
		{"DELETE without token", http.MethodDelete, "", "", http.StatusForbidden},
		{"DELETE with valid token", http.MethodDelete, "valid-token", "valid-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/collections/x", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode: %v", err)
				}
				if body.Code != ErrCodeCSRFInvalid {
					t.Errorf("code = %q, want %q", body.Code, ErrCodeCSRFInvalid)
				}
			}
		})
	}
}

func TestCSRFMiddleware_GETRequest_SetsCSRFCookie(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{CookieDomain: "example.com"})(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/collections", nil))

	c := findCookie(w.Result(), csrfCookieName)
	if c == nil {
		t.Fatal("expected CSRF cookie to be set on GET request")
	}
	if c.Value == "" {
		t.Error("CSRF cookie value should not be empty")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", c.SameSite)
	}
	if c.HttpOnly {
		t.Error("CSRF cookie must be readable from JavaScript")
	}
	if c.Path != "/" {
		t.Errorf("Path = %q, want /", c.Path)
	}
}

func TestCSRFMiddleware_GETRequest_ExistingCookie_DoesNotReplace(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/collections", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if findCookie(w.Result(), csrfCookieName) != nil {
		t.Error("CSRF cookie should not be re-set when already present")
	}
}

func TestCSRFTokenHandler_SetsTokenCookieAndReturnsJSON(t *testing.T) {
	w := httptest.NewRecorder()
	NewCSRFTokenHandler(CSRFConfig{CookieDomain: "example.com"}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	c := findCookie(resp, csrfCookieName)
	if c == nil {
		t.Fatal("expected CSRF cookie to be set")
	}
	if body.Token == "" || c.Value != body.Token {
		t.Errorf("cookie value = %q, response token = %q; should match", c.Value, body.Token)
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-csrf-token"})
	w := httptest.NewRecorder()

	NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, req)

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token != "existing-csrf-token" {
		t.Errorf("token = %q, want existing-csrf-token", body.Token)
	}
}
