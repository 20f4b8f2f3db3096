package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/shelfman/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("name", "名前を入力してください。"))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeValidation)
	}
	if body.Message != "名前を入力してください。" {
		t.Errorf("message = %q", body.Message)
	}
	if body.Category != "validation" {
		t.Errorf("category = %q, want %q", body.Category, "validation")
	}
	if body.Field != "name" {
		t.Errorf("field = %q, want %q", body.Field, "name")
	}
}

// TestWriteError_MapsCodesToStatus はエラー種別ごとのHTTPステータスを検証する。
func TestWriteError_MapsCodesToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", model.NewValidationError("title", "x"), http.StatusBadRequest, model.ErrCodeValidation},
		{"unauthenticated", model.NewUnauthenticatedError(), http.StatusUnauthorized, model.ErrCodeUnauthenticated},
		{"forbidden", model.NewForbiddenError("コレクション"), http.StatusForbidden, model.ErrCodeForbidden},
		{"not found", model.NewNotFoundError("アイテム", "x"), http.StatusNotFound, model.ErrCodeNotFound},
		{"rate limited", model.NewRateLimitedError(), http.StatusTooManyRequests, model.ErrCodeRateLimited},
		{"invalid url", model.NewInvalidURLError("x"), http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"ssrf", model.NewSSRFBlockedError(), http.StatusBadRequest, model.ErrCodeSSRFBlocked},
		{"feed not detected", model.NewFeedNotDetectedError("x"), http.StatusUnprocessableEntity, model.ErrCodeFeedNotDetected},
		{"fetch failed", model.NewFetchFailedError("x"), http.StatusBadGateway, model.ErrCodeFetchFailed},
		{"parse failed", model.NewParseFailedError(), http.StatusBadGateway, model.ErrCodeParseFailed},
		{"wrapped", fmt.Errorf("outer: %w", model.NewForbiddenError("アイテム")), http.StatusForbidden, model.ErrCodeForbidden},
		{"infrastructure", fmt.Errorf("failed to query: connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/api/test", nil), tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

// TestWriteError_InternalDetailsNotLeaked は500レスポンスに内部エラーの詳細が含まれないことを検証する。
func TestWriteError_InternalDetailsNotLeaked(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodGet, "/api/test", nil), fmt.Errorf("pq: password authentication failed"))

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if raw["message"] != "内部エラーが発生しました。" {
		t.Errorf("message = %v", raw["message"])
	}
	if _, ok := raw["field"]; ok {
		t.Error("field should be omitted when empty")
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが統一フォーマットで返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" || body.Category != "system" || body.Action == "" {
		t.Errorf("body = %+v", body)
	}
}
