package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/shelfman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Field    string `json:"field,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Field:    apiErr.Field,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// StatusFor はエラーコードに対応するHTTPステータスを返す。
func StatusFor(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidURL, model.ErrCodeSSRFBlocked:
		return http.StatusBadRequest
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeFeedNotDetected:
		return http.StatusUnprocessableEntity
	case model.ErrCodeFetchFailed, model.ErrCodeParseFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外のエラーは500とし、詳細はログにのみ残す。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusFor(apiErr), apiErr)
		return
	}

	slog.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", chimw.GetReqID(r.Context())),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}
