package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, collection, import, system
	Action   string // ユーザー向け対処方法
	Field    string // 検証エラーの対象フィールド（該当時のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeCSRFInvalid     = "CSRF_TOKEN_INVALID"

	ErrCodeFeedNotDetected = "FEED_NOT_DETECTED"
	ErrCodeInvalidURL      = "INVALID_URL"
	ErrCodeSSRFBlocked     = "SSRF_BLOCKED"
	ErrCodeFetchFailed     = "FETCH_FAILED"
	ErrCodeParseFailed     = "PARSE_FAILED"
)

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Field:    field,
	}
}

// NewUnauthenticatedError はセッションが存在しない場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewForbiddenError は所有者以外による書き込みを拒否するエラーを生成する。
func NewForbiddenError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この%sを変更する権限がありません。", resource),
		Category: "auth",
		Action:   "自分が所有するコレクションのみ変更できます。",
	}
}

// NewCSRFInvalidError は状態変更リクエストのCSRFトークンが欠落または不一致の場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewNotFoundError はリソースが存在しないか、読み取り権限がない場合のエラーを生成する。
// 存在の有無を漏らさないため、両者は区別しない。
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません: %s", resource, id),
		Category: "collection",
		Action:   "IDを確認してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が上限を超えました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("指定されたURLからRSS/Atomフィードを検出できませんでした: %s", url),
		Category: "import",
		Action:   "RSS/AtomフィードのURLを直接入力するか、フィードが公開されているページのURLを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
		Field:    "url",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。",
		Field:    "url",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "import",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はパース失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "フィードの解析に失敗しました。",
		Category: "import",
		Action:   "有効なRSS/Atomフィードかどうか確認してください。",
	}
}

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsNotFound はerrがNotFoundエラーかどうかを返す。
func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// IsForbidden はerrが書き込み拒否エラーかどうかを返す。
func IsForbidden(err error) bool { return HasCode(err, ErrCodeForbidden) }

// IsUnauthenticated はerrが未認証エラーかどうかを返す。
func IsUnauthenticated(err error) bool { return HasCode(err, ErrCodeUnauthenticated) }

// IsValidation はerrが入力値検証エラーかどうかを返す。
func IsValidation(err error) bool { return HasCode(err, ErrCodeValidation) }
