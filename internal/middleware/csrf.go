package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/shelfman/internal/model"
)

// Double Submit Cookie方式のCSRF対策。
// トークンはJavaScriptから読めるCookieに置き、状態変更リクエストでは同じ値をヘッダーで送らせる。
const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"

	defaultCSRFMaxAge = 24 * time.Hour
)

// ErrCodeCSRFInvalid はCSRFトークン検証失敗のエラーコード。
const ErrCodeCSRFInvalid = model.ErrCodeCSRFInvalid

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	// MaxAge はトークンCookieの有効期間。0の場合は24時間。
	MaxAge time.Duration
}

// csrfCookies はトークンCookieの発行と照合を担う。
type csrfCookies struct {
	config CSRFConfig
}

func newCSRFCookies(config CSRFConfig) csrfCookies {
	if config.MaxAge <= 0 {
		config.MaxAge = defaultCSRFMaxAge
	}
	return csrfCookies{config: config}
}

// current はリクエストに付いているトークンを返す。
func (c csrfCookies) current(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// issue は新しいトークンを生成してCookieに書き込む。
func (c csrfCookies) issue(w http.ResponseWriter) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   int(c.config.MaxAge.Seconds()),
		HttpOnly: false,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// verify はCookieとヘッダーのトークンを照合し、不一致の理由を返す。一致した場合は空文字列。
func (c csrfCookies) verify(r *http.Request) string {
	cookieToken := c.current(r)
	if cookieToken == "" {
		return "missing cookie token"
	}
	headerToken := r.Header.Get(csrfHeaderName)
	if headerToken == "" {
		return "missing header token"
	}
	if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
		return "token mismatch"
	}
	return ""
}

// NewCSRFMiddleware はCSRFトークンの検証ミドルウェアを返す。
// GET, HEAD, OPTIONS は検証せず、トークンCookieがなければ発行する。
// それ以外のメソッドはCookieとX-CSRF-Tokenヘッダーの一致を必須とする。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	cookies := newCSRFCookies(config)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				if cookies.current(r) == "" {
					if _, err := cookies.issue(w); err != nil {
						slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			if reason := cookies.verify(r); reason != "" {
				slog.Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteError(w, r, model.NewCSRFInvalidError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler は GET /api/csrf-token のハンドラーを返す。
// Cookieに既存のトークンがあればそれを返し、なければ新規発行する。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	cookies := newCSRFCookies(config)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := cookies.current(r)
		if token == "" {
			var err error
			if token, err = cookies.issue(w); err != nil {
				slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Token string `json:"token"`
		}{Token: token})
	})
}
