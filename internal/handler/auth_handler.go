// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/shelfman/internal/middleware"
	"github.com/hitoshi/shelfman/internal/model"
)

const (
	sessionCookieName = "session_id"
	oauthStateCookie  = "oauth_state"

	oauthStateMaxAge = 600
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // 秒
}

// AuthHandler はログイン、コールバック、ログアウト、現在のユーザー取得を扱う。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// プロキシ認証モードではserviceにnilを渡し、Meのみを使う。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{service: service, config: config}
}

// cookie はHttpOnlyかつSameSite=LaxのCookieを組み立てる。maxAgeが負の場合は削除になる。
func (h *AuthHandler) cookie(name, value string, maxAge int, withDomain bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if withDomain {
		c.Domain = h.config.CookieDomain
	}
	return c
}

// Login はstateを発行してIdPの認可画面へリダイレクトする。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomHex(16)
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, h.cookie(oauthStateCookie, state, oauthStateMaxAge, false))
	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はstateを照合し、認可コードと引き換えにセッションCookieを発行する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !h.stateMatches(r, q.Get("state")) {
		slog.Warn("oauth state mismatch", slog.String("query_state", q.Get("state")))
		middleware.WriteError(w, r, model.NewValidationError("state", "認証リクエストが無効です。もう一度ログインしてください。"))
		return
	}
	// stateは1回限り
	http.SetCookie(w, h.cookie(oauthStateCookie, "", -1, false))

	code := q.Get("code")
	if code == "" {
		middleware.WriteError(w, r, model.NewValidationError("code", "認可コードがありません。"))
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, h.cookie(sessionCookieName, session.ID, h.config.SessionMaxAge, true))
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) stateMatches(r *http.Request, state string) bool {
	if state == "" {
		return false
	}
	c, err := r.Cookie(oauthStateCookie)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) == 1
}

// Logout はセッションを破棄してCookieを削除する。
// ストアからの削除に失敗してもCookieは必ず削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" && h.service != nil {
		if err := h.service.Logout(r.Context(), c.Value); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, h.cookie(sessionCookieName, "", -1, true))
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

type meResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Me は現在のログインユーザーを返す。
// ミドルウェアが呼び出し元を解決済みならそれを使い、そうでなければセッションCookieから引く。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if caller := middleware.CallerFromContext(r.Context()); caller.Authenticated() {
		writeJSON(w, http.StatusOK, meResponse{ID: caller.UserID, Email: caller.Email, Name: caller.Name})
		return
	}

	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" || h.service == nil {
		middleware.WriteError(w, r, model.NewUnauthenticatedError())
		return
	}

	u, err := h.service.GetCurrentUser(r.Context(), c.Value)
	if err != nil {
		slog.Warn("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteError(w, r, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, meResponse{ID: u.ID, Email: u.Email, Name: u.Name})
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
