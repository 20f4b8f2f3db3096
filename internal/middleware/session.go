// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/shelfman/internal/auth"
	"github.com/hitoshi/shelfman/internal/model"
	"github.com/hitoshi/shelfman/internal/user"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// callerContextKey はリクエストコンテキストに呼び出し元を格納するためのキー。
var callerContextKey = contextKey("caller")

// CallerResolver はセッションIDから呼び出し元を解決する。auth.Serviceが実装する。
type CallerResolver interface {
	ResolveCaller(ctx context.Context, sessionID string) (model.Caller, error)
}

// ProxyCallerResolver は認証プロキシが渡したIDから呼び出し元を解決する。auth.Serviceが実装する。
type ProxyCallerResolver interface {
	ResolveProxyCaller(ctx context.Context, ext user.ExternalIdentity) (model.Caller, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 呼び出し元をリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(resolver CallerResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteError(w, r, model.NewUnauthenticatedError())
				return
			}

			caller, err := resolver.ResolveCaller(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !caller.Authenticated() {
				WriteError(w, r, model.NewUnauthenticatedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}

// NewProxyIdentityMiddleware は信頼できる認証プロキシが付与したヘッダーから呼び出し元を解決する。
// 初回アクセス時にユーザーをミラーする。ヘッダーがない場合は401を返す。
func NewProxyIdentityMiddleware(resolver ProxyCallerResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ext, ok := auth.IdentityFromHeaders(r.Header)
			if !ok {
				WriteError(w, r, model.NewUnauthenticatedError())
				return
			}

			caller, err := resolver.ResolveProxyCaller(r.Context(), ext)
			if err != nil {
				slog.Error("failed to resolve proxy identity",
					slog.String("provider_user_id", ext.Subject),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}

func withCaller(ctx context.Context, caller model.Caller) context.Context {
	setLogUserID(ctx, caller.UserID)
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext はリクエストコンテキストから呼び出し元を取得する。
// 認証ミドルウェアを通過していない場合はゼロ値（未認証）を返す。
func CallerFromContext(ctx context.Context) model.Caller {
	caller, _ := ctx.Value(callerContextKey).(model.Caller)
	return caller
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	caller := CallerFromContext(ctx)
	if !caller.Authenticated() {
		return "", fmt.Errorf("user ID not found in context")
	}
	return caller.UserID, nil
}

// ContextWithCaller はコンテキストに呼び出し元を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}
