package auth

import (
	"net/http"
	"strings"

	"github.com/hitoshi/shelfman/internal/user"
)

// ProxyProvider は認証プロキシ経由のidentityに付けるプロバイダー名。
const ProxyProvider = "proxy"

// 認証プロキシ（oauth2-proxy等）が付与するヘッダー
const (
	HeaderForwardedUser     = "X-Forwarded-User"
	HeaderForwardedEmail    = "X-Forwarded-Email"
	HeaderForwardedUsername = "X-Forwarded-Preferred-Username"
)

// IdentityFromHeaders は認証プロキシのヘッダーからIdP上の識別情報を取り出す。
// X-Forwarded-User がない場合はメールアドレスを識別子として使う。どちらもなければfalseを返す。
func IdentityFromHeaders(h http.Header) (user.ExternalIdentity, bool) {
	subject := strings.TrimSpace(h.Get(HeaderForwardedUser))
	email := strings.TrimSpace(h.Get(HeaderForwardedEmail))
	if subject == "" {
		subject = email
	}
	if subject == "" {
		return user.ExternalIdentity{}, false
	}
	return user.ExternalIdentity{
		Provider: ProxyProvider,
		Subject:  subject,
		Email:    email,
		Name:     strings.TrimSpace(h.Get(HeaderForwardedUsername)),
	}, true
}
