// Package security はインポート時の外部アクセスと外部コンテンツに対する防御を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// URLGuard はユーザー指定URLへのアクセスを制限する。
type URLGuard interface {
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error
	// NewSafeClient は接続先IPをダイアル時に検証するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client
}

// blockedPrefixes はアクセスを禁止するネットワーク範囲。
var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10", // CGNAT
	"127.0.0.0/8",
	"169.254.0.0/16", // メタデータIPを含む
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

// blockedHostSuffixes は名前解決前に拒否するホスト名。
var blockedHostSuffixes = []string{"localhost", ".localhost", ".internal", ".local"}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// Guard はURLGuardの実装。
type Guard struct {
	ports []int
}

// NewGuard はGuardを生成する。ポートを指定しない場合は80と443のみ許可する。
func NewGuard(ports ...int) *Guard {
	if len(ports) == 0 {
		ports = []int{80, 443}
	}
	return &Guard{ports: ports}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
// プライベート、ループバック、リンクローカルの各アドレスへの接続は
// DNS解決後にダイアラーで拒否される。
func (g *Guard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(g.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はスキーム、ホスト、ポート、IPリテラルを検証する。
func (g *Guard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("credentials in URL are not allowed")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if err := g.checkPort(u); err != nil {
		return err
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	for _, suffix := range blockedHostSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

func (g *Guard) checkPort(u *url.URL) error {
	p := u.Port()
	if p == "" {
		return nil
	}
	for _, allowed := range g.ports {
		if p == fmt.Sprint(allowed) {
			return nil
		}
	}
	return fmt.Errorf("disallowed port: %s", p)
}

// isBlockedAddr はIPv4射影アドレスも展開して判定する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

var _ URLGuard = (*Guard)(nil)
