package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部フィード由来のHTMLをプレーンテキストに変換する。
// アイテムの説明はテキストとして保存し、マークアップは一切残さない。
type TextSanitizer interface {
	// PlainText はすべてのタグを除去し、実体参照を戻し、空白を1つにまとめる。
	// 結果がmaxRunesを超える場合は末尾を切り詰めて「…」を付ける。maxRunesが0以下なら切り詰めない。
	PlainText(rawHTML string, maxRunes int) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *textSanitizer) PlainText(rawHTML string, maxRunes int) string {
	if rawHTML == "" {
		return ""
	}

	// ブロック要素の境界で単語が連結しないよう、タグを空白に置き換える
	stripped := s.policy.Sanitize(strings.NewReplacer("<", " <", ">", "> ").Replace(rawHTML))
	text := strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")

	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes-1])) + "…"
}
