package importer

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// feedLink はHTMLのheadから検出したフィードへのリンク。
type feedLink struct {
	URL  string
	Atom bool
}

// mediaTypeOf はContent-Typeからパラメータを除いたメディアタイプを返す。
func mediaTypeOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// looksLikeFeed はContent-Typeとボディ先頭からRSS/Atom/JSON Feedかどうかを判定する。
// 汎用のXMLやtext/plainで配信されるフィードもあるため、ボディの先頭も確認する。
func looksLikeFeed(contentType string, body []byte) bool {
	switch mediaTypeOf(contentType) {
	case "application/rss+xml", "application/atom+xml", "application/feed+json":
		return true
	case "text/html", "application/xhtml+xml":
		return false
	}

	n := min(len(body), 4096)
	head := strings.ToLower(string(bytes.TrimSpace(body[:n])))
	switch {
	case strings.Contains(head, "<rss"), strings.Contains(head, "<rdf:rdf"):
		return true
	case strings.Contains(head, "<feed") && strings.Contains(head, "http://www.w3.org/2005/atom"):
		return true
	case strings.HasPrefix(head, "{") && strings.Contains(head, "jsonfeed.org/version"):
		return true
	}
	return false
}

// isHTML はレスポンスがHTMLページかどうかを返す。
func isHTML(contentType string) bool {
	mt := mediaTypeOf(contentType)
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// discoverFeedLinks はHTMLのheadにある <link rel="alternate"> からフィードURLを抽出する。
// 相対URLはbaseURLを基準に解決する。
func discoverFeedLinks(body []byte, baseURL string) []feedLink {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []feedLink
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) == "body" {
				return links
			}
			if string(name) != "link" || !hasAttr {
				continue
			}

			var rel, typ, href string
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					typ = strings.ToLower(string(val))
				case "href":
					href = strings.TrimSpace(string(val))
				}
			}
			if !hasToken(rel, "alternate") || href == "" {
				continue
			}
			if typ != "application/rss+xml" && typ != "application/atom+xml" && typ != "application/feed+json" {
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			links = append(links, feedLink{
				URL:  base.ResolveReference(ref).String(),
				Atom: typ == "application/atom+xml",
			})
		}
	}
}

// hasToken は空白区切りの属性値にtokenが含まれるかを返す。
func hasToken(attr, token string) bool {
	for _, f := range strings.Fields(attr) {
		if f == token {
			return true
		}
	}
	return false
}

// pickFeedLink は候補から1つを選ぶ。同一ホストを優先し、次にAtom、同点なら先頭を選ぶ。
func pickFeedLink(links []feedLink, pageURL string) (feedLink, bool) {
	if len(links) == 0 {
		return feedLink{}, false
	}

	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == pageHost {
			score += 2
		}
		if l.Atom {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best], true
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
