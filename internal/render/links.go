package render

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const maxLinkName = 60

type token struct {
	raw string
	tok html.Token
}

func tokenize(doc string) []token {
	var out []token
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		tt := z.Next()
		raw := string(z.Raw())
		if tt == html.ErrorToken {
			if raw != "" {
				out = append(out, token{raw: raw, tok: html.Token{Type: html.TextToken, Data: raw}})
			}
			return out
		}
		out = append(out, token{raw: raw, tok: z.Token()})
	}
}

// WrapLinksWithTracking points every http(s) anchor at the click redirect
// endpoint. Links already on the click or unsubscribe endpoints are left
// alone, so applying it twice gives the same result as applying it once.
func (r *Renderer) WrapLinksWithTracking(doc, email, listToken string) string {
	tokens := tokenize(doc)

	var b strings.Builder
	b.Grow(len(doc))
	for i, t := range tokens {
		if t.tok.Type != html.StartTagToken || t.tok.Data != "a" {
			b.WriteString(t.raw)
			continue
		}
		idx, href := hrefAttr(t.tok)
		if idx < 0 || !r.trackable(href) {
			b.WriteString(t.raw)
			continue
		}

		name := anchorText(tokens[i+1:])
		if name == "" {
			if u, err := url.Parse(href); err == nil {
				name = u.Hostname()
			}
		}

		tok := t.tok
		tok.Attr = append([]html.Attribute(nil), tok.Attr...)
		tok.Attr[idx].Val = r.ClickURL(href, email, listToken, name)
		b.WriteString(tok.String())
	}
	return b.String()
}

func (r *Renderer) trackable(href string) bool {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, r.BaseURL+ClickPath+"?") || strings.HasPrefix(href, r.BaseURL+UnsubscribePath+"?") {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	}
	return false
}

func hrefAttr(tok html.Token) (int, string) {
	for i, a := range tok.Attr {
		if a.Namespace == "" && a.Key == "href" {
			return i, a.Val
		}
	}
	return -1, ""
}

// anchorText collects the visible text up to the closing </a>.
func anchorText(rest []token) string {
	var parts []string
	for _, t := range rest {
		if t.tok.Type == html.EndTagToken && t.tok.Data == "a" {
			break
		}
		if t.tok.Type == html.StartTagToken && t.tok.Data == "a" {
			break
		}
		if t.tok.Type == html.TextToken {
			parts = append(parts, t.tok.Data)
		}
	}
	name := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if utf8.RuneCountInString(name) > maxLinkName {
		name = string([]rune(name)[:maxLinkName])
	}
	return name
}
