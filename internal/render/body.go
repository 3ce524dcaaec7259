package render

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/sungwon/mailrunner/internal/templates"
)

// inlineTags may be hand-authored inside a text template and are kept as
// markup; everything else is escaped.
var inlineTags = map[string]bool{"img": true, "a": true, "b": true, "i": true}

// RenderBody converts the template content into HTML. HTML templates pass
// through unchanged.
func (r *Renderer) RenderBody(tpl *templates.Template) string {
	if tpl.ContentType != templates.ContentText {
		return tpl.Content
	}
	return TextToHTML(tpl.Content)
}

// TextToHTML escapes text except for the allow-listed inline tags and turns
// line breaks into <br>.
func TextToHTML(text string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		tt := z.Next()
		raw := string(z.Raw())
		if tt == html.ErrorToken {
			// An unterminated tag at the end of input is reported as
			// an error with its bytes still in Raw.
			b.WriteString(escapeText(raw))
			return b.String()
		}
		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if inlineTags[string(name)] {
				b.WriteString(raw)
				continue
			}
		}
		b.WriteString(escapeText(raw))
	}
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br>")
}
