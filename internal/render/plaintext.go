package render

import (
	"strings"

	"golang.org/x/net/html"
)

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "blockquote": true, "hr": true,
}

var skipTags = map[string]bool{"script": true, "style": true, "head": true, "title": true}

// PlainText derives a text fallback from an HTML body: tags are dropped,
// entities unescaped, block elements become line breaks and link targets are
// kept in parentheses after the link text.
func PlainText(doc string) string {
	var (
		b    strings.Builder
		skip int
		href string
	)
	z := html.NewTokenizer(strings.NewReader(doc))
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch {
			case skipTags[tok.Data]:
				if tok.Type == html.StartTagToken {
					skip++
				}
			case blockTags[tok.Data]:
				b.WriteByte('\n')
			case tok.Data == "a":
				_, href = hrefAttr(tok)
			}
		case html.EndTagToken:
			tok := z.Token()
			switch {
			case skipTags[tok.Data]:
				if skip > 0 {
					skip--
				}
			case blockTags[tok.Data]:
				b.WriteByte('\n')
			case tok.Data == "a":
				if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
					b.WriteString(" (" + href + ")")
				}
				href = ""
			}
		}
	}
	return tidyLines(b.String())
}

// tidyLines collapses runs of whitespace within lines and keeps at most one
// blank line between paragraphs.
func tidyLines(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
