// Package render turns a stored template into the HTML sent to one
// recipient: text-to-HTML conversion, opt-out footer, click tracking and the
// open tracking pixel.
package render

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/sungwon/mailrunner/internal/templates"
)

// Paths of the public tracking endpoints.
const (
	ClickPath       = "/t/click"
	OpenPath        = "/t/open"
	UnsubscribePath = "/unsubscribe"
)

// Message is the rendered output for one recipient.
type Message struct {
	HTML           string
	Text           string
	UnsubscribeURL string
}

// Renderer builds tracked message bodies. All methods are pure string
// transforms.
type Renderer struct {
	BaseURL string
}

// NewRenderer returns a Renderer whose links point at baseURL.
func NewRenderer(baseURL string) *Renderer {
	return &Renderer{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Render applies body conversion, opt-out footer, link wrapping and the open
// pixel in that order.
func (r *Renderer) Render(tpl *templates.Template, email, list string) Message {
	token := EncodeListToken(list)

	body := r.RenderBody(tpl)
	body = r.AppendOptOutFooter(body, tpl.OptOutLang, email, token)
	body = r.WrapLinksWithTracking(body, email, token)
	body = r.AppendOpenTrackingPixel(body, email, token)

	return Message{
		HTML:           body,
		Text:           PlainText(body),
		UnsubscribeURL: r.UnsubscribeURL(email, token),
	}
}

// ClickURL returns the redirect endpoint URL for target.
func (r *Renderer) ClickURL(target, email, listToken, name string) string {
	q := url.Values{}
	q.Set("e", email)
	q.Set("l", listToken)
	q.Set("n", name)
	q.Set("u", target)
	return r.BaseURL + ClickPath + "?" + q.Encode()
}

// OpenURL returns the tracking pixel URL.
func (r *Renderer) OpenURL(email, listToken string) string {
	q := url.Values{}
	q.Set("e", email)
	q.Set("l", listToken)
	return r.BaseURL + OpenPath + "?" + q.Encode()
}

// UnsubscribeURL returns the opt-out link for the recipient.
func (r *Renderer) UnsubscribeURL(email, listToken string) string {
	q := url.Values{}
	q.Set("e", email)
	q.Set("l", listToken)
	return r.BaseURL + UnsubscribePath + "?" + q.Encode()
}

var footers = map[string]string{
	"en": `<div style="margin-top:32px;padding-top:16px;border-top:1px solid #ddd;font-size:12px;color:#888;">` +
		`You are receiving this email because you subscribed to our newsletter. ` +
		`If you no longer wish to receive these emails, you can <a href="%s" style="color:#888;">unsubscribe here</a>.` +
		`</div>`,
	"de": `<div style="margin-top:32px;padding-top:16px;border-top:1px solid #ddd;font-size:12px;color:#888;">` +
		`Sie erhalten diese E-Mail, weil Sie sich für unseren Newsletter angemeldet haben. ` +
		`Wenn Sie keine weiteren E-Mails erhalten möchten, können Sie sich <a href="%s" style="color:#888;">hier abmelden</a>.` +
		`</div>`,
}

// AppendOptOutFooter adds the footer for lang with an unsubscribe link. An
// empty or unknown lang leaves the body unchanged.
func (r *Renderer) AppendOptOutFooter(body, lang, email, listToken string) string {
	footer, ok := footers[lang]
	if !ok {
		return body
	}
	link := html.EscapeString(r.UnsubscribeURL(email, listToken))
	return insertBeforeBodyClose(body, strings.Replace(footer, "%s", link, 1))
}

// AppendOpenTrackingPixel adds a hidden 1x1 image whose fetch records an open.
func (r *Renderer) AppendOpenTrackingPixel(body, email, listToken string) string {
	src := html.EscapeString(r.OpenURL(email, listToken))
	pixel := `<img src="` + src + `" width="1" height="1" alt="" style="display:none" />`
	return insertBeforeBodyClose(body, pixel)
}

// insertBeforeBodyClose places fragment before the last </body>, or at the
// end when the document has none.
func insertBeforeBodyClose(doc, fragment string) string {
	idx := strings.LastIndex(strings.ToLower(doc), "</body>")
	if idx < 0 {
		return doc + fragment
	}
	return doc[:idx] + fragment + doc[idx:]
}
