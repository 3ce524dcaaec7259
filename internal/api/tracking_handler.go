package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/sungwon/mailrunner/internal/logger"
	"github.com/sungwon/mailrunner/internal/metrics"
	"github.com/sungwon/mailrunner/internal/recipients"
	"github.com/sungwon/mailrunner/internal/render"
	"github.com/sungwon/mailrunner/internal/sendlog"
)

// Tracking events.
const (
	EventOpen         = "tracking:open"
	EventClick        = "tracking:click"
	EventUnsubscribed = "recipient:unsubscribed"
)

// Broadcaster publishes events to observers.
type Broadcaster interface {
	Broadcast(name string, data any)
}

// TrackingEvent is the payload of tracking notifications.
type TrackingEvent struct {
	Email string    `json:"email"`
	List  string    `json:"list,omitempty"`
	Link  string    `json:"link,omitempty"`
	URL   string    `json:"url,omitempty"`
	Time  time.Time `json:"time"`
}

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// trackingParams reads the recipient and list from the standard query
// parameters. An undecodable list token yields an empty list.
func trackingParams(r *http.Request) (email, list string) {
	q := r.URL.Query()
	email = strings.TrimSpace(q.Get("e"))
	if token := q.Get("l"); token != "" {
		if name, err := render.DecodeListToken(token); err == nil {
			list = name
		}
	}
	return email, list
}

// OpenHandler handles GET /t/open. It always answers with the pixel.
func OpenHandler(events Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, list := trackingParams(r)
		if email != "" {
			metrics.TrackingEventsTotal.WithLabelValues("open").Inc()
			events.Broadcast(EventOpen, TrackingEvent{Email: email, List: list, Time: time.Now().UTC()})
		}

		w.Header().Set("Content-Type", "image/gif")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Write(pixelGIF)
	}
}

// ClickHandler handles GET /t/click. It redirects only to absolute http(s)
// targets.
func ClickHandler(events Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("u")
		u, err := url.Parse(target)
		if target == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			respondError(w, http.StatusBadRequest, "invalid link")
			return
		}

		email, list := trackingParams(r)
		metrics.TrackingEventsTotal.WithLabelValues("click").Inc()
		events.Broadcast(EventClick, TrackingEvent{
			Email: email,
			List:  list,
			Link:  r.URL.Query().Get("n"),
			URL:   target,
			Time:  time.Now().UTC(),
		})

		http.Redirect(w, r, u.String(), http.StatusFound)
	}
}

// UnsubscribeHandler handles GET and POST /unsubscribe. POST serves one-click
// List-Unsubscribe requests from mail clients.
func UnsubscribeHandler(store recipients.Store, log sendlog.Store, events Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lang := pageLanguage(r)
		rlog := logger.FromContext(r.Context())

		q := r.URL.Query()
		email := strings.TrimSpace(q.Get("e"))
		token := q.Get("l")
		if email == "" || token == "" {
			writePage(w, http.StatusBadRequest, lang, pageInvalid, "")
			return
		}
		list, err := render.DecodeListToken(token)
		if err != nil {
			writePage(w, http.StatusBadRequest, lang, pageInvalid, "")
			return
		}

		rec, err := store.FindByEmail(r.Context(), list, email)
		switch {
		case errors.Is(err, recipients.ErrNotFound):
			// Unknown addresses see the normal confirmation.
			rlog.Warn().Str("email", email).Str("list", list).Msg("unsubscribe for unknown recipient")
			writePage(w, http.StatusOK, lang, pageDone, email)
			return
		case err != nil:
			rlog.Error().Err(err).Str("list", list).Msg("unsubscribe lookup failed")
			writePage(w, http.StatusInternalServerError, lang, pageError, "")
			return
		}

		if !rec.IsUnsubscribed() {
			if err := store.MarkUnsubscribedByEmail(r.Context(), list, rec.Email); err != nil {
				rlog.Error().Err(err).Str("list", list).Msg("failed to mark recipient unsubscribed")
				writePage(w, http.StatusInternalServerError, lang, pageError, "")
				return
			}
			if _, err := log.Append(r.Context(), sendlog.Entry{
				Email:     rec.Email,
				Timestamp: time.Now().UTC(),
				Status:    sendlog.StatusUnsubscribed,
			}); err != nil {
				rlog.Warn().Err(err).Msg("failed to append unsubscribe log entry")
			}
			metrics.TrackingEventsTotal.WithLabelValues("unsubscribe").Inc()
			events.Broadcast(EventUnsubscribed, TrackingEvent{Email: rec.Email, List: list, Time: time.Now().UTC()})
			rlog.Info().Str("email", rec.Email).Str("list", list).Msg("recipient unsubscribed")
		}

		writePage(w, http.StatusOK, lang, pageDone, rec.Email)
	}
}

type pageKind int

const (
	pageDone pageKind = iota
	pageInvalid
	pageError
)

type pageText struct {
	title   string
	heading string
	body    string
}

var pages = map[string]map[pageKind]pageText{
	"en": {
		pageDone:    {"Unsubscribed", "You have been unsubscribed", "%s will no longer receive emails from this list."},
		pageInvalid: {"Invalid link", "This unsubscribe link is invalid", "Please use the link from the most recent email."},
		pageError:   {"Error", "Something went wrong", "Please try again later."},
	},
	"de": {
		pageDone:    {"Abgemeldet", "Sie wurden abgemeldet", "%s erhält keine weiteren E-Mails von dieser Liste."},
		pageInvalid: {"Ungültiger Link", "Dieser Abmeldelink ist ungültig", "Bitte verwenden Sie den Link aus der letzten E-Mail."},
		pageError:   {"Fehler", "Etwas ist schiefgelaufen", "Bitte versuchen Sie es später erneut."},
	},
}

// pageLanguage picks the confirmation page language from ?lang= or the
// Accept-Language header, defaulting to English.
func pageLanguage(r *http.Request) string {
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = r.Header.Get("Accept-Language")
	}
	if strings.HasPrefix(strings.ToLower(lang), "de") {
		return "de"
	}
	return "en"
}

func writePage(w http.ResponseWriter, status int, lang string, kind pageKind, email string) {
	text := pages[lang][kind]
	body := text.body
	if strings.Contains(body, "%s") {
		body = fmt.Sprintf(body, "<strong>"+html.EscapeString(email)+"</strong>")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html><html lang="%s"><head><meta charset="utf-8"><title>%s</title></head>`+
		`<body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">`+
		`<h1>%s</h1><p>%s</p></body></html>`,
		lang, text.title, text.heading, body)
}
