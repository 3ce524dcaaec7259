package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailrunner/internal/metrics"
	"github.com/sungwon/mailrunner/internal/recipients"
	"github.com/sungwon/mailrunner/internal/render"
	"github.com/sungwon/mailrunner/internal/sendlog"
	"github.com/sungwon/mailrunner/internal/templates"
	"github.com/sungwon/mailrunner/internal/transport"
)

// Progress events.
const (
	EventStarted   = "campaign:started"
	EventSending   = "campaign:sending"
	EventSent      = "campaign:sent"
	EventFailed    = "campaign:failed"
	EventSkipped   = "campaign:skipped"
	EventPaused    = "campaign:paused"
	EventResumed   = "campaign:resumed"
	EventComplete  = "campaign:complete"
	EventCancelled = "campaign:cancelled"
)

// Progress is the payload of per-recipient and lifecycle events.
type Progress struct {
	CampaignID string `json:"campaignId"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Email      string `json:"email,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Pause is the payload of the paused event.
type Pause struct {
	CampaignID string    `json:"campaignId"`
	ResumeAt   time.Time `json:"resumeAt"`
	Seconds    int       `json:"seconds"`
}

// Completion summarises a finished campaign.
type Completion struct {
	CampaignID string `json:"campaignId"`
	Total      int    `json:"total"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

// run sends to every recipient of j in order. It returns when the sequence
// is exhausted or ctx is cancelled.
func (e *Engine) run(ctx context.Context, j job) {
	e.mu.Lock()
	campaignID := e.state.CampaignID
	list := e.state.ListRef
	total := e.state.TotalRecipients
	e.mu.Unlock()

	log := e.log.With().Str("campaign_id", campaignID).Logger()
	listToken := render.EncodeListToken(list)

	for i, r := range j.recipients {
		index := j.base + i + 1

		if err := e.waitQuietHours(ctx, log); err != nil {
			e.stopped(ctx, log)
			return
		}

		rlog := log.With().Str("email", r.Email).Int("index", index).Logger()

		current, err := e.deps.Recipients.FindByEmail(ctx, list, r.Email)
		switch {
		case err == nil && current.IsUnsubscribed():
			rlog.Info().Msg("recipient unsubscribed, skipping")
			e.skip(ctx, campaignID, index, total, r.Email)
			continue
		case err == nil:
		case errors.Is(err, recipients.ErrNotFound):
			rlog.Info().Msg("recipient no longer in list, skipping")
			e.skip(ctx, campaignID, index, total, r.Email)
			continue
		case ctx.Err() != nil:
			e.stopped(ctx, log)
			return
		default:
			rlog.Warn().Err(err).Msg("recipient lookup failed, sending anyway")
		}

		e.notify(EventSending, Progress{CampaignID: campaignID, Index: index, Total: total, Email: r.Email})

		start := time.Now()
		messageID, sendErr := e.send(ctx, &j.tpl, r.Email, list, listToken)
		metrics.CampaignSendDuration.Observe(time.Since(start).Seconds())

		if sendErr != nil && ctx.Err() != nil {
			// Interrupted mid-send: the recipient stays pending.
			e.stopped(ctx, log)
			return
		}

		if sendErr == nil {
			e.recordSent(ctx, rlog, campaignID, &j.tpl, r.Email, messageID)
			e.update(ctx, func(st *State) {
				st.SentEmails = append(st.SentEmails, r.Email)
				st.CurrentIndex = index
			})
			e.notify(EventSent, Progress{CampaignID: campaignID, Index: index, Total: total, Email: r.Email, MessageID: messageID})
			e.setStatus(ctx, rlog, list, r.Email, recipients.StatusSent)
		} else {
			e.recordFailed(ctx, rlog, campaignID, &j.tpl, r.Email, sendErr)
			e.update(ctx, func(st *State) { st.CurrentIndex = index })
			e.notify(EventFailed, Progress{CampaignID: campaignID, Index: index, Total: total, Email: r.Email, Error: sendErr.Error()})
			e.setStatus(ctx, rlog, list, r.Email, recipients.FailedStatus(sendErr.Error()))
		}

		if i < len(j.recipients)-1 {
			if err := e.deps.Sleeper.Sleep(ctx, e.cfg.RateLimit); err != nil {
				e.stopped(ctx, log)
				return
			}
		}
	}

	st := e.update(ctx, func(st *State) {
		now := e.deps.Clock.Now().UTC()
		st.Status = StatusComplete
		st.CompletedAt = &now
	})
	e.notifyComplete(ctx, st)
}

// send renders and delivers one message. A panic while rendering or sending
// is reported as an error for this recipient only.
func (e *Engine) send(ctx context.Context, tpl *templates.Template, email, list, listToken string) (messageID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("campaign: render/send panic: %v", r)
		}
	}()

	msg := e.deps.Renderer.Render(tpl, email, list)
	return e.deps.Transport.Send(ctx, &transport.Message{
		To:             email,
		Subject:        tpl.Subject,
		HTML:           msg.HTML,
		Text:           msg.Text,
		UnsubscribeURL: msg.UnsubscribeURL,
	})
}

func (e *Engine) recordSent(ctx context.Context, log zerolog.Logger, campaignID string, tpl *templates.Template, email, messageID string) {
	metrics.CampaignEmailsTotal.WithLabelValues("sent").Inc()
	log.Info().Str("message_id", messageID).Msg("email sent")

	_, err := e.deps.Log.Append(context.WithoutCancel(ctx), sendlog.Entry{
		CampaignID: campaignID,
		Email:      email,
		Subject:    tpl.Subject,
		Timestamp:  e.deps.Clock.Now().UTC(),
		Status:     sendlog.StatusSent,
		MessageID:  messageID,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to append send log entry")
	}
}

func (e *Engine) recordFailed(ctx context.Context, log zerolog.Logger, campaignID string, tpl *templates.Template, email string, sendErr error) {
	metrics.CampaignEmailsTotal.WithLabelValues("failed").Inc()
	log.Warn().Err(sendErr).Bool("permanent", transport.IsPermanent(sendErr)).Msg("email failed")

	_, err := e.deps.Log.Append(context.WithoutCancel(ctx), sendlog.Entry{
		CampaignID: campaignID,
		Email:      email,
		Subject:    tpl.Subject,
		Timestamp:  e.deps.Clock.Now().UTC(),
		Status:     sendlog.StatusFailed,
		Error:      sendErr.Error(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to append send log entry")
	}
}

// setStatus writes the outcome back to the recipient store. Failures are
// logged and never stop the loop.
func (e *Engine) setStatus(ctx context.Context, log zerolog.Logger, list, email, status string) {
	if err := e.deps.Recipients.UpdateStatusByEmail(context.WithoutCancel(ctx), list, email, status); err != nil {
		log.Warn().Err(err).Str("status", status).Msg("failed to update recipient status")
	}
}

// waitQuietHours suspends until the clock is outside the quiet window,
// re-checking after every wait.
func (e *Engine) waitQuietHours(ctx context.Context, log zerolog.Logger) error {
	paused := false
	for {
		now := e.deps.Clock.Now()
		if !e.cfg.QuietHours.Contains(now) {
			break
		}
		remaining := e.cfg.QuietHours.Remaining(now)
		resumeAt := now.Add(remaining).UTC()

		st := e.update(ctx, func(st *State) {
			pausedAt := now.UTC()
			st.Status = StatusPausedQuietHours
			st.PausedAt = &pausedAt
		})
		metrics.CampaignPausesTotal.Inc()
		log.Info().Dur("remaining", remaining).Time("resume_at", resumeAt).Msg("quiet hours, pausing")
		e.notify(EventPaused, Pause{CampaignID: st.CampaignID, ResumeAt: resumeAt, Seconds: int(remaining.Seconds())})

		if err := e.deps.Sleeper.Sleep(ctx, remaining); err != nil {
			return err
		}
		paused = true
	}

	if paused {
		st := e.update(ctx, func(st *State) {
			resumedAt := e.deps.Clock.Now().UTC()
			st.Status = StatusRunning
			st.ResumedAt = &resumedAt
		})
		log.Info().Msg("quiet hours over, resuming")
		e.notify(EventResumed, Progress{CampaignID: st.CampaignID, Index: st.CurrentIndex, Total: st.TotalRecipients})
	}
	return ctx.Err()
}

// stopped handles a cancelled loop context according to why it was
// cancelled.
func (e *Engine) stopped(ctx context.Context, log zerolog.Logger) {
	e.mu.Lock()
	reason := e.reason
	e.mu.Unlock()

	switch reason {
	case stopCancel:
		st := e.update(ctx, func(st *State) {
			now := e.deps.Clock.Now().UTC()
			st.Status = StatusCancelled
			st.CancelledAt = &now
		})
		log.Info().Msg("campaign cancelled")
		e.notify(EventCancelled, Progress{CampaignID: st.CampaignID, Index: st.CurrentIndex, Total: st.TotalRecipients})
	case stopComplete:
		st := e.update(ctx, func(st *State) {
			now := e.deps.Clock.Now().UTC()
			st.Status = StatusComplete
			st.CompletedAt = &now
		})
		e.notifyComplete(ctx, st)
	default:
		st := e.update(ctx, func(*State) {})
		log.Info().Str("status", string(st.Status)).Msg("send loop stopped, campaign left resumable")
	}
}

// skip advances past a recipient that must not be sent to. No log entry is
// written.
func (e *Engine) skip(ctx context.Context, campaignID string, index, total int, email string) {
	metrics.CampaignEmailsTotal.WithLabelValues("skipped").Inc()
	e.update(ctx, func(st *State) { st.CurrentIndex = index })
	e.notify(EventSkipped, Progress{CampaignID: campaignID, Index: index, Total: total, Email: email})
}
