// Package campaign drives the sequential, rate-limited and resumable send
// loop over a recipient list.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailrunner/internal/metrics"
	"github.com/sungwon/mailrunner/internal/recipients"
	"github.com/sungwon/mailrunner/internal/render"
	"github.com/sungwon/mailrunner/internal/sendlog"
	"github.com/sungwon/mailrunner/internal/templates"
	"github.com/sungwon/mailrunner/internal/transport"
)

// TemplateSource looks up templates by id.
type TemplateSource interface {
	Get(ctx context.Context, id string) (*templates.Template, error)
}

// Notifier receives progress events.
type Notifier interface {
	Broadcast(name string, data any)
}

// Deps are the collaborators the engine calls into.
type Deps struct {
	Recipients recipients.Store
	Templates  TemplateSource
	Transport  transport.Transport
	Renderer   *render.Renderer
	Log        sendlog.Store
	States     *StateStore
	Notifier   Notifier

	// Clock and Sleeper default to the wall clock and a timer.
	Clock   Clock
	Sleeper Sleeper
}

// Config holds the send loop timing.
type Config struct {
	RateLimit  time.Duration
	QuietHours QuietHours
}

// StartRequest selects the template and recipients of a new campaign.
type StartRequest struct {
	TemplateID string   `json:"templateId"`
	List       string   `json:"list"`
	Emails     []string `json:"emails,omitempty"`
}

type stopReason int

const (
	stopNone stopReason = iota
	stopShutdown
	stopCancel
	stopComplete
)

// Engine owns the single campaign send loop. At most one loop runs at a
// time; the loop goroutine belongs to the engine, not to the request that
// started it.
type Engine struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger

	mu     sync.Mutex
	state  *State
	cancel context.CancelFunc
	done   chan struct{}
	reason stopReason
}

// New creates an Engine.
func New(deps Deps, cfg Config, log zerolog.Logger) *Engine {
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.Sleeper == nil {
		deps.Sleeper = timerSleeper{}
	}
	return &Engine{
		deps: deps,
		cfg:  cfg,
		log:  log.With().Str("component", "campaign_engine").Logger(),
	}
}

// job is the snapshot one loop run works from.
type job struct {
	tpl        templates.Template
	recipients []recipients.Recipient
	// base is the number of recipients handled before this run.
	base int
}

// Start validates the request, persists a fresh state and launches the send
// loop. Precondition failures are returned before anything is sent.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureIdle(ctx); err != nil {
		return nil, err
	}

	tpl, err := e.template(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	all, err := e.deps.Recipients.ListAll(ctx, req.List)
	if err != nil {
		if errors.Is(err, recipients.ErrNotFound) {
			return nil, fmt.Errorf("%w: list %q", ErrNoRecipients, req.List)
		}
		return nil, fmt.Errorf("campaign: load recipients: %w", err)
	}
	selected := selectRecipients(all, req.Emails)
	if len(selected) == 0 {
		return nil, ErrNoRecipients
	}

	if err := e.deps.Transport.Verify(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	rows := make([]int, len(selected))
	for i, r := range selected {
		rows[i] = r.Row
	}
	if err := e.deps.Recipients.ResetStatus(ctx, req.List, rows); err != nil {
		return nil, fmt.Errorf("campaign: reset recipient status: %w", err)
	}

	st := &State{
		CampaignID:      uuid.NewString(),
		TemplateID:      tpl.ID,
		ListRef:         req.List,
		OptOutLang:      tpl.OptOutLang,
		TotalRecipients: len(selected),
		SentEmails:      []string{},
		Status:          StatusRunning,
		StartedAt:       e.deps.Clock.Now().UTC(),
	}
	if len(req.Emails) > 0 {
		for _, r := range selected {
			st.Selection = append(st.Selection, recipients.NormalizeEmail(r.Email))
		}
	}
	if err := e.deps.States.Save(ctx, st); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("campaign_id", st.CampaignID).
		Str("template_id", tpl.ID).
		Str("list", req.List).
		Int("total", st.TotalRecipients).
		Msg("campaign started")
	e.notify(EventStarted, Progress{CampaignID: st.CampaignID, Total: st.TotalRecipients})

	e.launch(st, job{tpl: *tpl, recipients: selected})
	return st.clone(), nil
}

// Resume continues the persisted campaign with the recipients the store
// still reports as pending. It refuses to run inside quiet hours.
func (e *Engine) Resume(ctx context.Context) (*State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done != nil {
		return nil, ErrCampaignActive
	}
	st, err := e.deps.States.Load(ctx)
	if err != nil {
		return nil, err
	}
	if st.Status == StatusComplete {
		e.notifyComplete(ctx, st)
		return st, nil
	}

	now := e.deps.Clock.Now()
	if e.cfg.QuietHours.Contains(now) {
		return nil, &QuietHoursError{Remaining: e.cfg.QuietHours.Remaining(now)}
	}

	tpl, err := e.template(ctx, st.TemplateID)
	if err != nil {
		return nil, err
	}

	pending, err := e.deps.Recipients.ListPending(ctx, st.ListRef)
	if err != nil {
		return nil, fmt.Errorf("campaign: load pending recipients: %w", err)
	}
	pending = selectRecipients(pending, st.Selection)

	if len(pending) == 0 {
		completed := now.UTC()
		st.Status = StatusComplete
		st.CompletedAt = &completed
		if err := e.deps.States.Save(ctx, st); err != nil {
			return nil, err
		}
		e.log.Info().Str("campaign_id", st.CampaignID).Msg("nothing pending, campaign complete")
		e.notifyComplete(ctx, st)
		return st, nil
	}

	if err := e.deps.Transport.Verify(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	resumed := now.UTC()
	base := st.TotalRecipients - len(pending)
	if base < 0 {
		st.TotalRecipients = len(pending)
		base = 0
	}
	st.Status = StatusRunning
	st.ResumedAt = &resumed
	st.CurrentIndex = base
	if err := e.deps.States.Save(ctx, st); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("campaign_id", st.CampaignID).
		Int("pending", len(pending)).
		Msg("campaign resumed")
	e.notify(EventResumed, Progress{CampaignID: st.CampaignID, Index: base, Total: st.TotalRecipients})

	e.launch(st, job{tpl: *tpl, recipients: pending, base: base})
	return st.clone(), nil
}

// Cancel stops the running loop, interrupting any wait, and marks the
// campaign cancelled. A cancelled campaign can be resumed later.
func (e *Engine) Cancel(ctx context.Context) (*State, error) {
	if e.stop(stopCancel) {
		return e.Current(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.deps.States.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoState) {
			return nil, ErrNotRunning
		}
		return nil, err
	}
	if !st.Active() {
		return nil, ErrNotRunning
	}
	e.finish(ctx, st, StatusCancelled)
	return st, nil
}

// MarkComplete ends the campaign regardless of remaining recipients.
func (e *Engine) MarkComplete(ctx context.Context) (*State, error) {
	if e.stop(stopComplete) {
		return e.Current(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.deps.States.Load(ctx)
	if err != nil {
		return nil, err
	}
	if st.Status != StatusComplete {
		e.finish(ctx, st, StatusComplete)
	}
	return st, nil
}

// Current returns the live state of the running campaign, or the persisted
// one when no loop is running.
func (e *Engine) Current(ctx context.Context) (*State, error) {
	e.mu.Lock()
	if e.state != nil {
		st := e.state.clone()
		e.mu.Unlock()
		return st, nil
	}
	e.mu.Unlock()
	return e.deps.States.Load(ctx)
}

// Running reports whether the send loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done != nil
}

// Wait blocks until the current loop, if any, has exited.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Shutdown stops the loop without changing the persisted status, so that a
// later Resume picks up where it left off.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	if done == nil {
		e.mu.Unlock()
		return nil
	}
	e.reason = stopShutdown
	e.cancel()
	e.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop signals the loop and waits for it. It reports false when no loop was
// running.
func (e *Engine) stop(reason stopReason) bool {
	e.mu.Lock()
	done := e.done
	if done == nil {
		e.mu.Unlock()
		return false
	}
	e.reason = reason
	e.cancel()
	e.mu.Unlock()

	<-done
	return true
}

// ensureIdle rejects a start while a loop runs or the persisted campaign is
// still active. Caller holds e.mu.
func (e *Engine) ensureIdle(ctx context.Context) error {
	if e.done != nil {
		return ErrCampaignActive
	}
	st, err := e.deps.States.Load(ctx)
	switch {
	case errors.Is(err, ErrNoState):
		return nil
	case err != nil:
		return err
	case st.Active():
		return ErrCampaignActive
	}
	return nil
}

func (e *Engine) template(ctx context.Context, id string) (*templates.Template, error) {
	tpl, err := e.deps.Templates.Get(ctx, id)
	if err != nil {
		if errors.Is(err, templates.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
		return nil, fmt.Errorf("campaign: load template: %w", err)
	}
	return tpl, nil
}

// launch starts the loop goroutine. Caller holds e.mu.
func (e *Engine) launch(st *State, j job) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.state = st.clone()
	e.cancel = cancel
	e.done = done
	e.reason = stopNone
	metrics.CampaignActive.Set(1)

	go func() {
		defer close(done)
		defer cancel()

		e.run(ctx, j)

		e.mu.Lock()
		e.state = nil
		e.cancel = nil
		e.done = nil
		e.mu.Unlock()
		metrics.CampaignActive.Set(0)
	}()
}

// update applies fn to the live state and persists the result.
func (e *Engine) update(ctx context.Context, fn func(*State)) *State {
	e.mu.Lock()
	fn(e.state)
	snapshot := e.state.clone()
	e.mu.Unlock()

	if err := e.deps.States.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		e.log.Error().Err(err).Str("campaign_id", snapshot.CampaignID).Msg("failed to persist campaign state")
	}
	return snapshot
}

// finish moves a campaign that has no running loop into a terminal status.
// Caller holds e.mu.
func (e *Engine) finish(ctx context.Context, st *State, status Status) {
	now := e.deps.Clock.Now().UTC()
	st.Status = status
	switch status {
	case StatusComplete:
		st.CompletedAt = &now
	case StatusCancelled:
		st.CancelledAt = &now
	}
	if err := e.deps.States.Save(ctx, st); err != nil {
		e.log.Error().Err(err).Str("campaign_id", st.CampaignID).Msg("failed to persist campaign state")
	}

	if status == StatusComplete {
		e.notifyComplete(ctx, st)
		return
	}
	e.log.Info().Str("campaign_id", st.CampaignID).Msg("campaign cancelled")
	e.notify(EventCancelled, Progress{CampaignID: st.CampaignID, Index: st.CurrentIndex, Total: st.TotalRecipients})
}

func (e *Engine) notify(name string, data any) {
	if e.deps.Notifier != nil {
		e.deps.Notifier.Broadcast(name, data)
	}
}

func (e *Engine) notifyComplete(ctx context.Context, st *State) {
	c := Completion{CampaignID: st.CampaignID, Total: st.TotalRecipients}
	entries, err := e.deps.Log.Recent(context.WithoutCancel(ctx), 0)
	if err != nil {
		e.log.Warn().Err(err).Str("campaign_id", st.CampaignID).Msg("failed to read send log for summary")
	} else {
		sum := sendlog.Summarize(entries, st.CampaignID)
		c.Sent = sum.Sent
		c.Failed = sum.Failed
	}
	e.log.Info().
		Str("campaign_id", st.CampaignID).
		Int("sent", c.Sent).
		Int("failed", c.Failed).
		Msg("campaign complete")
	e.notify(EventComplete, c)
}

// selectRecipients drops unsubscribed recipients and, when emails is not
// empty, keeps only the listed addresses.
func selectRecipients(all []recipients.Recipient, emails []string) []recipients.Recipient {
	var want map[string]bool
	if len(emails) > 0 {
		want = make(map[string]bool, len(emails))
		for _, e := range emails {
			want[recipients.NormalizeEmail(e)] = true
		}
	}

	out := make([]recipients.Recipient, 0, len(all))
	for _, r := range all {
		if r.IsUnsubscribed() {
			continue
		}
		if want != nil && !want[recipients.NormalizeEmail(r.Email)] {
			continue
		}
		out = append(out, r)
	}
	return out
}
