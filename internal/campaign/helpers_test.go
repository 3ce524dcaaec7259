package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailrunner/internal/blobstore"
	"github.com/sungwon/mailrunner/internal/recipients"
	"github.com/sungwon/mailrunner/internal/render"
	"github.com/sungwon/mailrunner/internal/sendlog"
	"github.com/sungwon/mailrunner/internal/templates"
	"github.com/sungwon/mailrunner/internal/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSleeper returns immediately and moves the clock forward.
type fakeSleeper struct {
	clock *fakeClock

	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	s.clock.Advance(d)
	return nil
}

func (s *fakeSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// blockingSleeper blocks until the context is cancelled and signals each
// wait on entered.
type blockingSleeper struct {
	entered chan time.Duration
}

func newBlockingSleeper() *blockingSleeper {
	return &blockingSleeper{entered: make(chan time.Duration, 1)}
}

func (s *blockingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case s.entered <- d:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingSleeper) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("send loop never reached a wait")
	}
}

type fakeTransport struct {
	verifyErr error
	// failOn maps a 1-based call number to the error returned for it.
	failOn map[int]error
	onSend func(call int, msg *transport.Message)

	mu    sync.Mutex
	calls int
	sent  []string
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Verify(context.Context) error { return f.verifyErr }

func (f *fakeTransport) Send(_ context.Context, msg *transport.Message) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.onSend != nil {
		f.onSend(call, msg)
	}
	if err := f.failOn[call]; err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.To)
	return fmt.Sprintf("<msg-%d@example.com>", call), nil
}

func (f *fakeTransport) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// failingRecipients fails status writes for every address and lookups for
// the addresses in lookupErr.
type failingRecipients struct {
	recipients.Store

	lookupErr map[string]error

	mu     sync.Mutex
	writes int
}

func (f *failingRecipients) FindByEmail(ctx context.Context, list, email string) (recipients.Recipient, error) {
	if err := f.lookupErr[email]; err != nil {
		return recipients.Recipient{}, err
	}
	return f.Store.FindByEmail(ctx, list, email)
}

func (f *failingRecipients) UpdateStatusByEmail(context.Context, string, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return errors.New("storage unavailable")
}

func (f *failingRecipients) writeAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type recordedEvent struct {
	name string
	data any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Broadcast(name string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, data: data})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

func (r *recorder) last(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].name == name {
			return r.events[i].data, true
		}
	}
	return nil, false
}

type harness struct {
	engine     *Engine
	recipients *recipients.JSONStore
	templates  *templates.Store
	log        *sendlog.BlobStore
	states     *StateStore
	transport  *fakeTransport
	clock      *fakeClock
	events     *recorder
	tplID      string
}

type harnessOption func(*Deps, *Config)

func withSleeper(s Sleeper) harnessOption {
	return func(d *Deps, _ *Config) { d.Sleeper = s }
}

func withRecipients(wrap func(recipients.Store) recipients.Store) harnessOption {
	return func(d *Deps, _ *Config) { d.Recipients = wrap(d.Recipients) }
}

func withoutRenderer() harnessOption {
	return func(d *Deps, _ *Config) { d.Renderer = nil }
}

// newHarness wires an engine over real stores in a temp directory with the
// list "news" holding emails. The clock starts at 10:00 UTC and quiet hours
// run from 21:00 to 08:00.
func newHarness(t *testing.T, emails []string, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	blobs, err := blobstore.NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	h := &harness{
		recipients: recipients.NewJSONStore(blobs),
		templates:  templates.NewStore(blobs),
		log:        sendlog.NewBlobStore(blobs),
		states:     NewStateStore(blobs),
		transport:  &fakeTransport{},
		clock:      &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		events:     &recorder{},
	}

	if _, err := h.recipients.Replace(ctx, "news", emails); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	tpl, err := h.templates.Create(ctx, templates.Template{
		Name:        "Spring",
		Subject:     "Spring sale",
		ContentType: templates.ContentText,
		Content:     "Hello\nWorld",
		OptOutLang:  "en",
	})
	if err != nil {
		t.Fatalf("Create template: %v", err)
	}
	h.tplID = tpl.ID

	deps := Deps{
		Recipients: h.recipients,
		Templates:  h.templates,
		Transport:  h.transport,
		Renderer:   render.NewRenderer("https://mail.example.com"),
		Log:        h.log,
		States:     h.states,
		Notifier:   h.events,
		Clock:      h.clock,
		Sleeper:    &fakeSleeper{clock: h.clock},
	}
	cfg := Config{
		RateLimit:  10 * time.Second,
		QuietHours: QuietHours{Enabled: true, Start: 21, End: 8, Location: time.UTC},
	}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	h.engine = New(deps, cfg, zerolog.Nop())
	t.Cleanup(func() { _ = h.engine.Shutdown(context.Background()) })
	return h
}

func (h *harness) start(t *testing.T) *State {
	t.Helper()
	st, err := h.engine.Start(context.Background(), StartRequest{TemplateID: h.tplID, List: "news"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return st
}

func (h *harness) logStatuses(t *testing.T) []string {
	t.Helper()
	entries, err := h.log.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Email + ":" + e.Status
	}
	return out
}
