package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailrunner/internal/blobstore"
	"github.com/sungwon/mailrunner/internal/campaign"
	"github.com/sungwon/mailrunner/internal/notify"
	"github.com/sungwon/mailrunner/internal/recipients"
	"github.com/sungwon/mailrunner/internal/render"
	"github.com/sungwon/mailrunner/internal/sendlog"
	"github.com/sungwon/mailrunner/internal/templates"
	"github.com/sungwon/mailrunner/internal/transport"
)

// fakeRunner records calls and returns canned results.
type fakeRunner struct {
	mu       sync.Mutex
	started  []campaign.StartRequest
	state    *campaign.State
	err      error
	running  bool
	resumed  int
	canceled int
}

func (f *fakeRunner) Start(_ context.Context, req campaign.StartRequest) (*campaign.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	if f.err != nil {
		return nil, f.err
	}
	f.running = true
	return &campaign.State{CampaignID: "c-1", TemplateID: req.TemplateID, ListRef: req.List, Status: campaign.StatusRunning}, nil
}

func (f *fakeRunner) Resume(context.Context) (*campaign.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed++
	return f.state, f.err
}

func (f *fakeRunner) Cancel(context.Context) (*campaign.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled++
	return f.state, f.err
}

func (f *fakeRunner) MarkComplete(context.Context) (*campaign.State, error) {
	return f.state, f.err
}

func (f *fakeRunner) Current(context.Context) (*campaign.State, error) {
	return f.state, f.err
}

func (f *fakeRunner) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fakeTransport struct {
	verifyErr error
}

func (f *fakeTransport) Name() string                 { return "fake" }
func (f *fakeTransport) Verify(context.Context) error { return f.verifyErr }
func (f *fakeTransport) Send(context.Context, *transport.Message) (string, error) {
	return "<id@example.com>", nil
}

type testServer struct {
	router     http.Handler
	runner     *fakeRunner
	transport  *fakeTransport
	recipients *recipients.JSONStore
	templates  *templates.Store
	log        *sendlog.BlobStore
	hub        *notify.Hub
	renderer   *render.Renderer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	blobs, err := blobstore.NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	s := &testServer{
		runner:     &fakeRunner{},
		transport:  &fakeTransport{},
		recipients: recipients.NewJSONStore(blobs),
		templates:  templates.NewStore(blobs),
		log:        sendlog.NewBlobStore(blobs),
		hub:        notify.NewHub(),
		renderer:   render.NewRenderer("https://mail.example.com"),
	}
	s.router = NewRouter(RouterConfig{
		Campaigns:   s.runner,
		Templates:   s.templates,
		Recipients:  s.recipients,
		Log:         s.log,
		Transport:   s.transport,
		Renderer:    s.renderer,
		Events:      s.hub,
		Logger:      zerolog.Nop(),
		LogLimit:    100,
		CORSOrigins: []string{"http://localhost:5173"},
	})
	return s
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v; body: %s", err, rec.Body.String())
	}
}

func TestStartCampaign(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/campaigns", `{"templateId":"t-1","list":"news","emails":["a@x.com"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d; body: %s", rec.Code, rec.Body.String())
	}

	var resp campaignResponse
	decode(t, rec, &resp)
	if resp.State.CampaignID != "c-1" || !resp.Running {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(s.runner.started) != 1 || s.runner.started[0].List != "news" || len(s.runner.started[0].Emails) != 1 {
		t.Errorf("unexpected start request %+v", s.runner.started)
	}
}

func TestStartCampaign_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/campaigns", `{"list":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	var resp map[string]any
	decode(t, rec, &resp)
	if details, _ := resp["details"].([]any); len(details) != 2 {
		t.Errorf("expected 2 validation details, got %v", resp["details"])
	}
	if len(s.runner.started) != 0 {
		t.Error("runner should not be called for invalid requests")
	}
}

func TestCampaignErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"active campaign", campaign.ErrCampaignActive, http.MethodPost, "/api/v1/campaigns", `{"templateId":"t","list":"l"}`, http.StatusConflict},
		{"no recipients", campaign.ErrNoRecipients, http.MethodPost, "/api/v1/campaigns", `{"templateId":"t","list":"l"}`, http.StatusUnprocessableEntity},
		{"missing template", campaign.ErrTemplateNotFound, http.MethodPost, "/api/v1/campaigns", `{"templateId":"t","list":"l"}`, http.StatusUnprocessableEntity},
		{"relay down", campaign.ErrTransportUnavailable, http.MethodPost, "/api/v1/campaigns", `{"templateId":"t","list":"l"}`, http.StatusServiceUnavailable},
		{"nothing to cancel", campaign.ErrNotRunning, http.MethodPost, "/api/v1/campaigns/cancel", "", http.StatusConflict},
		{"no state", campaign.ErrNoState, http.MethodGet, "/api/v1/campaigns/current", "", http.StatusNotFound},
		{"storage failure", errors.New("disk full"), http.MethodPost, "/api/v1/campaigns/resume", "", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.runner.err = tt.err

			rec := s.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d; body: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestResumeCampaign_QuietHours(t *testing.T) {
	s := newTestServer(t)
	s.runner.err = &campaign.QuietHoursError{Remaining: 90 * time.Minute}

	rec := s.do(t, http.MethodPost, "/api/v1/campaigns/resume", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
	var resp map[string]any
	decode(t, rec, &resp)
	if resp["remainingSeconds"] != float64(5400) {
		t.Errorf("expected remainingSeconds 5400, got %v", resp["remainingSeconds"])
	}
}

func TestCurrentCampaign(t *testing.T) {
	s := newTestServer(t)
	s.runner.state = &campaign.State{CampaignID: "c-9", Status: campaign.StatusPausedQuietHours, TotalRecipients: 4, CurrentIndex: 2}

	rec := s.do(t, http.MethodGet, "/api/v1/campaigns/current", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp campaignResponse
	decode(t, rec, &resp)
	if resp.State.CampaignID != "c-9" || resp.State.CurrentIndex != 2 || resp.Running {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestTemplatesCRUD(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/templates",
		`{"name":"Spring","subject":"Sale","contentType":"text","content":"Hi <b>there</b>\nSee https://shop.example.com","optOutLang":"de"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d; body: %s", rec.Code, rec.Body.String())
	}
	var created templates.Template
	decode(t, rec, &created)
	if created.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	rec = s.do(t, http.MethodPut, "/api/v1/templates/"+created.ID,
		`{"name":"Spring","subject":"Big sale","contentType":"text","content":"Hi","optOutLang":"de"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/templates/"+created.ID, "")
	var got templates.Template
	decode(t, rec, &got)
	if got.Subject != "Big sale" {
		t.Errorf("expected updated subject, got %q", got.Subject)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/templates", "")
	var list []templates.Template
	decode(t, rec, &list)
	if len(list) != 1 {
		t.Errorf("expected 1 template, got %d", len(list))
	}

	rec = s.do(t, http.MethodDelete, "/api/v1/templates/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/templates/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 after delete, got %d", rec.Code)
	}
}

func TestCreateTemplate_Invalid(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/templates", `{"name":"","subject":"","contentType":"pdf"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	var resp struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	decode(t, rec, &resp)
	if resp.Error != "validation_failed" || len(resp.Details) != 3 {
		t.Errorf("unexpected validation response %+v", resp)
	}
}

func TestPreviewTemplate(t *testing.T) {
	s := newTestServer(t)
	tpl, err := s.templates.Create(context.Background(), templates.Template{
		Name: "Spring", Subject: "Sale", ContentType: templates.ContentText,
		Content: "Hello\nWorld", OptOutLang: "en",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/templates/"+tpl.ID+"/preview?email=bob@x.com&list=vip", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp previewResponse
	decode(t, rec, &resp)
	if !strings.Contains(resp.HTML, "Hello<br>World") {
		t.Errorf("preview html missing body: %s", resp.HTML)
	}
	if !strings.Contains(resp.UnsubscribeURL, "e=bob%40x.com") {
		t.Errorf("unexpected unsubscribe url %q", resp.UnsubscribeURL)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/templates/missing/preview", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown template, got %d", rec.Code)
	}
}

func TestLists(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/lists/news", `{"emails":["a@x.com","B@x.com","a@x.com"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d; body: %s", rec.Code, rec.Body.String())
	}
	var put listResponse
	decode(t, rec, &put)
	if put.Summary.Total != 2 || put.Summary.Pending != 2 {
		t.Errorf("unexpected summary %+v", put.Summary)
	}

	if err := s.recipients.UpdateStatus(context.Background(), "news", 0, recipients.StatusSent); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/lists/news/pending", "")
	var pending []recipients.Recipient
	decode(t, rec, &pending)
	if len(pending) != 1 || pending[0].Email != "B@x.com" {
		t.Errorf("unexpected pending %+v", pending)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/lists", "")
	var infos []recipients.ListInfo
	decode(t, rec, &infos)
	if len(infos) != 1 || infos[0].Name != "news" || infos[0].Sent != 1 {
		t.Errorf("unexpected lists %+v", infos)
	}

	rec = s.do(t, http.MethodDelete, "/api/v1/lists/news", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/lists/news", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 after delete, got %d", rec.Code)
	}
}

func TestPutList_InvalidEmail(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/lists/news", `{"emails":["a@x.com","nope"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestLogs(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for _, e := range []sendlog.Entry{
		{CampaignID: "c-1", Email: "a@x.com", Status: sendlog.StatusSent},
		{CampaignID: "c-2", Email: "b@x.com", Status: sendlog.StatusFailed, Error: "550"},
		{CampaignID: "c-1", Email: "c@x.com", Status: sendlog.StatusFailed, Error: "451"},
	} {
		if _, err := s.log.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rec := s.do(t, http.MethodGet, "/api/v1/logs?limit=2", "")
	var recent logsResponse
	decode(t, rec, &recent)
	if len(recent.Entries) != 2 || recent.Entries[0].Email != "b@x.com" || recent.Summary != nil {
		t.Errorf("unexpected recent logs %+v", recent)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/logs?campaignId=c-1", "")
	var filtered logsResponse
	decode(t, rec, &filtered)
	if len(filtered.Entries) != 2 || filtered.Summary == nil || filtered.Summary.Sent != 1 || filtered.Summary.Failed != 1 {
		t.Errorf("unexpected filtered logs %+v", filtered)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/logs?limit=x", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad limit, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/api/v1/logs", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/logs", "")
	var cleared logsResponse
	decode(t, rec, &cleared)
	if len(cleared.Entries) != 0 {
		t.Errorf("expected empty log after clear, got %d entries", len(cleared.Entries))
	}
}

func TestVerifySMTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/smtp/verify", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	s.transport.verifyErr = errors.New("dial tcp: connection refused")
	rec = s.do(t, http.MethodPost, "/api/v1/smtp/verify", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	var resp map[string]string
	decode(t, rec, &resp)
	if resp["status"] != "unreachable" || resp["transport"] != "fake" {
		t.Errorf("unexpected response %v", resp)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/campaigns", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "campaign_emails_total") && !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected prometheus exposition output")
	}
}
