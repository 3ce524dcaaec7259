package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sungwon/mailrunner/internal/campaign"
)

// CampaignRunner is the part of the campaign engine the HTTP layer drives.
type CampaignRunner interface {
	Start(ctx context.Context, req campaign.StartRequest) (*campaign.State, error)
	Resume(ctx context.Context) (*campaign.State, error)
	Cancel(ctx context.Context) (*campaign.State, error)
	MarkComplete(ctx context.Context) (*campaign.State, error)
	Current(ctx context.Context) (*campaign.State, error)
	Running() bool
}

// campaignResponse wraps the state with whether the loop is live in this
// process.
type campaignResponse struct {
	State   *campaign.State `json:"state"`
	Running bool            `json:"running"`
}

// StartCampaignHandler handles POST /api/v1/campaigns.
// The send loop runs in the background; the response only confirms it began.
func StartCampaignHandler(runner CampaignRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req campaign.StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var errs []string
		if strings.TrimSpace(req.TemplateID) == "" {
			errs = append(errs, "templateId is required")
		}
		if strings.TrimSpace(req.List) == "" {
			errs = append(errs, "list is required")
		}
		if len(errs) > 0 {
			respondValidationErrors(w, errs)
			return
		}

		st, err := runner.Start(r.Context(), req)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusAccepted, campaignResponse{State: st, Running: runner.Running()})
	}
}

// CurrentCampaignHandler handles GET /api/v1/campaigns/current.
func CurrentCampaignHandler(runner CampaignRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := runner.Current(r.Context())
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, campaignResponse{State: st, Running: runner.Running()})
	}
}

// ResumeCampaignHandler handles POST /api/v1/campaigns/resume.
// Inside quiet hours it answers 409 with the remaining wait.
func ResumeCampaignHandler(runner CampaignRunner) http.HandlerFunc {
	return campaignAction(runner, runner.Resume, http.StatusAccepted)
}

// CancelCampaignHandler handles POST /api/v1/campaigns/cancel.
func CancelCampaignHandler(runner CampaignRunner) http.HandlerFunc {
	return campaignAction(runner, runner.Cancel, http.StatusOK)
}

// CompleteCampaignHandler handles POST /api/v1/campaigns/complete.
func CompleteCampaignHandler(runner CampaignRunner) http.HandlerFunc {
	return campaignAction(runner, runner.MarkComplete, http.StatusOK)
}

func campaignAction(runner CampaignRunner, action func(context.Context) (*campaign.State, error), status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := action(r.Context())
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, status, campaignResponse{State: st, Running: runner.Running()})
	}
}
