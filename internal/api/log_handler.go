package api

import (
	"net/http"
	"strconv"

	"github.com/sungwon/mailrunner/internal/sendlog"
)

type logsResponse struct {
	Entries []sendlog.Entry  `json:"entries"`
	Summary *sendlog.Summary `json:"summary,omitempty"`
}

// ListLogsHandler handles GET /api/v1/logs.
// ?limit=N overrides the default window; ?campaignId=X filters and adds a
// summary for that campaign.
func ListLogsHandler(log sendlog.Store, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		campaignID := r.URL.Query().Get("campaignId")
		n := limit
		if campaignID != "" {
			// Filter first, then apply the window.
			n = 0
		}
		entries, err := log.Recent(r.Context(), n)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}

		resp := logsResponse{Entries: entries}
		if campaignID != "" {
			filtered := make([]sendlog.Entry, 0, len(entries))
			for _, e := range entries {
				if e.CampaignID == campaignID {
					filtered = append(filtered, e)
				}
			}
			if limit > 0 && len(filtered) > limit {
				filtered = filtered[len(filtered)-limit:]
			}
			sum := sendlog.Summarize(entries, campaignID)
			resp = logsResponse{Entries: filtered, Summary: &sum}
		}
		if resp.Entries == nil {
			resp.Entries = []sendlog.Entry{}
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// ClearLogsHandler handles DELETE /api/v1/logs.
func ClearLogsHandler(log sendlog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := log.Clear(r.Context()); err != nil {
			respondServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
