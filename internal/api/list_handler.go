package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mailrunner/internal/recipients"
)

type listResponse struct {
	Summary    recipients.ListInfo    `json:"summary"`
	Recipients []recipients.Recipient `json:"recipients"`
}

// listRequest replaces a list's addresses. Existing statuses of retained
// addresses are kept.
type listRequest struct {
	Emails []string `json:"emails"`
}

// ListListsHandler handles GET /api/v1/lists.
func ListListsHandler(store recipients.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lists, err := store.Lists(r.Context())
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		if lists == nil {
			lists = []recipients.ListInfo{}
		}
		respondJSON(w, http.StatusOK, lists)
	}
}

// GetListHandler handles GET /api/v1/lists/{name}.
func GetListHandler(store recipients.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		rs, err := store.ListAll(r.Context(), name)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, listResponse{Summary: recipients.Summarize(name, rs), Recipients: rs})
	}
}

// PendingListHandler handles GET /api/v1/lists/{name}/pending.
func PendingListHandler(store recipients.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := store.ListPending(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, rs)
	}
}

// PutListHandler handles PUT /api/v1/lists/{name}.
func PutListHandler(store recipients.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		var req listRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var invalid []string
		for _, e := range req.Emails {
			if !strings.Contains(strings.TrimSpace(e), "@") {
				invalid = append(invalid, "invalid email address: "+e)
			}
		}
		if len(invalid) > 0 {
			respondValidationErrors(w, invalid)
			return
		}

		rs, err := store.Replace(r.Context(), name, req.Emails)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, listResponse{Summary: recipients.Summarize(name, rs), Recipients: rs})
	}
}

// DeleteListHandler handles DELETE /api/v1/lists/{name}.
func DeleteListHandler(store recipients.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
			respondServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
