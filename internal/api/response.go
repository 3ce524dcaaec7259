package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sungwon/mailrunner/internal/campaign"
	"github.com/sungwon/mailrunner/internal/logger"
	"github.com/sungwon/mailrunner/internal/recipients"
	"github.com/sungwon/mailrunner/internal/templates"
)

// respondJSON writes a JSON response with the given status code and data.
// If data is nil, only the status code and Content-Type header are written.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondValidationErrors writes a 400 response with a list of validation error details.
func respondValidationErrors(w http.ResponseWriter, errs []string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":   "validation_failed",
		"details": errs,
	})
}

// validationDetails flattens a joined validation error into its messages.
func validationDetails(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var details []string
		for _, e := range joined.Unwrap() {
			details = append(details, e.Error())
		}
		return details
	}
	return []string{err.Error()}
}

// respondServiceError maps domain errors to HTTP status codes. Anything
// unrecognised is logged and reported as a 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var quiet *campaign.QuietHoursError
	switch {
	case errors.As(err, &quiet):
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":            err.Error(),
			"remainingSeconds": int(quiet.Remaining.Seconds()),
		})
	case errors.Is(err, campaign.ErrCampaignActive), errors.Is(err, campaign.ErrNotRunning):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaign.ErrNoRecipients), errors.Is(err, campaign.ErrTemplateNotFound):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, campaign.ErrTransportUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, campaign.ErrNoState),
		errors.Is(err, templates.ErrNotFound),
		errors.Is(err, recipients.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
