package api

import (
	"net/http"

	"github.com/sungwon/mailrunner/internal/logger"
	"github.com/sungwon/mailrunner/internal/transport"
)

// VerifySMTPHandler handles POST /api/v1/smtp/verify.
// Returns 200 when the relay accepts a connection, 503 otherwise.
func VerifySMTPHandler(t transport.Transport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := t.Verify(r.Context()); err != nil {
			log := logger.FromContext(r.Context())
			log.Warn().Err(err).Str("transport", t.Name()).Msg("transport verification failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":    "unreachable",
				"transport": t.Name(),
				"error":     err.Error(),
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "transport": t.Name()})
	}
}
