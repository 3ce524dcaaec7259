package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mailrunner/internal/render"
	"github.com/sungwon/mailrunner/internal/templates"
)

// TemplateStore is the template CRUD the handlers need.
type TemplateStore interface {
	List(ctx context.Context) ([]templates.Template, error)
	Get(ctx context.Context, id string) (*templates.Template, error)
	Create(ctx context.Context, t templates.Template) (*templates.Template, error)
	Update(ctx context.Context, id string, t templates.Template) (*templates.Template, error)
	Delete(ctx context.Context, id string) error
}

// templateRequest is the JSON body for creating or updating a template.
type templateRequest struct {
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	OptOutLang  string `json:"optOutLang"`
}

func (req templateRequest) template() templates.Template {
	return templates.Template{
		Name:        req.Name,
		Subject:     req.Subject,
		ContentType: req.ContentType,
		Content:     req.Content,
		OptOutLang:  req.OptOutLang,
	}
}

// decodeTemplate reads and validates the request body. It writes the error
// response itself and reports false on failure.
func decodeTemplate(w http.ResponseWriter, r *http.Request) (templates.Template, bool) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return templates.Template{}, false
	}
	t := req.template()
	if err := t.Validate(); err != nil {
		respondValidationErrors(w, validationDetails(err))
		return templates.Template{}, false
	}
	return t, true
}

// ListTemplatesHandler handles GET /api/v1/templates.
func ListTemplatesHandler(store TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := store.List(r.Context())
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, ts)
	}
}

// GetTemplateHandler handles GET /api/v1/templates/{id}.
func GetTemplateHandler(store TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, t)
	}
}

// CreateTemplateHandler handles POST /api/v1/templates.
func CreateTemplateHandler(store TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := decodeTemplate(w, r)
		if !ok {
			return
		}
		created, err := store.Create(r.Context(), t)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, created)
	}
}

// UpdateTemplateHandler handles PUT /api/v1/templates/{id}.
func UpdateTemplateHandler(store TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := decodeTemplate(w, r)
		if !ok {
			return
		}
		updated, err := store.Update(r.Context(), chi.URLParam(r, "id"), t)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, updated)
	}
}

// DeleteTemplateHandler handles DELETE /api/v1/templates/{id}.
func DeleteTemplateHandler(store TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			respondServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type previewResponse struct {
	Subject        string `json:"subject"`
	HTML           string `json:"html"`
	Text           string `json:"text"`
	UnsubscribeURL string `json:"unsubscribeUrl"`
}

// PreviewTemplateHandler handles GET /api/v1/templates/{id}/preview.
// ?email= and ?list= fill in the recipient; both have placeholders.
func PreviewTemplateHandler(store TemplateStore, renderer *render.Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, r, err)
			return
		}

		email := r.URL.Query().Get("email")
		if email == "" {
			email = "preview@example.com"
		}
		list := r.URL.Query().Get("list")
		if list == "" {
			list = "preview"
		}

		msg := renderer.Render(t, email, list)
		respondJSON(w, http.StatusOK, previewResponse{
			Subject:        t.Subject,
			HTML:           msg.HTML,
			Text:           msg.Text,
			UnsubscribeURL: msg.UnsubscribeURL,
		})
	}
}
