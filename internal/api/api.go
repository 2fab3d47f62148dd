package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"formkeep/internal/mapper"
	"formkeep/internal/schema"
	"formkeep/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// maxBodyBytes caps JSON and YAML request bodies.
const maxBodyBytes = 1 << 20

// Uploader stores a generated file and returns where it can be fetched.
type Uploader interface {
	Upload(ctx context.Context, body io.Reader, contentType string, ext string) (string, error)
}

type API struct {
	repo      store.Repository
	logger    *zap.Logger
	validator schema.Validator
	uploader  Uploader
}

type Option func(*API)

func WithLogger(logger *zap.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithValidator replaces the default presence-only record validation.
func WithValidator(v schema.Validator) Option {
	return func(a *API) { a.validator = v }
}

// WithUploader enables uploading record exports. Without it the upload
// endpoint answers 503.
func WithUploader(u Uploader) Option {
	return func(a *API) { a.uploader = u }
}

func New(repo store.Repository, opts ...Option) *API {
	a := &API{repo: repo, logger: zap.NewNop(), validator: schema.Validator{Mode: schema.ModePresence}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", a.healthz)

	r.Route("/templates", func(r chi.Router) {
		r.Get("/", a.listTemplates)
		r.Post("/", a.createTemplate)
		r.Post("/import", a.importTemplate)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getTemplate)
			r.Put("/", a.updateTemplate)
			r.Delete("/", a.deleteTemplate)
			r.Get("/defaults", a.templateDefaults)
			r.Get("/export.yaml", a.exportTemplateYAML)
			r.Get("/records/export.xlsx", a.exportRecords)
			r.Post("/records/export", a.uploadRecordsExport)
		})
	})

	r.Route("/records", func(r chi.Router) {
		r.Get("/", a.listRecords)
		r.Post("/", a.createRecord)
		r.Get("/{id}", a.getRecord)
		r.Put("/{id}", a.updateRecord)
		r.Delete("/{id}", a.deleteRecord)
	})

	return r
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

type errorResponse struct {
	Error   string            `json:"error"`
	Details []string          `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondSchemaError lists every aggregated schema violation.
func respondSchemaError(w http.ResponseWriter, message string, err error) {
	resp := errorResponse{Error: message}
	for _, e := range multierr.Errors(err) {
		resp.Details = append(resp.Details, e.Error())
	}
	respondJSON(w, http.StatusBadRequest, resp)
}

func respondValidation(w http.ResponseWriter, verr *schema.ValidationError) {
	resp := errorResponse{Error: "Record is invalid", Fields: verr.Fields}
	for _, id := range sortedKeys(verr.Fields) {
		resp.Details = append(resp.Details, verr.Fields[id])
	}
	respondJSON(w, http.StatusUnprocessableEntity, resp)
}

// respondStoreError maps repository and value errors to a status. Anything
// unrecognized is logged and reported as a 500.
func (a *API) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrTemplateInUse):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mapper.ErrNonNumericFieldID), errors.Is(err, mapper.ErrMalformedValues):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
