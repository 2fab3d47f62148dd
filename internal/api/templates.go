package api

import (
	"io"
	"net/http"

	"formkeep/internal/export"
	"formkeep/internal/mapper"
	"formkeep/internal/models"
	"formkeep/internal/schema"

	"github.com/go-chi/chi/v5"
)

// Template handlers

func (a *API) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := a.repo.ListTemplates(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	out := make([]models.TemplateWire, len(templates))
	for i := range templates {
		out[i] = mapper.TemplateToWire(&templates[i])
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := a.repo.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, mapper.TemplateToWire(t))
}

// decodeTemplate reads an inbound template, normalizes it and checks it
// against the schema rules. It writes the error response itself.
func decodeTemplate(w http.ResponseWriter, r *http.Request) (*models.Template, bool) {
	var body models.TemplateWire
	if !decodeJSON(w, r, &body) {
		return nil, false
	}

	t, err := mapper.TemplateFromWire(body)
	if err != nil {
		respondSchemaError(w, "Invalid template", err)
		return nil, false
	}
	if err := schema.ValidateTemplate(t); err != nil {
		respondSchemaError(w, "Invalid template", err)
		return nil, false
	}
	return t, true
}

func (a *API) createTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeTemplate(w, r)
	if !ok {
		return
	}

	if err := a.repo.CreateTemplate(r.Context(), t); err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, mapper.TemplateToWire(t))
}

func (a *API) importTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := export.ParseTemplateYAML(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := schema.ValidateTemplate(t); err != nil {
		respondSchemaError(w, "Invalid template", err)
		return
	}

	if err := a.repo.CreateTemplate(r.Context(), t); err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, mapper.TemplateToWire(t))
}

func (a *API) updateTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeTemplate(w, r)
	if !ok {
		return
	}
	t.ID = chi.URLParam(r, "id")

	if err := a.repo.UpdateTemplate(r.Context(), t); err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, mapper.TemplateToWire(t))
}

func (a *API) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.repo.DeleteTemplate(r.Context(), id, queryBool(r, "cascade")); err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// templateDefaults returns the initial values of a record form. With
// ?record_id= the stored values of that record take precedence.
func (a *API) templateDefaults(w http.ResponseWriter, r *http.Request) {
	t, err := a.repo.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	var existing models.Values
	if recordID := r.URL.Query().Get("record_id"); recordID != "" {
		rec, err := a.repo.GetRecord(r.Context(), recordID)
		if err != nil {
			a.respondStoreError(w, r, err)
			return
		}
		if rec.TemplateID != t.ID {
			respondError(w, http.StatusBadRequest, "Record belongs to another template")
			return
		}
		existing = rec.Values
	}

	respondJSON(w, http.StatusOK, schema.DeriveDefaults(t.Fields, existing))
}

func (a *API) exportTemplateYAML(w http.ResponseWriter, r *http.Request) {
	t, err := a.repo.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	data, err := export.TemplateYAML(t)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(t.Name, "", ".yaml")+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
