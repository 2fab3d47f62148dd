package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"formkeep/internal/mapper"
	"formkeep/internal/models"
	"formkeep/internal/schema"
	"formkeep/internal/store"

	"github.com/go-chi/chi/v5"
)

// Record handlers

// recordRequest accepts values either as rows under "fields" (the record
// payload clients send) or under "values" in row or keyed form.
type recordRequest struct {
	TemplateID models.FlexID   `json:"template_id"`
	Fields     json.RawMessage `json:"fields"`
	Values     json.RawMessage `json:"values"`
}

func (req recordRequest) values() (models.Values, error) {
	if len(req.Fields) > 0 && string(bytes.TrimSpace(req.Fields)) != "null" {
		return mapper.DecodeValues(req.Fields)
	}
	return mapper.DecodeValues(req.Values)
}

func recordsToWire(records []models.Record) ([]models.RecordWire, error) {
	out := make([]models.RecordWire, len(records))
	for i := range records {
		w, err := mapper.RecordToWire(&records[i])
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RecordFilter{
		TemplateID: q.Get("template_id"),
		Query:      q.Get("q"),
	}

	var err error
	if s := q.Get("limit"); s != "" {
		if filter.Limit, err = strconv.Atoi(s); err != nil || filter.Limit < 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}
	if s := q.Get("offset"); s != "" {
		if filter.Offset, err = strconv.Atoi(s); err != nil || filter.Offset < 0 {
			respondError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
	}

	records, err := a.repo.ListRecords(r.Context(), filter)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	out, err := recordsToWire(records)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := a.repo.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	out, err := mapper.RecordToWire(rec)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// validateRecord checks values against the template and writes a 422 when
// they fail.
func (a *API) validateRecord(w http.ResponseWriter, t *models.Template, values models.Values) bool {
	err := a.validator.Validate(t.Fields, values).Err()
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		respondValidation(w, verr)
		return false
	}
	return true
}

func (a *API) createRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TemplateID == "" {
		respondError(w, http.StatusBadRequest, "template_id is required")
		return
	}

	values, err := req.values()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := a.repo.GetTemplate(r.Context(), string(req.TemplateID))
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	if !a.validateRecord(w, t, values) {
		return
	}

	rec := &models.Record{TemplateID: t.ID, Values: values}
	if err := a.repo.CreateRecord(r.Context(), rec); err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	out, err := mapper.RecordToWire(rec)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, out)
}

func (a *API) updateRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req recordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	values, err := req.values()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := a.repo.GetRecord(r.Context(), id)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	if req.TemplateID != "" && string(req.TemplateID) != existing.TemplateID {
		respondError(w, http.StatusBadRequest, "A record cannot move to another template")
		return
	}

	t, err := a.repo.GetTemplate(r.Context(), existing.TemplateID)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	if !a.validateRecord(w, t, values) {
		return
	}

	rec := &models.Record{ID: id, TemplateID: existing.TemplateID, Values: values}
	if err := a.repo.UpdateRecord(r.Context(), rec); err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	out, err := mapper.RecordToWire(rec)
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
