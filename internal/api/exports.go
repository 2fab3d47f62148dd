package api

import (
	"bytes"
	"net/http"

	"formkeep/internal/export"
	"formkeep/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// buildRecordsExport renders every record of the template in the URL.
func (a *API) buildRecordsExport(w http.ResponseWriter, r *http.Request) (*excelize.File, string, bool) {
	t, err := a.repo.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondStoreError(w, r, err)
		return nil, "", false
	}

	records, err := a.repo.ListRecords(r.Context(), store.RecordFilter{TemplateID: t.ID})
	if err != nil {
		a.respondStoreError(w, r, err)
		return nil, "", false
	}

	f, filename, err := export.Records(t, records)
	if err != nil {
		a.respondStoreError(w, r, err)
		return nil, "", false
	}
	return f, filename, true
}

func (a *API) exportRecords(w http.ResponseWriter, r *http.Request) {
	f, filename, ok := a.buildRecordsExport(w, r)
	if !ok {
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		a.logger.Warn("writing export failed", zap.String("filename", filename), zap.Error(err))
	}
}

type uploadResponse struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

func (a *API) uploadRecordsExport(w http.ResponseWriter, r *http.Request) {
	if a.uploader == nil {
		respondError(w, http.StatusServiceUnavailable, "Export uploads are not configured")
		return
	}

	f, filename, ok := a.buildRecordsExport(w, r)
	if !ok {
		return
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	url, err := a.uploader.Upload(r.Context(), bytes.NewReader(buf.Bytes()), xlsxContentType, ".xlsx")
	if err != nil {
		a.respondStoreError(w, r, err)
		return
	}

	a.logger.Info("records export uploaded", zap.String("filename", filename), zap.String("url", url))
	respondJSON(w, http.StatusCreated, uploadResponse{URL: url, Filename: filename})
}
