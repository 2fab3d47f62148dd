package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"formkeep/internal/models"
	"formkeep/internal/schema"
	"formkeep/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// testAPI creates a test API backed by in-memory SQLite.
func testAPI(t *testing.T, opts ...Option) (*API, func()) {
	t.Helper()

	s, err := store.New(store.Config{Backend: store.BackendSQLite, SQLitePath: ":memory:"}, nil)
	require.NoError(t, err)

	return New(s, opts...), func() { s.Close() }
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const visitTemplateJSON = `{
	"name": "Site visit",
	"description": "Notes taken during a site visit",
	"fields": [
		{"field_name": "Notes", "field_type": "text", "is_required": 1, "display_order": 1},
		{"field_name": "Rating", "field_type": "number", "is_required": false, "display_order": 2},
		{"field_name": "Outcome", "field_type": "select", "is_required": "0", "display_order": 3,
		 "options": ["Good", "Needs work"]},
		{"field_name": "Follow up", "field_type": "checkbox", "is_required": 0, "display_order": 4},
		{"field_name": "Visited on", "field_type": "date", "display_order": 5}
	]
}`

func createVisitTemplate(t *testing.T, h http.Handler) models.TemplateWire {
	t.Helper()

	w := doRequest(t, h, http.MethodPost, "/templates", visitTemplateJSON)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var tpl models.TemplateWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tpl))
	return tpl
}

func fieldID(t *testing.T, tpl models.TemplateWire, name string) string {
	t.Helper()
	for _, f := range tpl.Fields {
		if f.Name == name {
			return string(f.ID)
		}
	}
	t.Fatalf("no field %q", name)
	return ""
}

func createRecord(t *testing.T, h http.Handler, templateID string, values map[string]interface{}) models.RecordWire {
	t.Helper()

	w := doRequest(t, h, http.MethodPost, "/records", map[string]interface{}{"template_id": templateID, "values": values})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec models.RecordWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	return rec
}

func TestHealthz(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()

	w := doRequest(t, a.Routes(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCreateTemplate(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	w := doRequest(t, h, http.MethodPost, "/templates", visitTemplateJSON)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotNil(t, body["id"])
	assert.Equal(t, 0.0, body["records_count"])
	assert.NotEmpty(t, body["created_at"])

	fields := body["fields"].([]interface{})
	require.Len(t, fields, 5)
	notes := fields[0].(map[string]interface{})
	assert.Equal(t, "Notes", notes["field_name"])
	assert.Equal(t, 1.0, notes["is_required"])
	outcome := fields[2].(map[string]interface{})
	assert.Equal(t, 0.0, outcome["is_required"])
	assert.Equal(t, 3.0, outcome["display_order"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"option_name": "Good", "option_value": "good-0", "display_order": 1.0},
		map[string]interface{}{"option_name": "Needs work", "option_value": "needs_work-1", "display_order": 2.0},
	}, outcome["options"])
}

func TestCreateTemplateInvalid(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	w := doRequest(t, h, http.MethodPost, "/templates", `{
		"name": "ab",
		"description": "short",
		"fields": [{"field_name": "Colour", "field_type": "radio", "options": ["Red"]}]
	}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid template", resp.Error)
	require.Len(t, resp.Details, 3)
	assert.Contains(t, resp.Details[2], "Colour")

	w = doRequest(t, h, http.MethodPost, "/templates", `{"name": "Sliders", "description": "A template with sliders", "fields": [{"field_name": "Level", "field_type": "slider"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodPost, "/templates", `{"name": "No fields", "description": "Nothing to fill in", "fields": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodPost, "/templates", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndGetTemplates(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)

	w := doRequest(t, h, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.TemplateWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, visit.ID, list[0].ID)

	w = doRequest(t, h, http.MethodGet, "/templates?q=invoice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = doRequest(t, h, http.MethodGet, "/templates/"+string(visit.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.TemplateWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Site visit", got.Name)

	for _, id := range []string{"999", "abc"} {
		w = doRequest(t, h, http.MethodGet, "/templates/"+id, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, id)
	}
}

func TestUpdateTemplate(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	notesID := fieldID(t, visit, "Notes")

	update := map[string]interface{}{
		"name":        "Site inspection",
		"description": "Notes taken during an inspection",
		"fields": []interface{}{
			map[string]interface{}{"id": notesID, "field_name": "Findings", "field_type": "text", "is_required": true},
			map[string]interface{}{"field_name": "Passed", "field_type": "boolean"},
		},
	}
	w := doRequest(t, h, http.MethodPut, "/templates/"+string(visit.ID), update)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got models.TemplateWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Site inspection", got.Name)
	require.Len(t, got.Fields, 2)
	assert.Equal(t, notesID, string(got.Fields[0].ID))
	assert.Equal(t, "Findings", got.Fields[0].Name)

	w = doRequest(t, h, http.MethodPut, "/templates/404", update)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteTemplate(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	createRecord(t, h, string(visit.ID), map[string]interface{}{fieldID(t, visit, "Notes"): "hello"})

	w := doRequest(t, h, http.MethodDelete, "/templates/"+string(visit.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, h, http.MethodGet, "/templates/"+string(visit.ID), nil)
	var got models.TemplateWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 1, got.RecordsCount)

	w = doRequest(t, h, http.MethodDelete, "/templates/"+string(visit.ID)+"?cascade=true", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, h, http.MethodGet, "/records", nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestTemplateDefaults(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	notes, rating, outcome := fieldID(t, visit, "Notes"), fieldID(t, visit, "Rating"), fieldID(t, visit, "Outcome")
	followUp, visited := fieldID(t, visit, "Follow up"), fieldID(t, visit, "Visited on")

	w := doRequest(t, h, http.MethodGet, "/templates/"+string(visit.ID)+"/defaults", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var defaults map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &defaults))
	assert.Equal(t, map[string]interface{}{notes: "", rating: "", outcome: "", followUp: false}, defaults)
	assert.NotContains(t, defaults, visited)

	rec := createRecord(t, h, string(visit.ID), map[string]interface{}{notes: "Roof", followUp: true})
	w = doRequest(t, h, http.MethodGet, "/templates/"+string(visit.ID)+"/defaults?record_id="+string(rec.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &defaults))
	assert.Equal(t, "Roof", defaults[notes])
	assert.Equal(t, true, defaults[followUp])
	assert.Equal(t, "", defaults[rating])
}

func TestCreateRecord(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	notes, rating := fieldID(t, visit, "Notes"), fieldID(t, visit, "Rating")

	body := `{"template_id": ` + string(visit.ID) + `, "fields": [{"field_id": ` + notes + `, "value": "Roof ok"}, {"field_id": ` + rating + `, "value": 4}]}`
	w := doRequest(t, h, http.MethodPost, "/records", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec models.RecordWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, visit.ID, rec.TemplateID)
	assert.JSONEq(t, `[{"field_id":`+notes+`,"value":"Roof ok"},{"field_id":`+rating+`,"value":4}]`, string(rec.Values))

	w = doRequest(t, h, http.MethodGet, "/records/"+string(rec.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.RecordWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.JSONEq(t, string(rec.Values), string(got.Values))
}

func TestCreateRecordInvalid(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	notes, rating := fieldID(t, visit, "Notes"), fieldID(t, visit, "Rating")

	w := doRequest(t, h, http.MethodPost, "/records", map[string]interface{}{
		"template_id": visit.ID,
		"values":      map[string]interface{}{notes: "", rating: 3},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, map[string]string{notes: "Notes is required"}, resp.Fields)

	w = doRequest(t, h, http.MethodPost, "/records", map[string]interface{}{"template_id": visit.ID, "values": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodPost, "/records", map[string]interface{}{"values": map[string]interface{}{notes: "x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodPost, "/records", map[string]interface{}{"template_id": 999, "values": map[string]interface{}{notes: "x"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, h, http.MethodPost, "/records", map[string]interface{}{
		"template_id": visit.ID,
		"values":      map[string]interface{}{notes: "x", "colour": "red"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRecordFieldIDForms(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	notes := fieldID(t, visit, "Notes")

	w := doRequest(t, h, http.MethodPost, "/records", `{"template_id": `+string(visit.ID)+`, "fields": [{"field_id": `+notes+`.0, "value": "hello"}]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec models.RecordWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.JSONEq(t, `[{"field_id":`+notes+`,"value":"hello"}]`, string(rec.Values))

	w = doRequest(t, h, http.MethodPost, "/records", map[string]interface{}{
		"template_id": visit.ID,
		"values":      map[string]interface{}{notes: "a", "0" + notes: "b"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = doRequest(t, h, http.MethodGet, "/records", nil)
	var list []models.RecordWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestCreateRecordStrict(t *testing.T) {
	a, cleanup := testAPI(t, WithValidator(schema.Validator{Mode: schema.ModeStrict}))
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	notes, rating, outcome := fieldID(t, visit, "Notes"), fieldID(t, visit, "Rating"), fieldID(t, visit, "Outcome")

	w := doRequest(t, h, http.MethodPost, "/records", map[string]interface{}{
		"template_id": visit.ID,
		"values":      map[string]interface{}{notes: "x", rating: "four", outcome: "excellent"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Rating must be a number", resp.Fields[rating])
	assert.Equal(t, "Outcome must be one of the listed options", resp.Fields[outcome])

	createRecord(t, h, string(visit.ID), map[string]interface{}{notes: "x", rating: 4, outcome: "good-0"})
}

func TestUpdateAndDeleteRecord(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	notes := fieldID(t, visit, "Notes")
	rec := createRecord(t, h, string(visit.ID), map[string]interface{}{notes: "first"})
	path := "/records/" + string(rec.ID)

	w := doRequest(t, h, http.MethodPut, path, map[string]interface{}{"values": map[string]interface{}{notes: "second"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.RecordWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.JSONEq(t, `[{"field_id":`+notes+`,"value":"second"}]`, string(got.Values))

	w = doRequest(t, h, http.MethodPut, path, map[string]interface{}{"values": map[string]interface{}{notes: ""}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doRequest(t, h, http.MethodPut, path, map[string]interface{}{"template_id": 12345, "values": map[string]interface{}{notes: "x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodPut, "/records/999", map[string]interface{}{"values": map[string]interface{}{notes: "x"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, h, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doRequest(t, h, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doRequest(t, h, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRecords(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	notes := fieldID(t, visit, "Notes")
	for _, text := range []string{"Roof leaking", "Fence fine", "Roof repaired"} {
		createRecord(t, h, string(visit.ID), map[string]interface{}{notes: text})
	}

	var list []models.RecordWire
	w := doRequest(t, h, http.MethodGet, "/records?template_id="+string(visit.ID)+"&q=roof", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	w = doRequest(t, h, http.MethodGet, "/records?limit=1&offset=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Contains(t, string(list[0].Values), "Roof leaking")

	w = doRequest(t, h, http.MethodGet, "/records?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(t, h, http.MethodGet, "/records?offset=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplateYAMLExportImport(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)

	w := doRequest(t, h, http.MethodGet, "/templates/"+string(visit.ID)+"/export.yaml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "site_visit.yaml")
	assert.Contains(t, w.Body.String(), "option_value: good-0")

	w = doRequest(t, h, http.MethodPost, "/templates/import", w.Body.String())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var imported models.TemplateWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &imported))
	assert.NotEqual(t, visit.ID, imported.ID)
	require.Len(t, imported.Fields, len(visit.Fields))
	for i := range visit.Fields {
		assert.Equal(t, visit.Fields[i].Name, imported.Fields[i].Name)
		assert.Equal(t, visit.Fields[i].Options, imported.Fields[i].Options)
	}

	w = doRequest(t, h, http.MethodPost, "/templates/import", "name: x\nfields: []\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(t, h, http.MethodPost, "/templates/import", "name: [")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportRecords(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	h := a.Routes()

	visit := createVisitTemplate(t, h)
	notes, outcome, followUp := fieldID(t, visit, "Notes"), fieldID(t, visit, "Outcome"), fieldID(t, visit, "Follow up")
	createRecord(t, h, string(visit.ID), map[string]interface{}{notes: "Roof ok", outcome: "good-0", followUp: true})

	w := doRequest(t, h, http.MethodGet, "/templates/"+string(visit.ID)+"/records/export.xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))

	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	rows, err := f.GetRows("Records")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Notes", "Rating", "Outcome", "Follow up", "Visited on"}, rows[0])
	assert.Equal(t, []string{"Roof ok", "", "Good", "Yes"}, rows[1])

	w = doRequest(t, h, http.MethodGet, "/templates/999/records/export.xlsx", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeUploader struct {
	mu    sync.Mutex
	size  int
	ctype string
}

func (f *fakeUploader) Upload(_ context.Context, body io.Reader, contentType string, ext string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.size, f.ctype = len(data), contentType
	return "https://s3.example.com/forms/exports/abc" + ext, nil
}

func TestUploadRecordsExport(t *testing.T) {
	a, cleanup := testAPI(t)
	defer cleanup()
	visit := createVisitTemplate(t, a.Routes())

	w := doRequest(t, a.Routes(), http.MethodPost, "/templates/"+string(visit.ID)+"/records/export", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	up := &fakeUploader{}
	a.uploader = up
	w = doRequest(t, a.Routes(), http.MethodPost, "/templates/"+string(visit.ID)+"/records/export", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"url":"https://s3.example.com/forms/exports/abc.xlsx","filename":"site_visit_records.xlsx"}`, w.Body.String())
	assert.Positive(t, up.size)
	assert.Equal(t, xlsxContentType, up.ctype)
}
