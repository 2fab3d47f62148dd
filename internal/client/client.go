// Package client talks to a running formkeep server. Client implements
// store.Repository, so tools can work against a remote instance the same way
// the server works against its database.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"formkeep/internal/mapper"
	"formkeep/internal/models"
	"formkeep/internal/store"

	"go.uber.org/zap"
)

// APIError is a non-2xx answer from the server. 404 and 409 unwrap to
// store.ErrNotFound and store.ErrTemplateInUse.
type APIError struct {
	Status  int
	Message string
	Details []string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return store.ErrNotFound
	case http.StatusConflict:
		return store.ErrTemplateInUse
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New returns a client for the API mounted at baseURL, e.g.
// "http://localhost:8069/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ store.Repository = (*Client)(nil)

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body struct {
		Error   string            `json:"error"`
		Details []string          `json:"details"`
		Fields  map[string]string `json:"fields"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Details = body.Details
		apiErr.Fields = body.Fields
	}
	return apiErr
}

// itemPath builds the path of one template or record. An empty id cannot
// exist and would address the collection instead.
func itemPath(kind, collection, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%s %q: %w", kind, id, store.ErrNotFound)
	}
	return collection + "/" + url.PathEscape(id), nil
}

// Template operations

func (c *Client) ListTemplates(ctx context.Context, query string) ([]models.Template, error) {
	var q url.Values
	if query != "" {
		q = url.Values{"q": {query}}
	}

	var out []models.TemplateWire
	if err := c.do(ctx, http.MethodGet, "/templates", q, nil, &out); err != nil {
		return nil, err
	}

	templates := make([]models.Template, 0, len(out))
	for _, w := range out {
		t, err := mapper.TemplateFromWire(w)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	return templates, nil
}

func (c *Client) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	path, err := itemPath("template", "/templates", id)
	if err != nil {
		return nil, err
	}

	var out models.TemplateWire
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return mapper.TemplateFromWire(out)
}

func (c *Client) CreateTemplate(ctx context.Context, t *models.Template) error {
	return c.sendTemplate(ctx, http.MethodPost, "/templates", t)
}

func (c *Client) UpdateTemplate(ctx context.Context, t *models.Template) error {
	path, err := itemPath("template", "/templates", t.ID)
	if err != nil {
		return err
	}
	return c.sendTemplate(ctx, http.MethodPut, path, t)
}

func (c *Client) sendTemplate(ctx context.Context, method, path string, t *models.Template) error {
	in := mapper.TemplateToWire(t)
	in.CreatedAt, in.UpdatedAt = nil, nil

	var out models.TemplateWire
	if err := c.do(ctx, method, path, nil, in, &out); err != nil {
		return err
	}
	got, err := mapper.TemplateFromWire(out)
	if err != nil {
		return err
	}
	*t = *got
	return nil
}

func (c *Client) DeleteTemplate(ctx context.Context, id string, cascade bool) error {
	path, err := itemPath("template", "/templates", id)
	if err != nil {
		return err
	}

	var q url.Values
	if cascade {
		q = url.Values{"cascade": {"true"}}
	}
	return c.do(ctx, http.MethodDelete, path, q, nil, nil)
}

// Record operations

func (c *Client) ListRecords(ctx context.Context, filter store.RecordFilter) ([]models.Record, error) {
	q := url.Values{}
	if filter.TemplateID != "" {
		q.Set("template_id", filter.TemplateID)
	}
	if filter.Query != "" {
		q.Set("q", filter.Query)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	var out []models.RecordWire
	if err := c.do(ctx, http.MethodGet, "/records", q, nil, &out); err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(out))
	for _, w := range out {
		r, err := mapper.RecordFromWire(w)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, nil
}

func (c *Client) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	path, err := itemPath("record", "/records", id)
	if err != nil {
		return nil, err
	}

	var out models.RecordWire
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return mapper.RecordFromWire(out)
}

func (c *Client) CreateRecord(ctx context.Context, r *models.Record) error {
	payload, err := mapper.RecordPayload(r)
	if errors.Is(err, mapper.ErrNonNumericTemplateID) {
		return fmt.Errorf("template %s: %w", r.TemplateID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return c.sendRecord(ctx, http.MethodPost, "/records", payload, r)
}

// recordUpdate omits template_id when the caller does not know it; the
// server keeps the stored one.
type recordUpdate struct {
	TemplateID models.FlexID `json:"template_id,omitempty"`
	Fields     []models.Row  `json:"fields"`
}

func (c *Client) UpdateRecord(ctx context.Context, r *models.Record) error {
	path, err := itemPath("record", "/records", r.ID)
	if err != nil {
		return err
	}
	rows, err := mapper.ToRows(r.Values)
	if err != nil {
		return err
	}
	return c.sendRecord(ctx, http.MethodPut, path, recordUpdate{TemplateID: models.FlexID(r.TemplateID), Fields: rows}, r)
}

func (c *Client) sendRecord(ctx context.Context, method, path string, body interface{}, r *models.Record) error {
	var out models.RecordWire
	if err := c.do(ctx, method, path, nil, body, &out); err != nil {
		return err
	}
	got, err := mapper.RecordFromWire(out)
	if err != nil {
		return err
	}
	*r = *got
	return nil
}

func (c *Client) DeleteRecord(ctx context.Context, id string) error {
	path, err := itemPath("record", "/records", id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
