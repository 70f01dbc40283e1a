package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"assignbot/core/logger"
)

// Credentials authenticate a single gateway call. The pair maps onto the
// Frappe "token key:secret" authorization scheme.
type Credentials struct {
	Key    string
	Secret string
}

func (c Credentials) header() string {
	return "token " + c.Key + ":" + c.Secret
}

// ItemDraft is the collected wizard output submitted as one Item document.
type ItemDraft struct {
	Code  string
	Name  string
	Group string
	UOM   string
}

// Config holds the gateway endpoint settings, loaded once at startup.
type Config struct {
	BaseURL        string `yaml:"base_url" envconfig:"ERP_BASE_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"ERP_TIMEOUT_SECONDS"`
}

// Client talks to a Frappe/ERPNext REST API. Every call is fallible with
// three outcomes: success, rejected (user-facing, non-retryable), or
// unavailable (transient). The client itself never retries document writes
// so an ambiguous timeout cannot produce duplicates.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a gateway client. A zero timeout defaults to 10s.
func New(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

const verifyPath = "/api/method/frappe.auth.get_logged_user"

// VerifyIdentity performs the gateway identity check. Returns nil on success,
// ErrUnauthorized when the credentials are rejected, ErrUnavailable otherwise.
func (c *Client) VerifyIdentity(ctx context.Context, creds Credentials) error {
	resp, err := c.do(ctx, creds, http.MethodGet, verifyPath, nil, nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return ErrUnavailable
	}
}

type listResponse struct {
	Data []struct {
		Name string `json:"name"`
	} `json:"data"`
}

// ListChoices fetches one page of document names for a doctype. It requests
// one extra row to learn whether another page exists.
func (c *Client) ListChoices(ctx context.Context, creds Credentials, doctype string, start, pageLen int) ([]string, bool, error) {
	q := url.Values{}
	q.Set("fields", `["name"]`)
	q.Set("limit_start", strconv.Itoa(start))
	q.Set("limit_page_length", strconv.Itoa(pageLen+1))

	var out listResponse
	if err := c.getJSON(ctx, creds, "/api/resource/"+url.PathEscape(doctype), q, &out); err != nil {
		return nil, false, err
	}

	names := make([]string, 0, len(out.Data))
	for _, d := range out.Data {
		names = append(names, d.Name)
	}
	hasMore := len(names) > pageLen
	if hasMore {
		names = names[:pageLen]
	}
	return names, hasMore, nil
}

// SearchChoices returns doctype names matching the query, case-insensitive.
func (c *Client) SearchChoices(ctx context.Context, creds Credentials, doctype, query string, limit int) ([]string, error) {
	filters, err := json.Marshal([][]string{{"name", "like", "%" + query + "%"}})
	if err != nil {
		return nil, fmt.Errorf("erp: marshal filters: %w", err)
	}

	q := url.Values{}
	q.Set("fields", `["name"]`)
	q.Set("filters", string(filters))
	q.Set("limit_page_length", strconv.Itoa(limit))

	var out listResponse
	if err := c.getJSON(ctx, creds, "/api/resource/"+url.PathEscape(doctype), q, &out); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(out.Data))
	for _, d := range out.Data {
		names = append(names, d.Name)
	}
	return names, nil
}

// CreateItem submits one Item document. Validation failures carry the
// server's detail text; they end the calling wizard rather than retrying.
func (c *Client) CreateItem(ctx context.Context, creds Credentials, draft ItemDraft) error {
	body := map[string]string{
		"item_code":  draft.Code,
		"item_name":  draft.Name,
		"item_group": draft.Group,
		"stock_uom":  draft.UOM,
	}
	_, err := c.createDoc(ctx, creds, "Item", body)
	if err != nil {
		return err
	}
	logger.ERP.Info("item created",
		slog.String("event", "erp.create_item"),
		slog.String("item_code", draft.Code),
	)
	return nil
}

// FindCustomer looks up a Customer docname by customer_name. Returns empty
// string when no such customer exists.
func (c *Client) FindCustomer(ctx context.Context, creds Credentials, name string) (string, error) {
	filters, err := json.Marshal([][]string{{"customer_name", "=", name}})
	if err != nil {
		return "", fmt.Errorf("erp: marshal filters: %w", err)
	}

	q := url.Values{}
	q.Set("fields", `["name"]`)
	q.Set("filters", string(filters))
	q.Set("limit_page_length", "1")

	var out listResponse
	if err := c.getJSON(ctx, creds, "/api/resource/Customer", q, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", nil
	}
	return out.Data[0].Name, nil
}

// CreateCustomer creates a Customer document and returns its docname.
func (c *Client) CreateCustomer(ctx context.Context, creds Credentials, name, group, ctype string) (string, error) {
	body := map[string]string{
		"customer_name":  name,
		"customer_group": group,
		"customer_type":  ctype,
	}
	docname, err := c.createDoc(ctx, creds, "Customer", body)
	if err != nil {
		return "", err
	}
	logger.ERP.Info("customer created",
		slog.String("event", "erp.create_customer"),
		slog.String("customer", docname),
	)
	return docname, nil
}

// QueryReport fetches report rows for a resource with the configured fields.
func (c *Client) QueryReport(ctx context.Context, creds Credentials, resource string, fields []string, limit int) ([]map[string]any, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("erp: marshal fields: %w", err)
	}

	q := url.Values{}
	q.Set("fields", string(fieldsJSON))
	q.Set("limit_page_length", strconv.Itoa(limit))

	var out struct {
		Data []map[string]any `json:"data"`
	}
	if err := c.getJSON(ctx, creds, "/api/resource/"+url.PathEscape(resource), q, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) createDoc(ctx context.Context, creds Credentials, doctype string, body map[string]string) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("erp: marshal %s: %w", doctype, err)
	}

	resp, err := c.do(ctx, creds, http.MethodPost, "/api/resource/"+url.PathEscape(doctype), nil, payload)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out struct {
			Data struct {
				Name string `json:"name"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("erp: decode %s response: %w", doctype, err)
		}
		return out.Data.Name, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", &ValidationError{Detail: serverDetail(raw)}
	default:
		logger.ERP.Warn("gateway error",
			slog.String("event", "erp.create"),
			slog.String("doctype", doctype),
			slog.Int("status", resp.StatusCode),
		)
		return "", ErrUnavailable
	}
}

func (c *Client) getJSON(ctx context.Context, creds Credentials, path string, q url.Values, out any) error {
	resp, err := c.do(ctx, creds, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return ErrUnavailable
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return fmt.Errorf("erp: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, creds Credentials, method, path string, q url.Values, body []byte) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("erp: build request: %w", err)
	}
	req.Header.Set("Authorization", creds.header())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.ERP.Warn("gateway call failed",
			slog.String("event", "erp.call"),
			slog.String("method", method),
			slog.String("path", path),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
			slog.String("err", err.Error()),
		)
		return nil, ErrUnavailable
	}
	logger.ERP.Debug("gateway call",
		slog.String("event", "erp.call"),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// serverDetail extracts a human-readable rejection message from a Frappe
// error body, falling back to the trimmed raw body.
func serverDetail(raw []byte) string {
	var payload struct {
		Message  string `json:"message"`
		Messages string `json:"_server_messages"`
		ExcType  string `json:"exc_type"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Messages != "" {
			// _server_messages is a JSON-encoded list of JSON strings.
			var msgs []string
			if err := json.Unmarshal([]byte(payload.Messages), &msgs); err == nil && len(msgs) > 0 {
				var inner struct {
					Message string `json:"message"`
				}
				if err := json.Unmarshal([]byte(msgs[0]), &inner); err == nil && inner.Message != "" {
					return inner.Message
				}
				return msgs[0]
			}
		}
		if payload.ExcType != "" {
			return payload.ExcType
		}
	}
	detail := strings.TrimSpace(string(raw))
	if len(detail) > 300 {
		detail = detail[:300]
	}
	return detail
}
