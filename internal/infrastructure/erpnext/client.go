// Package erpnext implements the Purchase Invoice gateway over the Frappe REST API.
package erpnext

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

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/domain/invoice"
	"github.com/o2o/erpsync/internal/infrastructure/config"
	"github.com/o2o/erpsync/internal/infrastructure/telemetry"
)

const (
	// maxResponseSize limits response body reads to prevent memory exhaustion
	maxResponseSize = 10 * 1024 * 1024

	purchaseInvoiceDoctype = "Purchase Invoice"
	defaultTimeout         = 30 * time.Second
	defaultRetries         = 3
)

var (
	ErrConfigMissingBaseURL = errors.New("erpnext: base URL is required")
	ErrConfigMissingAPIKey  = errors.New("erpnext: api key and secret are required")
)

// Config holds the Frappe site and API credentials
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// Retries bounds the retries of read requests. Writes are never retried.
	Retries int
}

// FromConfig builds a client config from application settings
func FromConfig(c config.ERPNextConfig) Config {
	return Config{
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey,
		APISecret: c.APISecret,
		Timeout:   c.Timeout,
		Retries:   defaultRetries,
	}
}

// Validate checks the config is usable
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrConfigMissingBaseURL
	}
	if c.APIKey == "" || c.APISecret == "" {
		return ErrConfigMissingAPIKey
	}
	return nil
}

// Client talks to one ERPNext site
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	backoff    func() backoff.BackOff
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBackOff replaces the retry policy of read requests
func WithBackOff(b func() backoff.BackOff) Option {
	return func(c *Client) {
		c.backoff = b
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a new ERPNext client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("erpnext: invalid base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zap.NewNop(),
	}
	c.backoff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		return backoff.WithMaxRetries(b, uint64(c.cfg.Retries))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ensure Client implements PurchaseInvoiceGateway
var _ integration.PurchaseInvoiceGateway = (*Client)(nil)

// ListPurchaseInvoices returns one page of Purchase Invoices ordered by modified
func (c *Client) ListPurchaseInvoices(ctx context.Context, q integration.ListQuery) ([]invoice.PurchaseInvoice, error) {
	fields := q.Fields
	if len(fields) == 0 {
		fields = []string{"*"}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("erpnext: encode fields: %w", err)
	}

	filters := make([][]any, 0, 2)
	if !q.ModifiedAfter.IsZero() {
		filters = append(filters, []any{"modified", ">", invoice.FormatModified(q.ModifiedAfter)})
	}
	if q.CodeField != "" && q.CodeLike != "" {
		filters = append(filters, []any{q.CodeField, "like", q.CodeLike})
	}

	params := url.Values{}
	params.Set("fields", string(fieldsJSON))
	if len(filters) > 0 {
		filtersJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("erpnext: encode filters: %w", err)
		}
		params.Set("filters", string(filtersJSON))
	}
	params.Set("order_by", "modified asc, name asc")
	params.Set("limit_start", strconv.Itoa(max(q.Offset, 0)))
	if q.Limit > 0 {
		params.Set("limit_page_length", strconv.Itoa(q.Limit))
	}

	var raw []json.RawMessage
	if err := c.get(ctx, "list", c.resourcePath(""), params, &raw); err != nil {
		return nil, err
	}

	docs := make([]invoice.PurchaseInvoice, 0, len(raw))
	for _, r := range raw {
		pi, err := decodeDocument(r)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *pi)
	}
	return docs, nil
}

// GetPurchaseInvoice returns the full document including child tables
func (c *Client) GetPurchaseInvoice(ctx context.Context, name string) (*invoice.PurchaseInvoice, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: document name is required", integration.ErrGatewayRequestFailed)
	}
	var raw json.RawMessage
	if err := c.get(ctx, "get", c.resourcePath(name), nil, &raw); err != nil {
		return nil, err
	}
	return decodeDocument(raw)
}

// CreatePurchaseInvoice inserts a draft document
func (c *Client) CreatePurchaseInvoice(ctx context.Context, pi *invoice.PurchaseInvoice) (*invoice.PurchaseInvoice, error) {
	body, err := encodeDocument(pi)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.send(ctx, "create", http.MethodPost, c.resourcePath(""), body, &raw); err != nil {
		return nil, err
	}
	return decodeDocument(raw)
}

// UpdatePurchaseInvoice writes fields on an existing document
func (c *Client) UpdatePurchaseInvoice(ctx context.Context, name string, fields map[string]any) (*invoice.PurchaseInvoice, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: document name is required", integration.ErrGatewayRequestFailed)
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("erpnext: encode update: %w", err)
	}
	var raw json.RawMessage
	if err := c.send(ctx, "update", http.MethodPut, c.resourcePath(name), body, &raw); err != nil {
		return nil, err
	}
	return decodeDocument(raw)
}

// Ping checks the credentials against the site
func (c *Client) Ping(ctx context.Context) error {
	var user string
	return c.get(ctx, "ping", "/api/method/frappe.auth.get_logged_user", nil, &user)
}

func (c *Client) resourcePath(name string) string {
	p := "/api/resource/" + url.PathEscape(purchaseInvoiceDoctype)
	if name != "" {
		p += "/" + url.PathEscape(name)
	}
	return p
}

// get performs a read request, retrying while ERPNext is unavailable
func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	attempt := 0
	call := func() error {
		attempt++
		err := c.do(ctx, op, http.MethodGet, path, params, nil, out)
		if err == nil {
			return nil
		}
		if !errors.Is(err, integration.ErrGatewayUnavailable) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.logger.Warn("ERPNext request failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}
	return backoff.Retry(call, backoff.WithContext(c.backoff(), ctx))
}

func (c *Client) send(ctx context.Context, op, method, path string, body []byte, out any) error {
	return c.do(ctx, op, method, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body []byte, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "erpnext."+op,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("http.method", method),
		telemetry.WithAttribute("erpnext.doctype", purchaseInvoiceDoctype),
	)
	defer span.End()

	u := c.baseURL.String() + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("erpnext: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "token "+c.cfg.APIKey+":"+c.cfg.APISecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("%w: %v", integration.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("%w: read response: %v", integration.ErrGatewayUnavailable, err)
	}
	telemetry.SetAttribute(span, "http.status_code", resp.StatusCode)

	if err := statusError(resp.StatusCode, data); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	var envelope struct {
		Data    json.RawMessage `json:"data"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrGatewayInvalidResponse, err)
	}
	payload := envelope.Data
	if len(payload) == 0 {
		payload = envelope.Message
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing data", integration.ErrGatewayInvalidResponse)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrGatewayInvalidResponse, err)
	}
	return nil
}

// statusError maps an HTTP status to a gateway error
func statusError(status int, body []byte) error {
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", integration.ErrDocumentNotFound, serverMessage(status, body))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", integration.ErrGatewayAuthFailed, status)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: HTTP %d: %s", integration.ErrGatewayUnavailable, status, serverMessage(status, body))
	default:
		return fmt.Errorf("%w: HTTP %d: %s", integration.ErrGatewayRequestFailed, status, serverMessage(status, body))
	}
}

// serverMessage extracts the human readable error of a Frappe error response
func serverMessage(status int, body []byte) string {
	var e struct {
		Exception      string `json:"exception"`
		ExcType        string `json:"exc_type"`
		ServerMessages string `json:"_server_messages"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return http.StatusText(status)
	}

	if e.ServerMessages != "" {
		var encoded []string
		if err := json.Unmarshal([]byte(e.ServerMessages), &encoded); err == nil {
			msgs := make([]string, 0, len(encoded))
			for _, m := range encoded {
				var msg struct {
					Message string `json:"message"`
				}
				if json.Unmarshal([]byte(m), &msg) == nil && msg.Message != "" {
					msgs = append(msgs, msg.Message)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if e.Exception != "" {
		return e.Exception
	}
	if e.ExcType != "" {
		return e.ExcType
	}
	return http.StatusText(status)
}
