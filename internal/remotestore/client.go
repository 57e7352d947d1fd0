package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

const maxResponseBytes = 16 << 20

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

type ClientOption func(*HTTPClient)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) ClientOption {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewHTTPClient makes exactly one attempt per call. Deadlines come from the
// caller's context; the http.Client timeout only bounds runaway requests.
func NewHTTPClient(baseURL, token string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Enabled() bool {
	return c != nil && c.baseURL != ""
}

func (c *HTTPClient) ListPages(ctx context.Context) ([]PageInfo, error) {
	var payload struct {
		Success *bool      `json:"success"`
		Pages   []PageInfo `json:"pages"`
		Message string     `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/pages", nil, &payload); err != nil {
		return nil, err
	}
	if err := checkSuccess(payload.Success, payload.Message); err != nil {
		return nil, err
	}
	if payload.Pages == nil {
		return nil, fmt.Errorf("%w: pages missing", ErrMalformedResponse)
	}
	pages := make([]PageInfo, 0, len(payload.Pages))
	for _, page := range payload.Pages {
		page.Filename = strings.TrimSpace(page.Filename)
		if page.Filename == "" {
			c.logger.Warnw("skipping remote page without filename", "id", page.ID)
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// GetPage fetches and schema-checks one document.
func (c *HTTPClient) GetPage(ctx context.Context, filename string) (*pagedoc.Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: empty filename", ErrUnavailable)
	}
	var payload struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/pages/"+url.PathEscape(filename), nil, &payload); err != nil {
		return nil, err
	}
	if err := checkSuccess(payload.Success, payload.Message); err != nil {
		return nil, err
	}
	doc, err := pagedoc.Decode(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return doc, nil
}

func (c *HTTPClient) SavePage(ctx context.Context, filename string, doc *pagedoc.Document) (SaveResult, error) {
	if doc == nil {
		return SaveResult{}, pagedoc.ErrInvalidDocument
	}
	body := struct {
		Data     *pagedoc.Document `json:"data"`
		Filename string            `json:"filename"`
	}{Data: doc, Filename: filename}
	var payload struct {
		Success *bool `json:"success"`
		SaveResult
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/save-page", body, &payload); err != nil {
		return SaveResult{}, err
	}
	if err := checkSuccess(payload.Success, payload.Message); err != nil {
		return SaveResult{}, err
	}
	if payload.Filename == "" {
		payload.Filename = filename
	}
	return payload.SaveResult, nil
}

func checkSuccess(success *bool, message string) error {
	if success == nil {
		return fmt.Errorf("%w: success flag missing", ErrMalformedResponse)
	}
	if !*success {
		if message == "" {
			message = "server reported failure"
		}
		return fmt.Errorf("%w: %s", ErrUnavailable, message)
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	if !c.Enabled() {
		return fmt.Errorf("%w: not configured", ErrUnavailable)
	}
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrUnavailable, context.DeadlineExceeded)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	payloadBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errPayload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = errPayload.Error
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payloadBytes, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func correlationID() string {
	return "pk_" + uuid.NewString()
}
