// Package remotestore talks to the remote page API. The remote is optional
// and never assumed reachable: every failure is reported as ErrUnavailable
// or ErrMalformedResponse so callers can treat it as "no data".
package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

var (
	ErrUnavailable       = errors.New("remote store unavailable")
	ErrMalformedResponse = errors.New("malformed remote response")
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Is reports every HTTP failure as ErrUnavailable.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnavailable
}

// PageInfo is one entry of the remote page listing. ID is only set by
// servers that issue their own page ids.
type PageInfo struct {
	ID       string    `json:"id,omitempty"`
	Filename string    `json:"filename"`
	Modified Timestamp `json:"modified"`
}

type SaveResult struct {
	Filename   string `json:"filename"`
	Components int    `json:"components"`
	Path       string `json:"path"`
}

type Store interface {
	Enabled() bool
	ListPages(ctx context.Context) ([]PageInfo, error)
	GetPage(ctx context.Context, filename string) (*pagedoc.Document, error)
	SavePage(ctx context.Context, filename string, doc *pagedoc.Document) (SaveResult, error)
}

// New returns an HTTP-backed store, or Disabled when baseURL is empty.
func New(baseURL, token string, opts ...ClientOption) Store {
	if strings.TrimSpace(baseURL) == "" {
		return Disabled{}
	}
	return NewHTTPClient(baseURL, token, opts...)
}

// Disabled is the store used when no remote is configured.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) ListPages(context.Context) ([]PageInfo, error) {
	return nil, fmt.Errorf("%w: not configured", ErrUnavailable)
}

func (Disabled) GetPage(context.Context, string) (*pagedoc.Document, error) {
	return nil, fmt.Errorf("%w: not configured", ErrUnavailable)
}

func (Disabled) SavePage(context.Context, string, *pagedoc.Document) (SaveResult, error) {
	return SaveResult{}, fmt.Errorf("%w: not configured", ErrUnavailable)
}

// Timestamp accepts RFC 3339 strings as well as unix epoch numbers in
// seconds or milliseconds, since page servers disagree on the format.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			t.Time = time.Time{}
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			t.Time = parsed
			return nil
		}
		data = []byte(raw)
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	// values past 1e11 can only be milliseconds
	if n > 1e11 {
		t.Time = time.UnixMilli(int64(n)).UTC()
	} else {
		t.Time = time.Unix(int64(n), 0).UTC()
	}
	return nil
}
