// Package httpapi serves the editor-facing API: page listing, loading,
// saving, creation and renaming on top of the persistence controller, an
// event stream over websockets, and the push hook for shared event assets.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/pagekeeper/internal/events"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/persistence"
)

type ServerConfig struct {
	// JWTSecret enables bearer authentication when set.
	JWTSecret string
	// HookSecret enables signature checks on the event asset hook when set.
	HookSecret      string
	HookMaxSkew     time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// RefreshWait bounds how long a load with wait=true waits for the
	// background refresh.
	RefreshWait    time.Duration
	EventBuffer    int
	OriginPatterns []string
}

// Subscriber is the consuming side of the event bus.
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type Server struct {
	pages          *persistence.Controller
	events         Subscriber
	cfg            ServerConfig
	logger         *zap.SugaredLogger
	metrics        http.Handler
	rateLimiter    *rateLimiter
	hookReplayMu   sync.Mutex
	hookReplaySeen map[string]time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(pages *persistence.Controller, subscriber Subscriber) *Server {
	return NewServerWithConfig(pages, subscriber, ServerConfig{}, nil)
}

func NewServerWithConfig(pages *persistence.Controller, subscriber Subscriber, cfg ServerConfig, logger *zap.SugaredLogger) *Server {
	if cfg.HookMaxSkew <= 0 {
		cfg.HookMaxSkew = 5 * time.Minute
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.RefreshWait <= 0 {
		cfg.RefreshWait = 2 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		pages:          pages,
		events:         subscriber,
		cfg:            cfg,
		logger:         logger,
		metrics:        promhttp.Handler(),
		rateLimiter:    limiter,
		hookReplaySeen: map[string]time.Time{},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"remoteEnabled": s.pages.RemoteEnabled(),
		})
		return
	}
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet {
		s.metrics.ServeHTTP(w, r)
		return
	}
	correlationID := getCorrelationID(r)
	w.Header().Set("X-Correlation-Id", correlationID)

	if r.URL.Path == "/v1/hooks/event-assets" && r.Method == http.MethodPost {
		s.handleEventAssetHook(w, r, correlationID)
		return
	}

	parts, ok := splitPath(r.URL.EscapedPath())
	if !ok || len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	var requiredScope string
	var route string
	switch {
	case len(parts) == 2 && parts[1] == "pages" && r.Method == http.MethodGet:
		requiredScope, route = scopePagesRead, "list"
	case len(parts) == 2 && parts[1] == "pages" && r.Method == http.MethodPost:
		requiredScope, route = scopePagesWrite, "create"
	case len(parts) == 2 && parts[1] == "save" && r.Method == http.MethodPost:
		requiredScope, route = scopePagesWrite, "save"
	case len(parts) == 2 && parts[1] == "event" && r.Method == http.MethodGet:
		requiredScope, route = scopePagesRead, "event_context"
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		requiredScope, route = scopeEventsRead, "events"
	case len(parts) == 3 && parts[1] == "pages" && r.Method == http.MethodGet:
		requiredScope, route = scopePagesRead, "load"
	case len(parts) == 3 && parts[1] == "pages" && r.Method == http.MethodPut:
		requiredScope, route = scopePagesWrite, "save"
	case len(parts) == 4 && parts[1] == "pages" && parts[3] == "rename" && r.Method == http.MethodPost:
		requiredScope, route = scopePagesWrite, "rename"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	limitKey := clientKey(r)
	if s.cfg.JWTSecret != "" {
		claims, authErr := authorizeBearer(bearerHeader(r), s.cfg.JWTSecret, requiredScope, time.Now().UTC())
		if authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
			return
		}
		limitKey = claims.Subject
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(limitKey, time.Now().UTC()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	var ref string
	if len(parts) >= 3 {
		ref = parts[2]
	}
	switch route {
	case "list":
		s.handleListPages(w, r, correlationID)
	case "create":
		s.handleCreatePage(w, r, correlationID)
	case "load":
		s.handleLoadPage(w, r, ref, correlationID)
	case "save":
		s.handleSavePage(w, r, ref, correlationID)
	case "rename":
		s.handleRenamePage(w, r, ref, correlationID)
	case "event_context":
		writeJSON(w, http.StatusOK, s.pages.EventContext())
	case "events":
		s.handleEvents(w, r, correlationID)
	}
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request, correlationID string) {
	pages, err := s.pages.ListPages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages":         pages,
		"remoteEnabled": s.pages.RemoteEnabled(),
	})
}

type createPageRequest struct {
	BaseName string `json:"baseName"`
	Template string `json:"template"`
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req createPageRequest
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
			return
		}
	}
	var (
		created any
		err     error
	)
	if strings.TrimSpace(req.Template) != "" {
		kind, known := pagedoc.ParseKind(req.Template)
		if !known {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown template: "+req.Template, correlationID)
			return
		}
		created, err = s.pages.CreateFromTemplate(r.Context(), kind)
	} else {
		created, err = s.pages.CreatePage(r.Context(), req.BaseName)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"page": created})
}

type loadPageResponse struct {
	Page       any               `json:"page"`
	Title      string            `json:"title"`
	Source     string            `json:"source"`
	Generation uint64            `json:"generation"`
	Refreshed  bool              `json:"refreshed"`
	Document   *pagedoc.Document `json:"document"`
}

func (s *Server) handleLoadPage(w http.ResponseWriter, r *http.Request, ref, correlationID string) {
	load, err := s.pages.LoadPage(r.Context(), ref)
	if err != nil {
		writeControllerError(w, err, correlationID)
		return
	}
	resp := loadPageResponse{
		Page:       load.Page,
		Title:      load.Title,
		Source:     string(load.Source),
		Generation: load.Generation,
		Document:   load.Document,
	}
	if parseBool(r.URL.Query().Get("wait"), false) {
		timer := time.NewTimer(s.cfg.RefreshWait)
		defer timer.Stop()
		select {
		case update, ok := <-load.Updates:
			if ok {
				resp.Title = update.Title
				resp.Document = update.Document
				resp.Source = string(persistence.SourceRemote)
				resp.Refreshed = true
			}
		case <-timer.C:
		case <-r.Context().Done():
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSavePage(w http.ResponseWriter, r *http.Request, ref, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	doc, err := pagedoc.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_document", err.Error(), correlationID)
		return
	}
	result, err := s.pages.SavePage(r.Context(), ref, doc)
	if err != nil {
		writeControllerError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type renamePageRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenamePage(w http.ResponseWriter, r *http.Request, ref, correlationID string) {
	var req renamePageRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	page, result, err := s.pages.RenamePage(r.Context(), ref, req.Name)
	if err != nil {
		writeControllerError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page, "save": result})
}

// handleEventAssetHook receives pushed changes of the shared event data so
// open pages pick up a new banner without waiting for the file watcher.
func (s *Server) handleEventAssetHook(w http.ResponseWriter, r *http.Request, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if s.cfg.HookSecret != "" {
		now := time.Now().UTC()
		timestamp := r.Header.Get("X-Pagekeeper-Timestamp")
		signature := r.Header.Get("X-Pagekeeper-Signature")
		if authErr := verifyHookSignature(s.cfg.HookSecret, timestamp, signature, body, now, s.cfg.HookMaxSkew); authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
			return
		}
		if !s.markHookReplaySeen(timestamp, signature, now) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "hook request replay detected", correlationID)
			return
		}
	}
	var ec pagedoc.EventContext
	if err := json.Unmarshal(body, &ec); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	updated := s.pages.ApplyEventContext(r.Context(), ec)
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

// handleEvents streams bus events as JSON websocket messages. With a page
// query parameter only that page's events and registry updates are sent.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event stream not configured", correlationID)
		return
	}
	pageFilter := strings.TrimSpace(r.URL.Query().Get("page"))
	if pageFilter != "" {
		pageFilter = s.pages.Registry().Canonical(pageFilter)
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.logger.Debugw("websocket upgrade failed", "correlationId", correlationID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	stream, cancel := s.events.Subscribe(s.cfg.EventBuffer)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if pageFilter != "" && event.PageID != "" && event.PageID != pageFilter {
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancelWrite()
			if err != nil {
				s.logger.Debugw("event stream closed", "correlationId", correlationID, "error", err)
				return
			}
		}
	}
}

func writeControllerError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, persistence.ErrNoPageReference),
		errors.Is(err, persistence.ErrInvalidName),
		errors.Is(err, pagedoc.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, persistence.ErrPageNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func splitPath(escaped string) ([]string, bool) {
	raw := strings.Split(strings.Trim(escaped, "/"), "/")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		unescaped, err := url.PathUnescape(part)
		if err != nil {
			return nil, false
		}
		parts = append(parts, unescaped)
	}
	return parts, true
}

// getCorrelationID returns the caller's X-Correlation-Id, generating one for
// callers that do not send it.
func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return "pk_" + uuid.NewString()
}

// bearerHeader also accepts the token as an access_token query parameter,
// since browsers cannot set headers on websocket upgrades.
func bearerHeader(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return header
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return "Bearer " + token
	}
	return ""
}

func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func (s *Server) markHookReplaySeen(timestamp, signature string, now time.Time) bool {
	key := strings.TrimSpace(strings.ToLower(timestamp)) + "|" + strings.TrimSpace(strings.ToLower(signature))
	if key == "|" {
		return false
	}
	s.hookReplayMu.Lock()
	defer s.hookReplayMu.Unlock()
	for replayKey, expiresAt := range s.hookReplaySeen {
		if !now.Before(expiresAt) {
			delete(s.hookReplaySeen, replayKey)
		}
	}
	if expiresAt, exists := s.hookReplaySeen[key]; exists && now.Before(expiresAt) {
		return false
	}
	s.hookReplaySeen[key] = now.Add(s.cfg.HookMaxSkew)
	return true
}

func parseBool(raw string, fallback bool) bool {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return parsed
}
