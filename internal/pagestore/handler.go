package pagestore

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

const maxBodyBytes = 8 << 20

type Handler struct {
	store  *Store
	token  string
	logger *zap.SugaredLogger
}

// NewHandler serves store. A non-empty token is required as a bearer token
// on every request except /health.
func NewHandler(store *Store, token string, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{store: store, token: strings.TrimSpace(token), logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
		return
	}
	if !h.authorized(r) {
		writeFailure(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}
	switch {
	case r.URL.Path == "/pages" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/pages/") && r.Method == http.MethodGet:
		filename, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/pages/"))
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid filename")
			return
		}
		h.handleGet(w, r, filename)
	case r.URL.Path == "/save-page" && r.Method == http.MethodPost:
		h.handleSave(w, r)
	default:
		writeFailure(w, http.StatusNotFound, "route not found")
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	pages, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Errorw("list pages failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pages": pages})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, filename string) {
	raw, err := h.store.Get(r.Context(), filename)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeFailure(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrInvalidFilename):
			writeFailure(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Errorw("read page failed", "filename", filename, "error", err)
			writeFailure(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": json.RawMessage(raw)})
}

type saveRequest struct {
	Data     json.RawMessage `json:"data"`
	Filename string          `json:"filename"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "request body exceeds configured limit")
			return
		}
		writeFailure(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req saveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Data) == 0 {
		writeFailure(w, http.StatusBadRequest, "data is required")
		return
	}
	result, err := h.store.Save(r.Context(), req.Filename, req.Data)
	if err != nil {
		switch {
		case errors.Is(err, pagedoc.ErrInvalidDocument), errors.Is(err, ErrInvalidFilename):
			writeFailure(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Errorw("save page failed", "filename", req.Filename, "error", err)
			writeFailure(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.logger.Infow("page saved", "filename", result.Filename, "components", result.Components)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"filename":   result.Filename,
		"components": result.Components,
		"path":       result.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
