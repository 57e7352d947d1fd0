package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/pagekeeper/internal/events"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/persistence"
	"github.com/agentworkforce/pagekeeper/internal/registry"
)

type testEnv struct {
	server      *Server
	controller  *persistence.Controller
	bus         *events.Bus
	downloadDir string
}

func newTestEnv(t *testing.T, cfg ServerConfig) testEnv {
	t.Helper()
	bus := events.NewBus()
	dir := t.TempDir()
	controller, err := persistence.New(persistence.Options{
		Bus:        bus,
		Downloader: persistence.FileDownloader{Dir: dir},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(func() {
		_ = controller.Close()
		bus.Close()
	})
	return testEnv{
		server:      NewServerWithConfig(controller, bus, cfg, nil),
		controller:  controller,
		bus:         bus,
		downloadDir: dir,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	resp := doRequest(t, env.server, request{method: http.MethodGet, path: "/health"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["remoteEnabled"] != false {
		t.Fatalf("expected remote disabled, got %v", body["remoteEnabled"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	resp := doRequest(t, env.server, request{method: http.MethodGet, path: "/metrics"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "pagekeeper_structural_mismatch_total") {
		t.Fatalf("expected pagekeeper metrics in exposition")
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	resp := doRequest(t, env.server, request{
		method:  http.MethodDelete,
		path:    "/v1/pages/home",
		headers: map[string]string{"X-Correlation-Id": "corr_404"},
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["correlationId"] != "corr_404" {
		t.Fatalf("expected correlation id to be echoed, got %v", body["correlationId"])
	}
}

func TestCreateListLoadAndSave(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	for _, want := range []string{"Page 1", "Page 2"} {
		resp := doRequest(t, env.server, request{method: http.MethodPost, path: "/v1/pages"})
		if resp.Code != http.StatusCreated {
			t.Fatalf("expected 201 on create, got %d (%s)", resp.Code, resp.Body.String())
		}
		var created struct {
			Page registry.Page `json:"page"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			t.Fatalf("decode create: %v", err)
		}
		if created.Page.Name != want {
			t.Fatalf("expected %q, got %q", want, created.Page.Name)
		}
	}

	listResp := doRequest(t, env.server, request{method: http.MethodGet, path: "/v1/pages"})
	if listResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on list, got %d", listResp.Code)
	}
	var listed struct {
		Pages []registry.Page `json:"pages"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Pages) != 2 || listed.Pages[0].Name != "Page 1" || listed.Pages[1].Name != "Page 2" {
		t.Fatalf("unexpected page list: %+v", listed.Pages)
	}
	second := listed.Pages[1]

	loadResp := doRequest(t, env.server, request{method: http.MethodGet, path: "/v1/pages/" + second.ID})
	if loadResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on load, got %d (%s)", loadResp.Code, loadResp.Body.String())
	}
	var loaded loadPageResponse
	if err := json.NewDecoder(loadResp.Body).Decode(&loaded); err != nil {
		t.Fatalf("decode load: %v", err)
	}
	if loaded.Source != string(persistence.SourceCache) {
		t.Fatalf("expected cached source, got %s", loaded.Source)
	}
	if loaded.Title != "Page 2" {
		t.Fatalf("expected title Page 2, got %s", loaded.Title)
	}

	doc := pagedoc.New("Page 2")
	doc.Content = []pagedoc.Node{{Type: pagedoc.TypeHeading, Props: map[string]any{"text": "Hello"}}}
	payload, _ := json.Marshal(doc)
	saveResp := doRawRequest(t, env.server, rawRequest{
		method: http.MethodPut,
		path:   "/v1/pages/" + second.ID,
		body:   payload,
	})
	if saveResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on save, got %d (%s)", saveResp.Code, saveResp.Body.String())
	}
	var saved persistence.SaveResult
	if err := json.NewDecoder(saveResp.Body).Decode(&saved); err != nil {
		t.Fatalf("decode save: %v", err)
	}
	if !saved.Cached || saved.RemoteSaved || !saved.Downloaded {
		t.Fatalf("expected cached+downloaded without remote, got %+v", saved)
	}
	if _, err := os.Stat(filepath.Join(env.downloadDir, "page-2.json")); err != nil {
		t.Fatalf("expected page-2.json download: %v", err)
	}
}

func TestCreateFromTemplate(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	resp := doRequest(t, env.server, request{
		method: http.MethodPost,
		path:   "/v1/pages",
		body:   map[string]any{"template": "schedule"},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", resp.Code, resp.Body.String())
	}
	var created struct {
		Page registry.Page `json:"page"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&created)
	doc, ok := env.controller.Current(created.Page.ID)
	if !ok {
		t.Fatalf("expected created page in memory")
	}
	if doc.PageType() != "schedule" {
		t.Fatalf("expected schedule page type, got %q", doc.PageType())
	}

	bad := doRequest(t, env.server, request{
		method: http.MethodPost,
		path:   "/v1/pages",
		body:   map[string]any{"template": "gallery"},
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown template, got %d", bad.Code)
	}
}

func TestSaveRejectsInvalidDocumentAndMissingReference(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	invalid := doRawRequest(t, env.server, rawRequest{
		method: http.MethodPost,
		path:   "/v1/save",
		body:   []byte(`{"content":"nope","root":{}}`),
	})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid document, got %d", invalid.Code)
	}

	untitled := doRawRequest(t, env.server, rawRequest{
		method: http.MethodPost,
		path:   "/v1/save",
		body:   []byte(`{"content":[],"root":{"props":{}}}`),
	})
	if untitled.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reference or title, got %d (%s)", untitled.Code, untitled.Body.String())
	}

	titled := doRawRequest(t, env.server, rawRequest{
		method: http.MethodPost,
		path:   "/v1/save",
		body:   []byte(`{"content":[],"root":{"props":{"title":"Venue"}}}`),
	})
	if titled.Code != http.StatusOK {
		t.Fatalf("expected 200 for titled save, got %d (%s)", titled.Code, titled.Body.String())
	}
	var saved persistence.SaveResult
	_ = json.NewDecoder(titled.Body).Decode(&saved)
	if saved.Filename != "venue.json" {
		t.Fatalf("expected venue.json, got %s", saved.Filename)
	}
}

func TestRenamePage(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	page, err := env.controller.CreatePage(context.Background(), "Page")
	if err != nil {
		t.Fatalf("create page: %v", err)
	}

	resp := doRequest(t, env.server, request{
		method: http.MethodPost,
		path:   "/v1/pages/" + page.ID + "/rename",
		body:   map[string]any{"name": "Speakers & Hosts"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on rename, got %d (%s)", resp.Code, resp.Body.String())
	}
	var renamed struct {
		Page registry.Page `json:"page"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&renamed)
	if renamed.Page.StorageKey != "speakers-hosts.json" {
		t.Fatalf("expected slugged storage key, got %s", renamed.Page.StorageKey)
	}

	empty := doRequest(t, env.server, request{
		method: http.MethodPost,
		path:   "/v1/pages/" + renamed.Page.ID + "/rename",
		body:   map[string]any{"name": ""},
	})
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty name, got %d", empty.Code)
	}

	missing := doRequest(t, env.server, request{
		method: http.MethodPost,
		path:   "/v1/pages/nope/rename",
		body:   map[string]any{"name": "Other"},
	})
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown page, got %d", missing.Code)
	}
}

func TestLoadByEscapedName(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	resp := doRequest(t, env.server, request{method: http.MethodGet, path: "/v1/pages/Event%20Schedule"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var loaded loadPageResponse
	_ = json.NewDecoder(resp.Body).Decode(&loaded)
	if loaded.Title != "Event Schedule" {
		t.Fatalf("expected title from name, got %q", loaded.Title)
	}
	if loaded.Document.PageType() != "schedule" {
		t.Fatalf("expected schedule template, got %q", loaded.Document.PageType())
	}
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	env := newTestEnv(t, ServerConfig{JWTSecret: "test-secret"})

	resp := doRequest(t, env.server, request{method: http.MethodGet, path: "/v1/pages"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	readOnly := mustTestJWT(t, "test-secret", "editor", []string{scopePagesRead}, time.Now().Add(time.Hour))
	resp = doRequest(t, env.server, request{
		method:  http.MethodPost,
		path:    "/v1/pages",
		headers: map[string]string{"Authorization": "Bearer " + readOnly},
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without write scope, got %d", resp.Code)
	}

	resp = doRequest(t, env.server, request{
		method:  http.MethodGet,
		path:    "/v1/pages",
		headers: map[string]string{"Authorization": "Bearer " + readOnly},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with read scope, got %d (%s)", resp.Code, resp.Body.String())
	}

	expired := mustTestJWT(t, "test-secret", "editor", []string{scopePagesRead}, time.Now().Add(-time.Minute))
	resp = doRequest(t, env.server, request{
		method:  http.MethodGet,
		path:    "/v1/pages",
		headers: map[string]string{"Authorization": "Bearer " + expired},
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", resp.Code)
	}

	wrongAudience := mustTestJWTWithAudience(t, "test-secret", "editor", []string{scopePagesRead}, "relayfile", time.Now().Add(time.Hour))
	resp = doRequest(t, env.server, request{
		method:  http.MethodGet,
		path:    "/v1/pages",
		headers: map[string]string{"Authorization": "Bearer " + wrongAudience},
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign audience, got %d", resp.Code)
	}
}

func TestRateLimitingBySubject(t *testing.T) {
	env := newTestEnv(t, ServerConfig{
		JWTSecret:       "test-secret",
		RateLimitMax:    2,
		RateLimitWindow: time.Minute,
	})
	token := mustTestJWT(t, "test-secret", "editor", []string{scopePagesRead}, time.Now().Add(time.Hour))
	other := mustTestJWT(t, "test-secret", "reviewer", []string{scopePagesRead}, time.Now().Add(time.Hour))

	for i := 0; i < 2; i++ {
		resp := doRequest(t, env.server, request{
			method:  http.MethodGet,
			path:    "/v1/pages",
			headers: map[string]string{"Authorization": "Bearer " + token},
		})
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.Code)
		}
	}
	limited := doRequest(t, env.server, request{
		method:  http.MethodGet,
		path:    "/v1/pages",
		headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", limited.Code)
	}
	if limited.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", limited.Header().Get("Retry-After"))
	}
	resp := doRequest(t, env.server, request{
		method:  http.MethodGet,
		path:    "/v1/pages",
		headers: map[string]string{"Authorization": "Bearer " + other},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected separate budget per subject, got %d", resp.Code)
	}
}

func TestEventAssetHook(t *testing.T) {
	env := newTestEnv(t, ServerConfig{HookSecret: "hook-secret"})
	if _, err := env.controller.LoadPage(context.Background(), "Home"); err != nil {
		t.Fatalf("load page: %v", err)
	}
	body := []byte(`{"bannerImage":"https://cdn.example.com/new.png"}`)

	unsigned := doRawRequest(t, env.server, rawRequest{method: http.MethodPost, path: "/v1/hooks/event-assets", body: body})
	if unsigned.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned hook, got %d", unsigned.Code)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	headers := map[string]string{
		"X-Pagekeeper-Timestamp": timestamp,
		"X-Pagekeeper-Signature": signHook("hook-secret", timestamp, body),
	}
	signed := doRawRequest(t, env.server, rawRequest{method: http.MethodPost, path: "/v1/hooks/event-assets", headers: headers, body: body})
	if signed.Code != http.StatusOK {
		t.Fatalf("expected 200 for signed hook, got %d (%s)", signed.Code, signed.Body.String())
	}
	var result map[string]int
	_ = json.NewDecoder(signed.Body).Decode(&result)
	if result["updated"] != 1 {
		t.Fatalf("expected one page updated, got %v", result)
	}
	doc, _ := env.controller.Current("Home")
	if doc.Content[0].Props["image"] != "https://cdn.example.com/new.png" {
		t.Fatalf("expected banner to be replaced, got %v", doc.Content[0].Props["image"])
	}

	replay := doRawRequest(t, env.server, rawRequest{method: http.MethodPost, path: "/v1/hooks/event-assets", headers: headers, body: body})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected, got %d", replay.Code)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	httpServer := httptest.NewServer(env.server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial event stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// the subscription is registered after the upgrade; publish until seen
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				env.bus.Publish(events.Event{Type: events.Warning, Message: "ping"})
			}
		}
	}()

	var event events.Event
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != events.Warning || event.Message != "ping" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

type request struct {
	method  string
	path    string
	headers map[string]string
	body    map[string]any
}

type rawRequest struct {
	method  string
	path    string
	headers map[string]string
	body    []byte
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyBytes = data
	}
	return doRawRequest(t, server, rawRequest{method: r.method, path: r.path, headers: r.headers, body: bodyBytes})
}

func doRawRequest(t *testing.T, server http.Handler, r rawRequest) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(r.body))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func mustTestJWT(t *testing.T, secret, subject string, scopes []string, exp time.Time) string {
	return mustTestJWTWithAudience(t, secret, subject, scopes, tokenAudience, exp)
}

func mustTestJWTWithAudience(t *testing.T, secret, subject string, scopes []string, aud string, exp time.Time) string {
	t.Helper()
	headerBytes, err := json.Marshal(map[string]any{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		t.Fatalf("marshal jwt header: %v", err)
	}
	payloadBytes, err := json.Marshal(map[string]any{
		"sub":    subject,
		"scopes": scopes,
		"exp":    exp.Unix(),
		"aud":    aud,
	})
	if err != nil {
		t.Fatalf("marshal jwt payload: %v", err)
	}
	h := base64.RawURLEncoding.EncodeToString(headerBytes)
	p := base64.RawURLEncoding.EncodeToString(payloadBytes)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(h + "." + p))
	return h + "." + p + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
