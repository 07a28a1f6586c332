package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/mediaproof/internal/analysis/mock"
	"github.com/DukeRupert/mediaproof/internal/domain"
	"github.com/DukeRupert/mediaproof/internal/handler"
	"github.com/DukeRupert/mediaproof/internal/middleware"
	"github.com/DukeRupert/mediaproof/internal/session"
	"github.com/DukeRupert/mediaproof/internal/storage"
	"github.com/DukeRupert/mediaproof/internal/store"
)

const operator = "ops@mediaproof.example"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	dir := t.TempDir()

	local, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath: dir,
		BaseURL:  "http://media.example/files",
	}, logger)
	require.NoError(t, err)

	sessions := session.NewManager(session.Config{
		Rules:    domain.NewRules(domain.DefaultCatalog(), domain.NewIdentity(operator)),
		Store:    store.NewMemory(),
		Uploader: storage.NewObjectUploader(local, 1<<20, logger),
		Analyzer: mock.New(logger),
		Logger:   logger,
	})

	limiter := middleware.NewRateLimiter(3, time.Minute)
	t.Cleanup(limiter.Stop)

	srv := httptest.NewServer(newRouter(routerConfig{
		API:             handler.NewAPI(sessions, 1<<20, logger),
		Sessions:        sessions,
		Logger:          logger,
		SignInLimiter:   limiter,
		MetricsEnabled:  true,
		MetricsUsername: "prom",
		MetricsPassword: "scrape",
		FilesPrefix:     "/files",
		FilesDir:        dir,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, u, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, u, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func upload(t *testing.T, u, filename, contentType, content string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="file"; filename="` + filename + `"`},
		"Content-Type":        {contentType},
	})
	require.NoError(t, err)
	_, _ = io.WriteString(part, content)
	require.NoError(t, mw.Close())

	resp, err := http.Post(u, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestRoutes_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestRoutes_UnknownRouteIsJSON404(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, domain.ENOTFOUND, body["error"].(map[string]any)["code"])
}

func TestRoutes_SessionRequiresSignIn(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/ann@example.com", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, domain.ENOTAUTHENTICATED, body["error"].(map[string]any)["code"])
}

func TestRoutes_SubmissionFlow(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1/sessions/" + url.PathEscape("ann@example.com")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"identity":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["credits_remaining"])

	// Scenario: a free user exhausts the daily quota.
	for i := 0; i < 2; i++ {
		resp, body = upload(t, base+"/submissions?wait=true", "photo.png", "image/png", "pixels")
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.Equal(t, "complete", body["attempt"].(map[string]any)["state"])
	}
	resp, body = upload(t, base+"/submissions", "photo.png", "image/png", "pixels")
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, domain.EQUOTAEXHAUSTED, body["error"].(map[string]any)["code"])

	// Free plans keep no history.
	resp, body = doJSON(t, http.MethodGet, base+"/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["records"])

	// Upgrade regrants the quota and unlocks history.
	resp, body = doJSON(t, http.MethodPut, base+"/plan", `{"plan":"individual"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 20, body["credits_remaining"])

	resp, body = upload(t, base+"/submissions?wait=true", "voice.mp3", "audio/mpeg", "samples")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	attempt := body["attempt"].(map[string]any)
	assert.Equal(t, "complete", attempt["state"])
	assert.EqualValues(t, 19, body["credits_remaining"])

	// The stored upload is served back at its locator.
	locator, err := url.Parse(attempt["locator"].(string))
	require.NoError(t, err)
	fileResp, err := http.Get(srv.URL + locator.Path)
	require.NoError(t, err)
	data, _ := io.ReadAll(fileResp.Body)
	fileResp.Body.Close()
	assert.Equal(t, "samples", string(data))

	resp, body = doJSON(t, http.MethodGet, base+"/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := body["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "voice.mp3", records[0].(map[string]any)["label"])

	// Video is still locked on individual.
	resp, body = upload(t, base+"/submissions", "clip.mp4", "video/mp4", "frames")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, domain.EFEATURELOCKED, body["error"].(map[string]any)["code"])

	resp, body = doJSON(t, http.MethodDelete, base+"/submissions/current", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["attempt"].(map[string]any)["state"])
}

func TestRoutes_OperatorBypass(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1/sessions/" + url.PathEscape(operator)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"identity":"`+operator+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for i := 0; i < 3; i++ {
		resp, body := upload(t, base+"/submissions", "clip.mp4", "video/mp4", "frames")
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.Equal(t, "complete", body["attempt"].(map[string]any)["state"])
		assert.EqualValues(t, 2, body["credits_remaining"])
	}
}

func TestRoutes_SignInRateLimited(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"identity":"ann@example.com"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", `{"identity":"ann@example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, middleware.ERATELIMITED, body["error"].(map[string]any)["code"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Other routes are not throttled.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/plans", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutes_MetricsRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	// Record at least one request.
	doJSON(t, http.MethodGet, srv.URL+"/v1/plans", "")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	require.NoError(t, err)
	req.SetBasicAuth("prom", "scrape")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "mediaproof_http_requests_total")
}
