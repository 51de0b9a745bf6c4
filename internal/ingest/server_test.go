package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"warden/internal/bus"
	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/store"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	reg, err := logging.NewRegistry(t.TempDir(), logging.Config{})
	require.NoError(t, err)

	st, err := store.New(":memory:", reg.Get(logging.CategoryStore))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	b := bus.New()
	cfg := config.IngestConfig{AuthToken: "test-token"}
	limits := config.DefaultRuntimeLimits()

	s := New(cfg, limits, st, b, reg.Get(logging.CategoryIngest))
	return s, "test-token"
}

func TestHandlePingRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestHandleIntakeCreateRejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"content":"hello","externalId":"x1","sourceType":"web"}`
	req := httptest.NewRequest(http.MethodPost, "/api/intake", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleIntakeCreateRejectsWrongContentType(t *testing.T) {
	s, token := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/intake", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHandleIntakeCreateRejectsOversizedBody(t *testing.T) {
	s, token := newTestServer(t)
	s.maxPayload = 16

	huge := bytes.Repeat([]byte("x"), 4096)
	payload, err := json.Marshal(map[string]string{
		"content":    string(huge),
		"externalId": "x1",
		"sourceType": "web",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/intake", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleIntakeCreateRejectsInvalidSourceType(t *testing.T) {
	s, token := newTestServer(t)
	body := `{"content":"hello","externalId":"x1","sourceType":"carrier-pigeon"}`
	req := httptest.NewRequest(http.MethodPost, "/api/intake", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIntakeCreateAcceptsSnakeAndCamelCaseAndEmitsEvent(t *testing.T) {
	s, token := newTestServer(t)

	var gotIntakeID any
	s.bus.Subscribe(bus.EventIntakeCreated, func(e bus.Event) {
		gotIntakeID = e.Data.Metadata["intake_id"]
	})

	body := `{"content":"hello world","external_id":"x1","source_type":"gmail","source_url":"https://example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/intake", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["ok"])
	require.NotEmpty(t, resp["id"])
	require.NotEmpty(t, gotIntakeID)
}

func TestHandleIntakeCheckReportsExistence(t *testing.T) {
	s, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/intake/check?sourceType=web&externalId=missing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"exists":false}`, rec.Body.String())

	_, err := s.store.CreateIntakeItem(store.IntakeItem{SourceType: "web", ExternalID: "present", Content: "c"})
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/intake/check?sourceType=web&externalId=present", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"exists":true}`, rec.Body.String())
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	s, token := newTestServer(t)
	s.limiter = newSlidingWindowLimiter(2, rateLimitWindow)

	var lastCode int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/intake/check?sourceType=web&externalId=x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	require.Equal(t, http.StatusTooManyRequests, lastCode)
}
