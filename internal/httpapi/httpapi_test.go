package httpapi_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"browserd/internal/backend"
	"browserd/internal/config"
	"browserd/internal/dispatch"
	"browserd/internal/httpapi"
	"browserd/internal/session"
)

type stubBackend struct{}

func (stubBackend) Launch(ctx context.Context, kind backend.BrowserKind, headless bool) (backend.BrowserHandle, error) {
	return stubHandle{}, nil
}

type stubHandle struct{}

func (stubHandle) NewPage(ctx context.Context, url string) (backend.Page, error) {
	return &stubPage{url: url}, nil
}
func (stubHandle) Close(ctx context.Context) error { return nil }

type stubPage struct {
	mu  sync.Mutex
	url string
}

func (p *stubPage) Goto(ctx context.Context, url, waitUntil string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return url, nil
}
func (p *stubPage) Click(ctx context.Context, selector string) error       { return nil }
func (p *stubPage) ClickXY(ctx context.Context, x, y float64) error        { return nil }
func (p *stubPage) Fill(ctx context.Context, selector, value string) error { return nil }
func (p *stubPage) Type(ctx context.Context, selector, text string) error  { return nil }
func (p *stubPage) Press(ctx context.Context, selector, key string) error  { return nil }
func (p *stubPage) SelectOption(ctx context.Context, selector, value string) error {
	return nil
}
func (p *stubPage) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	return nil
}
func (p *stubPage) WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error {
	return nil
}
func (p *stubPage) Screenshot(ctx context.Context, fullPage bool, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.White)
		}
	}
	_ = png.Encode(&buf, img)
	return buf.Bytes(), nil
}
func (p *stubPage) Evaluate(ctx context.Context, expression string, argument any) (any, error) {
	return expression, nil
}
func (p *stubPage) GetInfo(ctx context.Context) (string, string, backend.Viewport, error) {
	return p.url, "Title", backend.Viewport{Width: 1024, Height: 768}, nil
}
func (p *stubPage) Reload(ctx context.Context) (string, error)  { return p.url, nil }
func (p *stubPage) Back(ctx context.Context) (string, error)    { return p.url, nil }
func (p *stubPage) Forward(ctx context.Context) (string, error) { return p.url, nil }
func (p *stubPage) Subscribe(ctx context.Context) (backend.Subscription, error) {
	c := make(chan backend.ConsoleEvent)
	n := make(chan backend.NetworkEvent)
	return backend.Subscription{Console: c, Network: n, Cancel: func() { close(c); close(n) }}, nil
}
func (p *stubPage) Closed() bool                    { return false }
func (p *stubPage) Close(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, apiKey string) (*httpapi.Server, *session.Manager) {
	t.Helper()
	cfg := config.DefaultConfig()
	mgr := session.New(cfg, stubBackend{}, zap.NewNop())
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	disp := dispatch.New(mgr, 2*time.Second, false, zap.NewNop())
	srv := httpapi.New(mgr, disp, apiKey, "", "", zap.NewNop())
	return srv, mgr
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "running", body["status"])
}

func TestCreateListDeleteSessionRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"headless": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	sid, _ := created["session_id"].(string)
	require.NotEmpty(t, sid)

	rec = doJSON(t, h, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.EqualValues(t, 1, listed["count"])

	rec = doJSON(t, h, http.MethodDelete, "/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/sessions/"+sid, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePageAndDispatchCommand(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"headless": true})
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	sid := created["session_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/sessions/"+sid+"/pages?url=https://example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	pid := page["page_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/pages/"+pid+"/command", map[string]any{
		"command": "goto",
		"args":    []any{"https://go.dev"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "https://go.dev", result["url"])
}

func TestPageCommandTypeTwoPositionalArgs(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"headless": true})
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	sid := created["session_id"].(string)
	rec = doJSON(t, h, http.MethodPost, "/sessions/"+sid+"/pages?url=https://example.com", nil)
	var page map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	pid := page["page_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/pages/"+pid+"/command", map[string]any{
		"command": "type",
		"args":    []any{"#email", "hello"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPageCommandPressTwoPositionalArgs(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"headless": true})
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	sid := created["session_id"].(string)
	rec = doJSON(t, h, http.MethodPost, "/sessions/"+sid+"/pages?url=https://example.com", nil)
	var page map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	pid := page["page_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/pages/"+pid+"/command", map[string]any{
		"command": "press",
		"args":    []any{"#field", "Enter"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLineCommandEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"headless": true})
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	sid := created["session_id"].(string)
	rec = doJSON(t, h, http.MethodPost, "/sessions/"+sid+"/pages?url=https://example.com", nil)
	var page map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	pid := page["page_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/command", map[string]any{
		"session_id": sid,
		"page_id":    pid,
		"command":    "page.click('#submit')",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLineCommandEndpointRejectsMismatchedSession(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"headless": true})
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	sid := created["session_id"].(string)
	rec = doJSON(t, h, http.MethodPost, "/sessions/"+sid+"/pages?url=https://example.com", nil)
	var page map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	pid := page["page_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/command", map[string]any{
		"session_id": "wrong-session",
		"page_id":    pid,
		"command":    "page.click('#submit')",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownPageReturns404(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/pages/nope/console", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBearerAuthRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerAuthAcceptsValidToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVisualizeBoundingBoxesRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.White)
		}
	}
	require.NoError(t, png.Encode(&buf, img))
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	rec := doJSON(t, h, http.MethodPost, "/visualize_bounding_boxes", map[string]any{
		"screenshot":     encoded,
		"bounding_boxes": [][4]int{{100, 100, 500, 500}},
		"mode":           "bbox",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Contains(t, result["visualized_image"], "data:image/png;base64,")
}
