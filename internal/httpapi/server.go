// Package httpapi exposes the session/page/dispatch/vision/render surface
// over HTTP, grounded on original_source/server/browser_server_enhanced.py's
// route table.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"browserd/internal/apperr"
	"browserd/internal/dispatch"
	"browserd/internal/render"
	"browserd/internal/session"
	"browserd/internal/vision"
)

// Server wires the HTTP surface to the core components. VisionKey may be
// empty; /screenshot_to_bounding_boxes then fails with VisionAuth unless
// the request carries its own api_key.
type Server struct {
	Sessions   *session.Manager
	Dispatcher *dispatch.Dispatcher
	APIKey     string
	VisionKey  string
	VisionModel string
	Log        *zap.Logger

	mux *http.ServeMux
}

// New builds the server and registers every route.
func New(sessions *session.Manager, dispatcher *dispatch.Dispatcher, apiKey, visionKey, visionModel string, log *zap.Logger) *Server {
	s := &Server{
		Sessions:    sessions,
		Dispatcher:  dispatcher,
		APIKey:      apiKey,
		VisionKey:   visionKey,
		VisionModel: visionModel,
		Log:         log,
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// Handler returns the auth-wrapped root handler, suitable for http.Server.Handler.
func (s *Server) Handler() http.Handler {
	return s.withAuth(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleHealth)
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions", s.handleListSessions)
	s.mux.HandleFunc("DELETE /sessions/{sid}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /sessions/{sid}/pages", s.handleCreatePage)
	s.mux.HandleFunc("GET /sessions/{sid}/pages/{pid}/url", s.handleGetPageURL)
	s.mux.HandleFunc("POST /pages/{pid}/command", s.handlePageCommand)
	s.mux.HandleFunc("POST /command", s.handleLineCommand)
	s.mux.HandleFunc("GET /pages/{pid}/console", s.handleConsoleLogs)
	s.mux.HandleFunc("GET /pages/{pid}/network", s.handleNetworkLogs)
	s.mux.HandleFunc("GET /pages/{pid}/errors", s.handleErrorLogs)
	s.mux.HandleFunc("GET /get_screenshot/{sid}/{pid}", s.handleGetScreenshot)
	s.mux.HandleFunc("POST /navigate_to", s.handleNavigateTo)
	s.mux.HandleFunc("POST /screenshot_to_bounding_boxes", s.handleScreenshotToBoundingBoxes)
	s.mux.HandleFunc("POST /visualize_bounding_boxes", s.handleVisualizeBoundingBoxes)
}

// withAuth enforces a bearer token from cfg.APIKey when one is configured;
// requests are unauthenticated otherwise.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.APIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("Authorization")
		if got != "Bearer "+s.APIKey {
			writeError(w, apperr.New(apperr.BadArguments, "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Kind    string         `json:"kind"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	ae := apperr.AsError(err)
	body := errorBody{}
	body.Error.Kind = string(ae.Kind)
	body.Error.Message = ae.Message
	body.Error.Details = ae.Details
	writeJSON(w, apperr.HTTPStatus(ae.Kind), body)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.New(apperr.BadArguments, "missing request body")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.BadArguments, err, "invalid JSON body")
	}
	return nil
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 60*time.Second)
}
