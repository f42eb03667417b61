package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"browserd/internal/apperr"
	"browserd/internal/backend"
	"browserd/internal/capture"
	"browserd/internal/dispatch"
	"browserd/internal/render"
	"browserd/internal/vision"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions := s.Sessions.ListSessions(r.Context())
	pages := 0
	for _, sess := range sessions {
		pages += len(sess.Pages)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "running",
		"sessions": len(sessions),
		"pages":    pages,
		"version":  "1.0",
	})
}

type createSessionRequest struct {
	BrowserType string `json:"browser_type"`
	Headless    bool   `json:"headless"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.BrowserType == "" {
		req.BrowserType = string(backend.Chromium)
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	id, err := s.Sessions.CreateSession(ctx, backend.BrowserKind(req.BrowserType), req.Headless)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "created", "headless": req.Headless})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries := s.Sessions.ListSessions(r.Context())
	type pageView struct {
		PageID string `json:"page_id"`
		URL    string `json:"url"`
		Title  string `json:"title"`
	}
	type sessionView struct {
		SessionID   string     `json:"session_id"`
		CreatedAt   string     `json:"created_at"`
		Headless    bool       `json:"headless"`
		BrowserType string     `json:"browser_type"`
		Pages       []pageView `json:"pages"`
	}
	views := make([]sessionView, 0, len(summaries))
	for _, sum := range summaries {
		pages := make([]pageView, 0, len(sum.Pages))
		for _, p := range sum.Pages {
			pages = append(pages, pageView{PageID: p.ID, URL: p.URL, Title: p.Title})
		}
		views = append(views, sessionView{
			SessionID:   sum.ID,
			CreatedAt:   sum.CreatedAt.Format(time.RFC3339),
			Headless:    sum.Headless,
			BrowserType: string(sum.Kind),
			Pages:       pages,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views, "count": len(views)})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := s.Sessions.DeleteSession(ctx, sid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "closed"})
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	url := r.URL.Query().Get("url")
	ctx, cancel := requestContext(r)
	defer cancel()

	pid, err := s.Sessions.CreatePage(ctx, sid, url)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page_id": pid, "session_id": sid})
}

func (s *Server) handleGetPageURL(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	h, err := s.Sessions.LookupPage(pid)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	url, title, _, err := h.Backend.GetInfo(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "title": title})
}

type commandRequest struct {
	Command string         `json:"command"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
}

// toCommand maps the legacy free-form {command, args, kwargs} body onto the
// dispatch table's tagged Command, the same fields ParseLine produces.
func toCommand(req commandRequest) dispatch.Command {
	cmd := dispatch.Command{Name: dispatch.Name(req.Command)}
	arg := func(i int) (any, bool) {
		if i < len(req.Args) {
			return req.Args[i], true
		}
		return nil, false
	}
	str := func(v any) string {
		s, _ := v.(string)
		return s
	}
	num := func(v any) float64 {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
		return 0
	}

	switch cmd.Name {
	case dispatch.Goto:
		if v, ok := arg(0); ok {
			cmd.URL = str(v)
		}
		if v, ok := req.Kwargs["wait_until"]; ok {
			cmd.WaitUntil = str(v)
		}
	case dispatch.Click, dispatch.MouseClickXY:
		if pos, ok := req.Kwargs["position"]; ok {
			if m, ok := pos.(map[string]any); ok {
				cmd.HasPosition = true
				cmd.X = num(m["x"])
				cmd.Y = num(m["y"])
			}
		} else if v, ok := arg(0); ok {
			cmd.Selector = str(v)
		}
	case dispatch.Fill:
		if v, ok := arg(0); ok {
			cmd.Selector = str(v)
		}
		if v, ok := arg(1); ok {
			cmd.Value = str(v)
		}
	case dispatch.Type:
		if len(req.Args) >= 2 {
			if v, ok := arg(0); ok {
				cmd.Selector = str(v)
			}
			if v, ok := arg(1); ok {
				cmd.Text = str(v)
			}
		} else {
			if v, ok := req.Kwargs["selector"]; ok {
				cmd.Selector = str(v)
			}
			if v, ok := arg(0); ok {
				cmd.Text = str(v)
			}
		}
	case dispatch.Press:
		if len(req.Args) >= 2 {
			if v, ok := arg(0); ok {
				cmd.Selector = str(v)
			}
			if v, ok := arg(1); ok {
				cmd.Key = str(v)
			}
		} else {
			if v, ok := req.Kwargs["selector"]; ok {
				cmd.Selector = str(v)
			}
			if v, ok := arg(0); ok {
				cmd.Key = str(v)
			}
		}
	case dispatch.SelectOption:
		if v, ok := arg(0); ok {
			cmd.Selector = str(v)
		}
		if v, ok := arg(1); ok {
			cmd.Value = str(v)
		}
	case dispatch.WaitForSelector:
		if v, ok := arg(0); ok {
			cmd.Selector = str(v)
		}
		if v, ok := req.Kwargs["state"]; ok {
			cmd.State = str(v)
		}
		if v, ok := req.Kwargs["timeout"]; ok {
			cmd.TimeoutMs = int(num(v))
		}
	case dispatch.WaitForLoadState:
		if v, ok := arg(0); ok {
			cmd.State = str(v)
		}
		if v, ok := req.Kwargs["timeout"]; ok {
			cmd.TimeoutMs = int(num(v))
		}
	case dispatch.Wait:
		if v, ok := arg(0); ok {
			cmd.WaitMs = int(num(v))
		}
	case dispatch.Screenshot:
		if v, ok := req.Kwargs["path"]; ok {
			cmd.Path = str(v)
		}
		if v, ok := req.Kwargs["full_page"]; ok {
			if b, ok := v.(bool); ok {
				cmd.FullPage = b
			}
		}
		if v, ok := req.Kwargs["format"]; ok {
			cmd.Format = str(v)
		}
		if v, ok := req.Kwargs["quality"]; ok {
			cmd.Quality = int(num(v))
		}
	case dispatch.Evaluate:
		if v, ok := arg(0); ok {
			cmd.Expression = str(v)
		}
		if v, ok := req.Kwargs["arg"]; ok {
			cmd.Argument = v
		}
	}
	return cmd
}

func (s *Server) handlePageCommand(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	res, err := s.Dispatcher.Execute(ctx, pid, toCommand(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type lineCommandRequest struct {
	SessionID string `json:"session_id"`
	PageID    string `json:"page_id"`
	Command   string `json:"command"`
}

func (s *Server) handleLineCommand(w http.ResponseWriter, r *http.Request) {
	var req lineCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h, err := s.Sessions.LookupPage(req.PageID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID != "" && h.SessionID != req.SessionID {
		writeError(w, apperr.New(apperr.PageNotFound, "page does not belong to session"))
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	res, err := s.Dispatcher.ExecuteLine(ctx, req.PageID, req.Command)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConsoleLogs(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	h, err := s.Sessions.LookupPage(pid)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	query := capture.ConsoleQuery{TextContains: q.Get("text_contains"), Limit: 100}
	if kinds := q["types"]; len(kinds) > 0 {
		query.Kinds = map[string]struct{}{}
		for _, k := range kinds {
			query.Kinds[k] = struct{}{}
		}
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		query.Limit = l
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		query.Since = t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		query.Until = t
	}
	logs := h.Recorder.QueryConsole(query)
	writeJSON(w, http.StatusOK, map[string]any{
		"page_id":         pid,
		"logs":            logs,
		"count":           len(logs),
		"total_captured":  h.Recorder.TotalConsoleCaptured(),
	})
}

func (s *Server) handleNetworkLogs(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	h, err := s.Sessions.LookupPage(pid)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	query := capture.NetworkQuery{URLContains: q.Get("url_contains"), Limit: 100}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		query.Limit = l
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		query.Since = t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		query.Until = t
	}
	logs := h.Recorder.QueryNetwork(query)
	writeJSON(w, http.StatusOK, map[string]any{"page_id": pid, "logs": logs, "count": len(logs)})
}

func (s *Server) handleErrorLogs(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	h, err := s.Sessions.LookupPage(pid)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	logs := h.Recorder.QueryErrors(limit)
	writeJSON(w, http.StatusOK, map[string]any{"page_id": pid, "errors": logs, "count": len(logs)})
}

func (s *Server) handleGetScreenshot(w http.ResponseWriter, r *http.Request) {
	sid, pid := r.PathValue("sid"), r.PathValue("pid")
	h, err := s.Sessions.LookupPage(pid)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.SessionID != sid {
		writeError(w, apperr.New(apperr.PageNotFound, "page does not belong to session"))
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	data, err := h.Backend.Screenshot(ctx, false, "png", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"screenshot": base64.StdEncoding.EncodeToString(data),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

type navigateToRequest struct {
	SessionID string `json:"session_id"`
	PageID    string `json:"page_id"`
	URL       string `json:"url"`
}

func (s *Server) handleNavigateTo(w http.ResponseWriter, r *http.Request) {
	var req navigateToRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h, err := s.Sessions.LookupPage(req.PageID)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.SessionID != req.SessionID {
		writeError(w, apperr.New(apperr.PageNotFound, "page does not belong to session"))
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	h.Mutex.Lock()
	url, err := h.Backend.Goto(ctx, req.URL, "")
	h.Mutex.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	_, title, _, _ := h.Backend.GetInfo(ctx)
	s.Sessions.TouchSession(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "url": url, "title": title})
}

type boundingBoxRequest struct {
	Screenshot string `json:"screenshot"`
	APIKey     string `json:"api_key"`
	Prompt     string `json:"prompt"`
}

func decodeScreenshotField(s string) ([]byte, error) {
	if idx := strings.Index(s, ","); strings.HasPrefix(s, "data:image") && idx >= 0 {
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadArguments, err, "invalid base64 screenshot")
	}
	return data, nil
}

func (s *Server) handleScreenshotToBoundingBoxes(w http.ResponseWriter, r *http.Request) {
	var req boundingBoxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	data, err := decodeScreenshotField(req.Screenshot)
	if err != nil {
		writeError(w, err)
		return
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = s.VisionKey
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	detector, err := vision.New(ctx, apiKey, s.VisionModel, s.Log)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, boxes, err := detector.Detect(ctx, data, "image/png", req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"raw_response": raw,
		"coordinates":  boxes,
		"count":        len(boxes),
	})
}

type visualizeRequest struct {
	Screenshot    string       `json:"screenshot"`
	BoundingBoxes []vision.Box `json:"bounding_boxes"`
	Mode          string       `json:"mode"`
}

func (s *Server) handleVisualizeBoundingBoxes(w http.ResponseWriter, r *http.Request) {
	var req visualizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	data, err := decodeScreenshotField(req.Screenshot)
	if err != nil {
		writeError(w, err)
		return
	}
	img, _, err := render.Decode(data)
	if err != nil {
		writeError(w, err)
		return
	}
	bounds := img.Bounds()
	rects := make([]render.Rect, 0, len(req.BoundingBoxes))
	for _, b := range req.BoundingBoxes {
		px := b.ToPixels(bounds.Dx(), bounds.Dy())
		rects = append(rects, render.Rect{X1: px.X1, Y1: px.Y1, X2: px.X2, Y2: px.Y2})
	}
	mode := render.ModeBoundingBox
	if req.Mode == "crosshair" {
		mode = render.ModeCrosshair
	}
	out := render.Render(img, rects, mode)
	encoded, err := render.Encode(out, "png")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"visualized_image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(encoded),
		"mode":             req.Mode,
	})
}
