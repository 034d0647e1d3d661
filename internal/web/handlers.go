package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/ops"
	"github.com/hpungsan/spr/internal/settings"
)

// maxBodyBytes caps request bodies on the RPC routes.
const maxBodyBytes = 1 << 20

// dashboardLogs is how many activity entries the dashboard shows.
const dashboardLogs = 20

// Handlers contains HTTP route handlers for the local RPC and dashboard.
type Handlers struct {
	svc      *ops.Service
	renderer *Renderer
	logger   *slog.Logger
}

// HandleDashboard handles GET /: status, recent prompts and activity.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := h.svc.GetStatus(ctx)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	recent, err := h.svc.GetRecent(ctx, ops.GetRecentInput{Summary: true})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	logs, err := h.svc.GetLogs(ctx, dashboardLogs)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "dashboard", DashboardPageData{
		PageData: PageData{
			Title:   "Dashboard",
			Version: h.renderer.version,
			Nav:     "dashboard",
			Flash:   r.URL.Query().Get("flash"),
		},
		Status: snap,
		Recent: recent.Summaries,
		Logs:   logs,
	})
}

// HandlePrompt handles GET /prompts/{id}: one captured prompt.
func (h *Handlers) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	ev, err := h.svc.GetPrompt(r.Context(), r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "prompt", PromptPageData{
		PageData: PageData{
			Title:   ev.Site + " prompt",
			Version: h.renderer.version,
			Nav:     "dashboard",
		},
		Event:        ev,
		RenderedHTML: renderMarkdown(ev.PromptText),
	})
}

// HandleSync handles POST /sync from the dashboard form.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.TriggerSync(r.Context(), ops.TriggerSyncInput{})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	msg := "Sync already running"
	if out.Started {
		msg = "Sync started"
	}
	redirectFlash(w, r, msg)
}

// HandleRetryFailed handles POST /retry-failed from the dashboard form.
func (h *Handlers) HandleRetryFailed(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.RetryFailed(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	redirectFlash(w, r, strconv.Itoa(len(out.Reset))+" prompt(s) queued for retry")
}

// HandleSettingsForm handles POST /settings from the dashboard form.
func (h *Handlers) HandleSettingsForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	var u settings.Update
	if r.Form.Has("serverUrl") {
		v := r.FormValue("serverUrl")
		u.ServerURL = &v
	}
	if r.Form.Has("apiToken") && r.FormValue("apiToken") != "" {
		v := r.FormValue("apiToken")
		u.APIToken = &v
	}
	// Checkboxes are absent when unchecked; the hidden marker says the form carried them.
	if r.Form.Has("toggles") {
		recording := r.Form.Has("recording")
		autoSync := r.Form.Has("autoSync")
		u.Recording = &recording
		u.AutoSync = &autoSync
	}

	if _, err := h.svc.SetSettings(r.Context(), u); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	redirectFlash(w, r, "Settings saved")
}

// HandleRPC handles POST /rpc: one local RPC message.
func (h *Handlers) HandleRPC(w http.ResponseWriter, r *http.Request) {
	var msg ops.Message
	if err := decodeBody(w, r, &msg); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	resp := h.svc.Dispatch(r.Context(), msg)
	code := http.StatusOK
	if !resp.OK {
		code = statusForCode(resp.Code)
	}
	renderJSON(w, code, resp)
}

// HandleAPIStatus handles GET /api/status.
func (h *Handlers) HandleAPIStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetStatus(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, snap)
}

// HandleAPIRecent handles GET /api/recent.
func (h *Handlers) HandleAPIRecent(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetRecent(r.Context(), ops.GetRecentInput{
		Limit:   parseIntParam(r, "limit", 0),
		Summary: parseBoolParam(r, "summary"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPILogs handles GET /api/logs.
func (h *Handlers) HandleAPILogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.svc.GetLogs(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// HandleAPISave handles POST /api/prompts.
func (h *Handlers) HandleAPISave(w http.ResponseWriter, r *http.Request) {
	var in ops.SavePromptInput
	if err := decodeBody(w, r, &in); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := h.svc.SavePrompt(r.Context(), in)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	code := http.StatusOK
	if out.Captured {
		code = http.StatusCreated
	}
	renderJSON(w, code, out)
}

// HandleAPISettings handles POST /api/settings.
func (h *Handlers) HandleAPISettings(w http.ResponseWriter, r *http.Request) {
	var in settings.Update
	if err := decodeBody(w, r, &in); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := h.svc.SetSettings(r.Context(), in)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPISync handles POST /api/sync. ?wait=true runs the cycle in the request.
func (h *Handlers) HandleAPISync(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.TriggerSync(r.Context(), ops.TriggerSyncInput{Wait: parseBoolParam(r, "wait")})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	code := http.StatusOK
	if !parseBoolParam(r, "wait") && out.Started {
		code = http.StatusAccepted
	}
	renderJSON(w, code, out)
}

// HandleAPIRetryFailed handles POST /api/retry-failed.
func (h *Handlers) HandleAPIRetryFailed(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.RetryFailed(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// decodeBody decodes a JSON request body into out. An empty body leaves out
// unchanged; a non-empty one must be sent as application/json, which a browser
// cannot do cross-site without a preflight.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.NewInvalidRequest("request body too large")
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil
	}
	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
		return errors.NewMediaType(ct)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// statusForCode maps an error code to its HTTP status.
func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalidRequest:
		return http.StatusBadRequest
	case errors.ErrForbidden:
		return http.StatusForbidden
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrMediaType:
		return http.StatusUnsupportedMediaType
	case errors.ErrNotConfigured:
		return http.StatusPreconditionFailed
	case errors.ErrDelivery:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// redirectFlash redirects to the dashboard with a one-line message.
func redirectFlash(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, "/?flash="+url.QueryEscape(msg), http.StatusSeeOther)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
