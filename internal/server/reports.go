package server

import (
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/hnrobert/facenroll/internal/config"
	"github.com/hnrobert/facenroll/internal/enroll"
	"github.com/hnrobert/facenroll/internal/logger"
)

var reportPage = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:60rem;margin:2rem auto;padding:0 1rem;color:#222}
table{border-collapse:collapse;width:100%}
th,td{border:1px solid #ccc;padding:.3rem .5rem;text-align:left}
.notice{background:#fff8e1;border-left:4px solid #f0b400;padding:.5rem 1rem;margin-bottom:1rem}
</style>
</head>
<body>
{{if .Notice}}<div class="notice">{{.Notice}}</div>{{end}}
{{.Body}}
</body>
</html>
`))

type reportView struct {
	Title  string
	Notice template.HTML
	Body   template.HTML
}

func (a *App) handleRoster(w http.ResponseWriter, r *http.Request) {
	if a.roster == nil {
		writeError(w, http.StatusNotFound, "no roster is configured")
		return
	}
	class := r.URL.Query().Get("class")
	if class == "" {
		classes, err := a.roster.Classes(r.Context())
		if err != nil {
			writeOpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, classes)
		return
	}
	students, err := a.roster.Students(r.Context(), class)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

// historyEntry is the list view of a run; per-student results are only
// returned by the single-run endpoint.
type historyEntry struct {
	ID         string         `json:"id"`
	Kind       enroll.Kind    `json:"kind"`
	Device     string         `json:"device"`
	Staff      string         `json:"staff,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Summary    enroll.Summary `json:"summary"`
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 time")
			return
		}
		since = t
	}
	recs := a.history.List(since, limit)
	out := make([]historyEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, historyEntry{
			ID:         rec.ID,
			Kind:       rec.Kind,
			Device:     rec.Device,
			Staff:      rec.Staff,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
			Summary:    rec.Summary,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.history.Get(r.PathValue("id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handleReport(w http.ResponseWriter, r *http.Request) {
	rec, err := a.history.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	cfg, _ := a.cfg.Get()
	view := reportView{
		Title: string(rec.Kind) + " run on " + rec.Device,
		Body:  RenderMarkdown(rec.Markdown()),
	}
	if cfg.ReportNotice != "" {
		view.Notice = RenderMarkdown(cfg.ReportNotice)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := reportPage.Execute(w, view); err != nil {
		logger.Error("report %s: template execution failed: %v", rec.ID, err)
	}
}

func (a *App) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.cfg.Get()
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *App) handleSettingsSet(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if !readJSON(w, r, &cfg) {
		return
	}
	saved, err := a.cfg.Set(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Info("Admin %s updated settings", usernameFrom(r))
	writeJSON(w, http.StatusOK, saved)
}

type noticeRequest struct {
	Markdown string `json:"markdown"`
}

// handleNoticeSet replaces only the report notice, leaving device settings alone.
func (a *App) handleNoticeSet(w http.ResponseWriter, r *http.Request) {
	var req noticeRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := a.cfg.SetReportNotice(req.Markdown); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
