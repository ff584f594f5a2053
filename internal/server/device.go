package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hnrobert/facenroll/internal/config"
	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/enroll"
	"github.com/hnrobert/facenroll/internal/logger"
	"github.com/hnrobert/facenroll/internal/roster"
)

type deviceRequest struct {
	Device digest.Credentials `json:"device"`
}

// prepare loads settings and checks the device address before any
// handler talks to the terminal.
func (a *App) prepare(w http.ResponseWriter, creds *digest.Credentials) (config.Config, bool) {
	creds.Address = strings.TrimSpace(creds.Address)
	if creds.Address == "" {
		writeError(w, http.StatusBadRequest, "device address is required")
		return config.Config{}, false
	}
	if err := a.allow.Check(creds.Address); err != nil {
		writeOpError(w, err)
		return config.Config{}, false
	}
	cfg, err := a.cfg.Get()
	if err != nil {
		writeOpError(w, err)
		return config.Config{}, false
	}
	return cfg, true
}

func (a *App) lockDevice(w http.ResponseWriter, r *http.Request, address string) (func(), bool) {
	release, err := a.devices.acquire(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "device is busy with another run")
		return nil, false
	}
	return release, true
}

func (a *App) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req digest.Credentials
	if !readJSON(w, r, &req) {
		return
	}
	cfg, ok := a.prepare(w, &req)
	if !ok {
		return
	}
	sum, err := a.gateway(cfg).Connect(r.Context(), req)
	if err != nil {
		logger.Warn("Staff %s could not connect to %s: %v", usernameFrom(r), req.Address, err)
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *App) handleListUsers(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !readJSON(w, r, &req) {
		return
	}
	cfg, ok := a.prepare(w, &req.Device)
	if !ok {
		return
	}
	users, err := a.gateway(cfg).SearchUsers(r.Context(), req.Device, 0)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type batchRequest struct {
	Device   digest.Credentials `json:"device"`
	Class    string             `json:"class,omitempty"`
	Students []enroll.Student   `json:"students,omitempty"`
}

type runResponse struct {
	RecordID string         `json:"recordId,omitempty"`
	Summary  enroll.Summary `json:"summary"`
	Message  string         `json:"message"`
	Results  any            `json:"results"`
}

// streamEvent is one NDJSON line of a streamed batch.
type streamEvent struct {
	Type     string          `json:"type"`
	Index    int             `json:"index,omitempty"`
	Total    int             `json:"total,omitempty"`
	Result   *enroll.Result  `json:"result,omitempty"`
	Summary  *enroll.Summary `json:"summary,omitempty"`
	RecordID string          `json:"recordId,omitempty"`
}

func (a *App) students(ctx context.Context, req batchRequest) ([]enroll.Student, error) {
	if req.Class == "" {
		return req.Students, nil
	}
	if a.roster == nil {
		return nil, errors.New("no roster is configured")
	}
	return a.roster.Students(ctx, req.Class)
}

func (a *App) handleBatchEnroll(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !readJSON(w, r, &req) {
		return
	}
	cfg, ok := a.prepare(w, &req.Device)
	if !ok {
		return
	}
	students, err := a.students(r.Context(), req)
	if err != nil {
		if errors.Is(err, roster.ErrUnknownClass) {
			writeOpError(w, err)
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	if len(students) == 0 {
		writeError(w, http.StatusBadRequest, "no students to enroll")
		return
	}
	release, ok := a.lockDevice(w, r, req.Device.Address)
	if !ok {
		return
	}
	defer release()

	logger.Info("Staff %s started batch enroll of %d students on %s", usernameFrom(r), len(students), req.Device.Address)
	rec := enroll.Record{Kind: enroll.KindEnroll, Device: req.Device.Address, Staff: usernameFrom(r), StartedAt: time.Now()}
	orch := a.orchestrator(cfg)

	if r.URL.Query().Get("stream") == "ndjson" {
		a.streamBatch(w, r, orch, req.Device, students, cfg, rec)
		return
	}

	results, sum := orch.BatchEnroll(r.Context(), req.Device, students)
	rec.Enrollments = results
	rec.Summary = sum
	id := a.record(rec, cfg)
	writeJSON(w, http.StatusOK, runResponse{RecordID: id, Summary: sum, Message: sum.String(), Results: results})
}

// streamBatch writes one NDJSON line per student as it finishes, then a
// summary line. A client that goes away cancels the rest of the run.
func (a *App) streamBatch(w http.ResponseWriter, r *http.Request, orch *enroll.Orchestrator, creds digest.Credentials, students []enroll.Student, cfg config.Config, rec enroll.Record) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	results := make([]enroll.Result, 0, len(students))
	for res := range orch.Run(r.Context(), creds, students) {
		results = append(results, res)
		ev := streamEvent{Type: "result", Index: len(results), Total: len(students), Result: &res}
		if err := enc.Encode(ev); err != nil {
			logger.Debug("server: stream write: %v", err)
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	sum := enroll.Summarize(results)
	rec.Enrollments = results
	rec.Summary = sum
	id := a.record(rec, cfg)
	_ = enc.Encode(streamEvent{Type: "summary", Summary: &sum, RecordID: id})
	if flusher != nil {
		flusher.Flush()
	}
}

type singleRequest struct {
	Device  digest.Credentials `json:"device"`
	Student enroll.Student     `json:"student"`
}

func (a *App) handleEnrollSingle(w http.ResponseWriter, r *http.Request) {
	var req singleRequest
	if !readJSON(w, r, &req) {
		return
	}
	cfg, ok := a.prepare(w, &req.Device)
	if !ok {
		return
	}
	release, ok := a.lockDevice(w, r, req.Device.Address)
	if !ok {
		return
	}
	defer release()

	rec := enroll.Record{Kind: enroll.KindEnroll, Device: req.Device.Address, Staff: usernameFrom(r), StartedAt: time.Now()}
	res := a.orchestrator(cfg).EnrollOne(r.Context(), req.Device, req.Student)
	rec.Enrollments = []enroll.Result{res}
	rec.Summary = enroll.Summarize(rec.Enrollments)
	id := a.record(rec, cfg)
	writeJSON(w, http.StatusOK, runResponse{RecordID: id, Summary: rec.Summary, Message: rec.Summary.String(), Results: rec.Enrollments})
}

type deleteRequest struct {
	Device     digest.Credentials `json:"device"`
	EmployeeNo string             `json:"employeeNo"`
}

func (a *App) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !readJSON(w, r, &req) {
		return
	}
	cfg, ok := a.prepare(w, &req.Device)
	if !ok {
		return
	}
	release, ok := a.lockDevice(w, r, req.Device.Address)
	if !ok {
		return
	}
	defer release()

	res := a.orchestrator(cfg).DeleteUser(r.Context(), req.Device, strings.TrimSpace(req.EmployeeNo))
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type bulkDeleteRequest struct {
	Device      digest.Credentials `json:"device"`
	EmployeeNos []string           `json:"employeeNos,omitempty"`
	Names       map[string]string  `json:"names,omitempty"`

	// Class deletes every roster student of the class by derived number.
	Class string `json:"class,omitempty"`
}

func (a *App) deleteTargets(ctx context.Context, req bulkDeleteRequest) ([]string, map[string]string, error) {
	if req.Class == "" {
		return req.EmployeeNos, req.Names, nil
	}
	students, err := a.students(ctx, batchRequest{Class: req.Class})
	if err != nil {
		return nil, nil, err
	}
	nos := make([]string, 0, len(students))
	names := make(map[string]string, len(students))
	for _, s := range students {
		emp := enroll.EmployeeNumber(s.Name)
		nos = append(nos, emp)
		names[emp] = s.Name
	}
	return nos, names, nil
}

func (a *App) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if !readJSON(w, r, &req) {
		return
	}
	cfg, ok := a.prepare(w, &req.Device)
	if !ok {
		return
	}
	nos, names, err := a.deleteTargets(r.Context(), req)
	if err != nil {
		if errors.Is(err, roster.ErrUnknownClass) {
			writeOpError(w, err)
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	if len(nos) == 0 {
		writeError(w, http.StatusBadRequest, "no employee numbers to delete")
		return
	}
	release, ok := a.lockDevice(w, r, req.Device.Address)
	if !ok {
		return
	}
	defer release()

	logger.Info("Staff %s started bulk delete of %d users on %s", usernameFrom(r), len(nos), req.Device.Address)
	rec := enroll.Record{Kind: enroll.KindDelete, Device: req.Device.Address, Staff: usernameFrom(r), StartedAt: time.Now()}
	results, sum := a.orchestrator(cfg).BulkDelete(r.Context(), req.Device, nos, names)
	rec.Deletions = results
	rec.Summary = sum
	id := a.record(rec, cfg)
	writeJSON(w, http.StatusOK, runResponse{RecordID: id, Summary: sum, Message: sum.String(), Results: results})
}

// record stores a finished run in history and returns its ID. A history
// failure is logged but never fails the run.
func (a *App) record(rec enroll.Record, cfg config.Config) string {
	rec.ID = enroll.NewRecordID()
	rec.FinishedAt = time.Now()
	if err := a.history.Append(rec, cfg.HistoryRetentionDays); err != nil {
		logger.Error("server: save run %s to history: %v", rec.ID, err)
		return ""
	}
	return rec.ID
}
