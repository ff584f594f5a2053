package server

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/hnrobert/facenroll/internal/logger"
	"github.com/hnrobert/facenroll/internal/staff"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Token    string `json:"token,omitempty"`
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !readJSON(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	acct, err := a.staff.Verify(username, req.Password)
	if err != nil {
		logger.Info("Failed login attempt for %s from %s", username, remoteIP(r))
		writeError(w, statusFor(err), staff.HumanError(err))
		return
	}
	tok, err := a.sessions.Issue(acct.Name, string(acct.Role))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	logger.Info("Staff %s logged in from %s", acct.Name, remoteIP(r))
	a.issueCookie(w, tok)
	writeJSON(w, http.StatusOK, sessionResponse{Username: acct.Name, Role: string(acct.Role), Token: tok})
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.sessions.Revoke(claimsFrom(r))
	logger.Info("Staff %s logged out from %s", usernameFrom(r), remoteIP(r))
	a.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	cl := claimsFrom(r)
	writeJSON(w, http.StatusOK, sessionResponse{Username: cl.Username, Role: cl.Role})
}

type passwordRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

func (a *App) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !readJSON(w, r, &req) {
		return
	}
	name := usernameFrom(r)
	if _, err := a.staff.Verify(name, req.Current); err != nil {
		writeError(w, statusFor(err), staff.HumanError(err))
		return
	}
	if err := a.staff.SetPassword(name, req.New); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if name == bootstrapAdmin {
		if err := os.Remove(a.initialPW); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("could not remove %s: %v", a.initialPW, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleStaffList(w http.ResponseWriter, r *http.Request) {
	accts, err := a.staff.List()
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accts)
}

type staffAddRequest struct {
	Name     string     `json:"name"`
	Password string     `json:"password"`
	Role     staff.Role `json:"role"`
}

func (a *App) handleStaffAdd(w http.ResponseWriter, r *http.Request) {
	var req staffAddRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = staff.RoleStaff
	}
	if err := a.staff.Add(strings.TrimSpace(req.Name), req.Password, req.Role); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Info("Admin %s added staff account %s (%s)", usernameFrom(r), req.Name, req.Role)
	w.WriteHeader(http.StatusCreated)
}

type staffDeleteRequest struct {
	Name string `json:"name"`
}

func (a *App) handleStaffDelete(w http.ResponseWriter, r *http.Request) {
	var req staffDeleteRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == usernameFrom(r) {
		writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}
	if err := a.staff.Delete(req.Name); err != nil {
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
