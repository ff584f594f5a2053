package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hnrobert/facenroll/internal/invite"
	"github.com/hnrobert/facenroll/internal/logger"
	"github.com/hnrobert/facenroll/internal/staff"
)

func (a *App) handleInviteList(w http.ResponseWriter, r *http.Request) {
	invs, err := a.invites.List()
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invs)
}

type inviteCreateRequest struct {
	Role         staff.Role `json:"role,omitempty"`
	MaxUses      int        `json:"maxUses"`
	ExpiresHours int        `json:"expiresHours,omitempty"`
}

func (a *App) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	var req inviteCreateRequest
	if !readJSON(w, r, &req) {
		return
	}
	var expires time.Time
	if req.ExpiresHours > 0 {
		expires = time.Now().Add(time.Duration(req.ExpiresHours) * time.Hour)
	}
	inv, err := a.invites.Create(usernameFrom(r), req.Role, req.MaxUses, expires)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Info("Admin %s created invite %s (%s, max uses %d)", usernameFrom(r), inv.ID, inv.Role, inv.MaxUses)
	writeJSON(w, http.StatusCreated, inv)
}

func (a *App) handleInviteDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := a.invites.Delete(req.ID); err != nil {
		if errors.Is(err, invite.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Invite   string `json:"invite"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// handleRegister creates a staff account from a valid invite and logs the
// new account in.
func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !readJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	inv, err := a.invites.Validate(req.Invite)
	if err != nil {
		logger.Info("Rejected registration for %s from %s: %v", name, remoteIP(r), err)
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if err := a.staff.Add(name, req.Password, inv.Role); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.invites.Consume(inv.ID, name, remoteIP(r)); err != nil {
		// Lost a race for the last use; undo the account.
		_ = a.staff.Delete(name)
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	tok, err := a.sessions.Issue(name, string(inv.Role))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	logger.Info("Staff %s registered with invite %s from %s", name, inv.ID, remoteIP(r))
	a.issueCookie(w, tok)
	writeJSON(w, http.StatusCreated, sessionResponse{Username: name, Role: string(inv.Role), Token: tok})
}
