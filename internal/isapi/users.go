package isapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/logger"
)

var ErrInvalidEmployeeNo = errors.New("invalid employee number")

// maxSearchPages stops a misbehaving device from keeping the cursor loop alive.
const maxSearchPages = 1000

// SearchUsers pages through the whole user directory with pageSize rows
// per request (<= 0 uses the configured page size).
func (g *Gateway) SearchUsers(ctx context.Context, creds digest.Credentials, pageSize int) ([]EnrolledUser, error) {
	return g.search(ctx, creds, pageSize, nil)
}

// FindUser returns the user with employeeNo, or nil when the device has none.
func (g *Gateway) FindUser(ctx context.Context, creds digest.Credentials, employeeNo string) (*EnrolledUser, error) {
	if err := validEmployeeNo(employeeNo); err != nil {
		return nil, err
	}
	users, err := g.search(ctx, creds, 1, []employeeNoRef{{EmployeeNo: employeeNo}})
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].EmployeeNo == employeeNo {
			return &users[i], nil
		}
	}
	return nil, nil
}

func (g *Gateway) search(ctx context.Context, creds digest.Credentials, pageSize int, filter []employeeNoRef) ([]EnrolledUser, error) {
	if pageSize <= 0 {
		pageSize = g.opts.PageSize
	}
	searchID := uuid.New().String()
	var out []EnrolledUser
	for page := 0; page < maxSearchPages; page++ {
		req := searchRequest{UserInfoSearchCond: searchCond{
			SearchID:             searchID,
			SearchResultPosition: len(out),
			MaxResults:           pageSize,
			EmployeeNoList:       filter,
		}}
		var resp searchResponse
		if _, err := g.sendJSON(ctx, creds, OpSearchUsers, http.MethodPost, pathUserSearch, req, &resp); err != nil {
			return nil, err
		}
		s := resp.UserInfoSearch
		if len(s.UserInfo) == 0 || strings.EqualFold(s.ResponseStatusStrg, "NO MATCH") {
			break
		}
		for _, u := range s.UserInfo {
			out = append(out, u.user())
		}
		if s.TotalMatches > 0 && len(out) >= s.TotalMatches {
			break
		}
		if strings.EqualFold(s.ResponseStatusStrg, "OK") && s.TotalMatches == 0 {
			break
		}
	}
	logger.Debug("isapi: %s listed %d users", creds.Address, len(out))
	return out, nil
}

// UserCount returns the number of person records on the device.
func (g *Gateway) UserCount(ctx context.Context, creds digest.Credentials) (int, error) {
	var resp userCountResponse
	if _, err := g.getJSON(ctx, creds, OpUserCount, pathUserCount, &resp); err != nil {
		return 0, err
	}
	return resp.UserInfoCount.UserNumber, nil
}

// CreateUser adds a person record. created is false when the device
// already held employeeNo; that is not an error.
func (g *Gateway) CreateUser(ctx context.Context, creds digest.Credentials, employeeNo, name string) (created bool, err error) {
	if err := validEmployeeNo(employeeNo); err != nil {
		return false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("%s: empty name", OpCreateUser)
	}
	req := userRecordRequest{UserInfo: userRecordWire{
		EmployeeNo: employeeNo,
		Name:       name,
		UserType:   g.opts.UserType,
		Valid: validWire{
			Enable:    true,
			BeginTime: g.opts.ValidBegin,
			EndTime:   g.opts.ValidEnd,
			TimeType:  "local",
		},
		DoorRight: g.opts.DoorRight,
		RightPlan: []rightPlanWire{{DoorNo: 1, PlanTemplateNo: g.opts.PlanTemplateNo}},
	}}
	benign, err := g.sendJSON(ctx, creds, OpCreateUser, http.MethodPost, pathUserRecord, req, nil)
	if err != nil {
		return false, err
	}
	if benign != nil {
		logger.Info("isapi: %s already holds employee %s", creds.Address, employeeNo)
		return false, nil
	}
	logger.Info("isapi: created employee %s on %s", employeeNo, creds.Address)
	return true, nil
}

// DeleteOutcome describes what DeleteUser actually removed.
type DeleteOutcome struct {
	FaceDeleted   bool   `json:"faceDeleted"`
	FaceError     string `json:"faceError,omitempty"`
	AlreadyAbsent bool   `json:"alreadyAbsent"`
}

// DeleteUser removes face data first, then the person record. A failing
// face delete is logged and does not stop the user delete; an absent user
// is reported through AlreadyAbsent, not as an error.
func (g *Gateway) DeleteUser(ctx context.Context, creds digest.Credentials, employeeNo string) (DeleteOutcome, error) {
	if err := validEmployeeNo(employeeNo); err != nil {
		return DeleteOutcome{}, err
	}
	var out DeleteOutcome
	deleted, err := g.DeleteFace(ctx, creds, employeeNo)
	switch {
	case err == nil:
		out.FaceDeleted = deleted
	case errors.Is(err, ErrAddressNotAllowed):
		return DeleteOutcome{}, err
	default:
		var authErr *digest.AuthenticationError
		if errors.As(err, &authErr) {
			return DeleteOutcome{}, err
		}
		logger.Warn("isapi: face delete for %s on %s failed, continuing with user delete: %v", employeeNo, creds.Address, err)
		out.FaceError = err.Error()
	}

	var req userDeleteRequest
	req.UserInfoDelCond.EmployeeNoList = []employeeNoRef{{EmployeeNo: employeeNo}}
	benign, err := g.sendJSON(ctx, creds, OpDeleteUser, http.MethodPut, pathUserDelete, req, nil)
	if err != nil {
		return out, err
	}
	out.AlreadyAbsent = benign != nil
	logger.Info("isapi: deleted employee %s on %s (already absent: %v)", employeeNo, creds.Address, out.AlreadyAbsent)
	return out, nil
}

func validEmployeeNo(employeeNo string) error {
	if employeeNo == "" || len(employeeNo) > 32 || strings.ContainsAny(employeeNo, " \t\r\n\"\\/") {
		return fmt.Errorf("%w: %q", ErrInvalidEmployeeNo, employeeNo)
	}
	return nil
}
