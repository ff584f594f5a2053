// Package enroll drives multi-student workflows against one terminal:
// batch enroll, single enroll and bulk delete. Students are processed one
// at a time, in order, and a failing student never stops the run.
package enroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/isapi"
	"github.com/hnrobert/facenroll/internal/logger"
	"github.com/hnrobert/facenroll/internal/photo"
)

var ErrEmployeeNoCollision = errors.New("employee number collision")

// Gateway is the part of *isapi.Gateway the orchestrator drives.
type Gateway interface {
	CreateUser(ctx context.Context, creds digest.Credentials, employeeNo, name string) (bool, error)
	FindUser(ctx context.Context, creds digest.Credentials, employeeNo string) (*isapi.EnrolledUser, error)
	UploadFace(ctx context.Context, creds digest.Credentials, employeeNo, name string, jpeg []byte) error
	DeleteUser(ctx context.Context, creds digest.Credentials, employeeNo string) (isapi.DeleteOutcome, error)
}

type Orchestrator struct {
	gw         Gateway
	photos     photo.Store
	employeeNo func(name string) string
}

type Option func(*Orchestrator)

// WithEmployeeNumber replaces the name to employee number derivation.
func WithEmployeeNumber(fn func(name string) string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.employeeNo = fn
		}
	}
}

func New(gw Gateway, photos photo.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{gw: gw, photos: photos, employeeNo: EmployeeNumber}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run enrolls students in order and sends one Result per student on the
// returned channel, which is closed after the last one. The channel is
// buffered for the whole batch, so an abandoned reader never blocks the
// run. Once ctx is done the remaining students are reported as cancelled.
func (o *Orchestrator) Run(ctx context.Context, creds digest.Credentials, students []Student) <-chan Result {
	out := make(chan Result, len(students))
	go func() {
		defer close(out)
		seen := make(map[string]string, len(students))
		for i, s := range students {
			if err := ctx.Err(); err != nil {
				for _, rest := range students[i:] {
					out <- o.cancelled(rest, err)
				}
				return
			}
			r := o.enroll(ctx, creds, s, seen)
			logResult(creds.Address, i+1, len(students), r)
			out <- r
		}
	}()
	return out
}

// BatchEnroll drains Run and returns the full per-student log.
func (o *Orchestrator) BatchEnroll(ctx context.Context, creds digest.Credentials, students []Student) ([]Result, Summary) {
	results := make([]Result, 0, len(students))
	for r := range o.Run(ctx, creds, students) {
		results = append(results, r)
	}
	sum := Summarize(results)
	logger.Info("enroll: batch on %s finished: %s", creds.Address, sum)
	return results, sum
}

func (o *Orchestrator) EnrollOne(ctx context.Context, creds digest.Credentials, s Student) Result {
	r := o.enroll(ctx, creds, s, nil)
	logResult(creds.Address, 1, 1, r)
	return r
}

func newResult(s Student) Result {
	return Result{
		StudentName: normalizeName(s.Name),
		ClassName:   s.Class,
		Steps:       Steps{Download: OutcomeSkipped, CreateUser: OutcomeSkipped, UploadFace: OutcomeSkipped},
		State:       StatePending,
	}
}

// enroll walks one student through Pending, Downloaded, UserCreated and
// FaceUploaded. seen tracks employee numbers already claimed in this run.
func (o *Orchestrator) enroll(ctx context.Context, creds digest.Credentials, s Student, seen map[string]string) Result {
	name := normalizeName(s.Name)
	r := newResult(s)
	if name == "" {
		return fail(r, StepCreateUser, errors.New("student name is empty"))
	}
	r.EmployeeNo = o.employeeNo(name)
	if seen != nil {
		if other, ok := seen[r.EmployeeNo]; ok && other != name {
			return fail(r, StepCreateUser, fmt.Errorf("%w: %s is already used by %q in this batch", ErrEmployeeNoCollision, r.EmployeeNo, other))
		}
		seen[r.EmployeeNo] = name
	}

	img, err := o.photos.Fetch(ctx, s.PhotoURL)
	if err != nil {
		return fail(r, StepDownload, err)
	}
	r.Steps.Download = OutcomeOK
	r.State = StateDownloaded

	created, err := o.gw.CreateUser(ctx, creds, r.EmployeeNo, name)
	if err != nil {
		return fail(r, StepCreateUser, err)
	}
	if created {
		r.Steps.CreateUser = OutcomeOK
	} else {
		existing, err := o.gw.FindUser(ctx, creds, r.EmployeeNo)
		switch {
		case err != nil:
			logger.Warn("enroll: could not verify existing employee %s on %s: %v", r.EmployeeNo, creds.Address, err)
		case existing != nil && normalizeName(existing.Name) != name:
			return fail(r, StepCreateUser, fmt.Errorf("%w: %s already belongs to %q on the device", ErrEmployeeNoCollision, r.EmployeeNo, existing.Name))
		}
		r.Steps.CreateUser = OutcomeExisted
	}
	r.State = StateUserCreated

	if err := o.gw.UploadFace(ctx, creds, r.EmployeeNo, name, img); err != nil {
		return fail(r, StepUploadFace, err)
	}
	r.Steps.UploadFace = OutcomeOK
	r.State = StateFaceUploaded
	r.Success = true
	return r
}

func (o *Orchestrator) cancelled(s Student, cause error) Result {
	r := newResult(s)
	if name := normalizeName(s.Name); name != "" {
		r.EmployeeNo = o.employeeNo(name)
	}
	r.State = StateFailed
	r.FailedStep = StepCancelled
	r.Error = "cancelled before processing: " + cause.Error()
	return r
}

func fail(r Result, step Step, err error) Result {
	switch step {
	case StepDownload:
		r.Steps.Download = OutcomeFailed
	case StepCreateUser:
		r.Steps.CreateUser = OutcomeFailed
	case StepUploadFace:
		r.Steps.UploadFace = OutcomeFailed
	}
	r.State = StateFailed
	r.FailedStep = step
	r.Error = Describe(step, err)
	return r
}

// Describe turns a step error into the message staff see in the result
// log, keeping the raw device text.
func Describe(step Step, err error) string {
	var (
		authErr      *digest.AuthenticationError
		challengeErr *digest.ChallengeError
		transportErr *digest.TransportError
		deviceErr    *digest.DeviceError
	)
	switch {
	case errors.Is(err, isapi.ErrAddressNotAllowed):
		return "device address not allowed: " + err.Error()
	case errors.As(err, &authErr):
		return "invalid credentials: " + err.Error()
	case errors.As(err, &transportErr):
		return "network issue: " + err.Error()
	case errors.As(err, &challengeErr):
		return "device did not offer digest authentication: " + err.Error()
	case errors.Is(err, photo.ErrNotAnImage), errors.Is(err, photo.ErrTooLarge), errors.Is(err, photo.ErrBadURL):
		return "unusable photo: " + err.Error()
	case errors.As(err, &deviceErr) && step == StepUploadFace:
		return "device rejected face image: " + err.Error()
	case errors.As(err, &deviceErr):
		return "device error: " + err.Error()
	case step == StepDownload:
		return "photo download failed: " + err.Error()
	}
	return err.Error()
}

func logResult(address string, n, total int, r Result) {
	if r.Success {
		existed := ""
		if r.Steps.CreateUser == OutcomeExisted {
			existed = " (user existed)"
		}
		logger.Info("enroll: [%d/%d] %s -> %s on %s enrolled%s", n, total, r.StudentName, r.EmployeeNo, address, existed)
		return
	}
	logger.Warn("enroll: [%d/%d] %s failed at %s on %s: %s", n, total, r.StudentName, r.FailedStep, address, r.Error)
}

// BulkDelete deletes employeeNos one at a time and returns one result per
// entry. names optionally labels results for the report.
func (o *Orchestrator) BulkDelete(ctx context.Context, creds digest.Credentials, employeeNos []string, names map[string]string) ([]DeleteResult, Summary) {
	results := make([]DeleteResult, 0, len(employeeNos))
	for i, emp := range employeeNos {
		if err := ctx.Err(); err != nil {
			for _, rest := range employeeNos[i:] {
				results = append(results, DeleteResult{EmployeeNo: rest, Name: names[rest], Error: "cancelled before processing: " + err.Error()})
			}
			break
		}
		r := o.DeleteUser(ctx, creds, emp)
		r.Name = names[emp]
		results = append(results, r)
	}
	sum := SummarizeDeletes(results)
	logger.Info("enroll: bulk delete on %s finished: %s", creds.Address, sum)
	return results, sum
}

func (o *Orchestrator) DeleteUser(ctx context.Context, creds digest.Credentials, employeeNo string) DeleteResult {
	r := DeleteResult{EmployeeNo: employeeNo}
	out, err := o.gw.DeleteUser(ctx, creds, employeeNo)
	if err != nil {
		r.Error = Describe(StepDeleteUser, err)
		logger.Warn("enroll: delete %s on %s failed: %s", employeeNo, creds.Address, r.Error)
		return r
	}
	r.Success = true
	r.AlreadyAbsent = out.AlreadyAbsent
	r.FaceDeleted = out.FaceDeleted
	r.FaceError = out.FaceError
	return r
}
