package enroll

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

type Student struct {
	Name     string `json:"name" yaml:"name"`
	Class    string `json:"class,omitempty" yaml:"class,omitempty"`
	PhotoURL string `json:"photoUrl" yaml:"photo"`
}

// EmployeeNumber derives the terminal key for a display name: the first
// 8 hex digits of SHA-256 over the whitespace-normalised name. Distinct
// names can collide; the orchestrator detects that instead of overwriting.
func EmployeeNumber(name string) string {
	sum := sha256.Sum256([]byte(normalizeName(name)))
	return hex.EncodeToString(sum[:4])
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

type Step string

const (
	StepDownload   Step = "download"
	StepCreateUser Step = "createUser"
	StepUploadFace Step = "uploadFace"
	StepDeleteUser Step = "deleteUser"
	StepCancelled  Step = "cancelled"
)

type State string

const (
	StatePending      State = "pending"
	StateDownloaded   State = "downloaded"
	StateUserCreated  State = "userCreated"
	StateFaceUploaded State = "faceUploaded"
	StateFailed       State = "failed"
)

type StepOutcome string

const (
	OutcomeSkipped StepOutcome = "skipped"
	OutcomeOK      StepOutcome = "ok"
	OutcomeExisted StepOutcome = "existed"
	OutcomeFailed  StepOutcome = "failed"
)

type Steps struct {
	Download   StepOutcome `json:"download" yaml:"download"`
	CreateUser StepOutcome `json:"createUser" yaml:"create_user"`
	UploadFace StepOutcome `json:"uploadFace" yaml:"upload_face"`
}

// Result is the outcome of one student in one run.
type Result struct {
	StudentName string `json:"studentName" yaml:"student_name"`
	ClassName   string `json:"className,omitempty" yaml:"class_name,omitempty"`
	EmployeeNo  string `json:"employeeNo,omitempty" yaml:"employee_no,omitempty"`
	Steps       Steps  `json:"steps" yaml:"steps"`
	State       State  `json:"state" yaml:"state"`
	Success     bool   `json:"success" yaml:"success"`
	FailedStep  Step   `json:"failedStep,omitempty" yaml:"failed_step,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// DeleteResult is the outcome of one deleteUser call.
type DeleteResult struct {
	EmployeeNo    string `json:"employeeNo" yaml:"employee_no"`
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	Success       bool   `json:"success" yaml:"success"`
	AlreadyAbsent bool   `json:"alreadyAbsent,omitempty" yaml:"already_absent,omitempty"`
	FaceDeleted   bool   `json:"faceDeleted,omitempty" yaml:"face_deleted,omitempty"`
	FaceError     string `json:"faceError,omitempty" yaml:"face_error,omitempty"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

type Summary struct {
	Total        int `json:"total" yaml:"total"`
	SuccessCount int `json:"successCount" yaml:"success_count"`
	FailCount    int `json:"failCount" yaml:"fail_count"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d of %d succeeded", s.SuccessCount, s.Total)
}

func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.SuccessCount++
		} else {
			s.FailCount++
		}
	}
	return s
}

func SummarizeDeletes(results []DeleteResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.SuccessCount++
		} else {
			s.FailCount++
		}
	}
	return s
}
