package enroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindEnroll Kind = "enroll"
	KindDelete Kind = "delete"
)

// Record is a finished run as kept in history and rendered in reports.
type Record struct {
	ID          string         `json:"id" yaml:"id"`
	Kind        Kind           `json:"kind" yaml:"kind"`
	Device      string         `json:"device" yaml:"device"`
	Staff       string         `json:"staff,omitempty" yaml:"staff,omitempty"`
	StartedAt   time.Time      `json:"startedAt" yaml:"started_at"`
	FinishedAt  time.Time      `json:"finishedAt" yaml:"finished_at"`
	Summary     Summary        `json:"summary" yaml:"summary"`
	Enrollments []Result       `json:"enrollments,omitempty" yaml:"enrollments,omitempty"`
	Deletions   []DeleteResult `json:"deletions,omitempty" yaml:"deletions,omitempty"`
}

func NewRecordID() string {
	return uuid.NewString()
}

// Markdown renders r as a staff-facing report.
func (r Record) Markdown() string {
	sb := &strings.Builder{}
	title := "Enrollment run"
	if r.Kind == KindDelete {
		title = "Bulk delete run"
	}
	fmt.Fprintf(sb, "# %s\n\n", title)
	fmt.Fprintf(sb, "- Device: `%s`\n", r.Device)
	if r.Staff != "" {
		fmt.Fprintf(sb, "- Staff: %s\n", mdCell(r.Staff))
	}
	fmt.Fprintf(sb, "- Started: %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(sb, "- Finished: %s\n", r.FinishedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(sb, "- Result: **%s**\n\n", r.Summary)

	switch r.Kind {
	case KindDelete:
		writeDeletions(sb, r.Deletions)
	default:
		writeEnrollments(sb, r.Enrollments)
	}
	return sb.String()
}

func writeEnrollments(sb *strings.Builder, results []Result) {
	sb.WriteString("| # | Student | Class | Employee no | Download | Create user | Upload face | Result |\n")
	sb.WriteString("|---|---|---|---|---|---|---|---|\n")
	var failed []Result
	for i, res := range results {
		status := "ok"
		if !res.Success {
			status = "failed at " + string(res.FailedStep)
			failed = append(failed, res)
		}
		fmt.Fprintf(sb, "| %d | %s | %s | %s | %s | %s | %s | %s |\n",
			i+1, mdCell(res.StudentName), mdCell(res.ClassName), res.EmployeeNo,
			res.Steps.Download, res.Steps.CreateUser, res.Steps.UploadFace, status)
	}
	if len(failed) == 0 {
		return
	}
	sb.WriteString("\n## Failures\n\n")
	for _, res := range failed {
		fmt.Fprintf(sb, "- **%s** (%s): %s\n", mdCell(res.StudentName), res.FailedStep, mdCell(res.Error))
	}
}

func writeDeletions(sb *strings.Builder, results []DeleteResult) {
	sb.WriteString("| # | Employee no | Name | Face | Result |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for i, res := range results {
		face := "none"
		switch {
		case res.FaceDeleted:
			face = "deleted"
		case res.FaceError != "":
			face = "error: " + res.FaceError
		}
		status := "deleted"
		switch {
		case !res.Success:
			status = "failed: " + res.Error
		case res.AlreadyAbsent:
			status = "already absent"
		}
		fmt.Fprintf(sb, "| %d | %s | %s | %s | %s |\n", i+1, res.EmployeeNo, mdCell(res.Name), mdCell(face), mdCell(status))
	}
}

var mdEscaper = strings.NewReplacer("|", `\|`, "\n", " ", "\r", " ", "<", "&lt;", ">", "&gt;")

func mdCell(s string) string {
	return mdEscaper.Replace(s)
}
