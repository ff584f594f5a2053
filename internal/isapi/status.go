package isapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hnrobert/facenroll/internal/digest"
)

// ResponseStatus is the JSON status object ISAPI returns on writes and errors.
type ResponseStatus struct {
	RequestURL    string `json:"requestURL,omitempty"`
	StatusCode    int    `json:"statusCode"`
	StatusString  string `json:"statusString"`
	SubStatusCode string `json:"subStatusCode"`
	ErrorCode     int    `json:"errorCode,omitempty"`
	ErrorMsg      string `json:"errorMsg,omitempty"`
}

// parseStatus decodes a ResponseStatus from body. ok is false when the body
// is not a status object.
func parseStatus(body []byte) (ResponseStatus, bool) {
	var rs ResponseStatus
	if len(body) == 0 || json.Unmarshal(body, &rs) != nil {
		return ResponseStatus{}, false
	}
	if rs.StatusCode == 0 && rs.SubStatusCode == "" && rs.StatusString == "" {
		return ResponseStatus{}, false
	}
	return rs, true
}

func (rs ResponseStatus) message() string {
	switch {
	case rs.ErrorMsg != "" && rs.SubStatusCode != "":
		return fmt.Sprintf("%s: %s", rs.SubStatusCode, rs.ErrorMsg)
	case rs.SubStatusCode != "" && rs.StatusString != "":
		return fmt.Sprintf("%s (%s)", rs.StatusString, rs.SubStatusCode)
	case rs.ErrorMsg != "":
		return rs.ErrorMsg
	default:
		return rs.StatusString
	}
}

// Op names a gateway operation for the decision table.
type Op string

const (
	OpAny          Op = ""
	OpDeviceInfo   Op = "deviceInfo"
	OpCapabilities Op = "capabilities"
	OpSearchUsers  Op = "searchUsers"
	OpUserCount    Op = "userCount"
	OpCreateUser   Op = "createUser"
	OpDeleteUser   Op = "deleteUser"
	OpUploadFace   Op = "uploadFace"
	OpDeleteFace   Op = "deleteFace"
	OpFaceCount    Op = "faceCount"
)

type Outcome int

const (
	Fatal Outcome = iota
	Success
	Retry
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	default:
		return "fatal"
	}
}

// rule matches (op, HTTP status, sub-status). Zero values match anything.
type rule struct {
	op      Op
	status  int
	sub     string
	outcome Outcome
}

// decisionTable is evaluated top to bottom; the first match wins and the
// default is Fatal.
var decisionTable = []rule{
	{op: OpCreateUser, sub: "employeeNoAlreadyExist", outcome: Success},
	{op: OpCreateUser, sub: "deviceUserAlreadyExist", outcome: Success},

	{op: OpDeleteUser, sub: "employeeNoNotExist", outcome: Success},
	{op: OpDeleteUser, sub: "userNotExist", outcome: Success},
	{op: OpDeleteUser, sub: "noMatchData", outcome: Success},
	{op: OpDeleteUser, status: http.StatusNotFound, outcome: Success},

	{op: OpDeleteFace, sub: "FPIDNotExist", outcome: Success},
	{op: OpDeleteFace, sub: "noMatchData", outcome: Success},
	{op: OpDeleteFace, sub: "faceNotExist", outcome: Success},
	{op: OpDeleteFace, status: http.StatusNotFound, outcome: Success},

	{op: OpCapabilities, status: http.StatusNotFound, outcome: Success},
	{op: OpCapabilities, sub: "notSupport", outcome: Success},
	{op: OpCapabilities, sub: "invalidOperation", outcome: Success},

	{sub: "deviceBusy", outcome: Retry},
	{status: http.StatusServiceUnavailable, outcome: Retry},
}

// Decide maps an operation's device answer to an outcome.
func Decide(op Op, status int, sub string) Outcome {
	for _, r := range decisionTable {
		if r.op != OpAny && r.op != op {
			continue
		}
		if r.status != 0 && r.status != status {
			continue
		}
		if r.sub != "" && r.sub != sub {
			continue
		}
		return r.outcome
	}
	return Fatal
}

// decide classifies err returned for op. Non-device errors are always Fatal.
func decide(op Op, err error) Outcome {
	var de *digest.DeviceError
	if !errors.As(err, &de) {
		return Fatal
	}
	return Decide(op, de.Status, de.SubStatusCode)
}

// SubStatus returns the device sub-status code carried by err, if any.
func SubStatus(err error) string {
	var de *digest.DeviceError
	if errors.As(err, &de) {
		return de.SubStatusCode
	}
	return ""
}
