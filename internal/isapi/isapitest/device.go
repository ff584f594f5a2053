// Package isapitest is an in-memory access-control terminal speaking the
// subset of ISAPI the gateway uses, served behind Digest authentication.
package isapitest

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/hnrobert/facenroll/internal/digest/digesttest"
)

const (
	Realm    = "IP Camera(K12345678)"
	Username = "admin"
	Password = "Hik12345"
)

type User struct {
	EmployeeNo string
	Name       string
	UserType   string
}

type Device struct {
	mu sync.Mutex

	users []User
	faces map[string][]byte

	// NoCapabilities makes the capability endpoints answer 404.
	NoCapabilities bool
	// RejectFace, when set, decides whether an uploaded image is refused
	// with a face-detection error.
	RejectFace func(employeeNo string, img []byte) bool
	// BusyNext answers the next n requests with 503.
	BusyNext int
	// FaceDeleteFails makes FDDelete answer 500.
	FaceDeleteFails bool

	requests []string
}

func NewDevice() *Device {
	return &Device{faces: map[string][]byte{}}
}

// Start serves d behind Digest authentication with the package credentials.
func (d *Device) Start() *digesttest.Server {
	return digesttest.NewServer(Realm, Username, Password, d)
}

// AddUser seeds a person record.
func (d *Device) AddUser(employeeNo, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, User{EmployeeNo: employeeNo, Name: name, UserType: "normal"})
}

func (d *Device) Users() []User {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]User, len(d.users))
	copy(out, d.users)
	return out
}

func (d *Device) Face(employeeNo string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.faces[employeeNo]
}

// Requests lists "METHOD path" for every authenticated request served.
func (d *Device) Requests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.requests))
	copy(out, d.requests)
	return out
}

func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, r.Method+" "+r.URL.Path)

	if d.BusyNext > 0 {
		d.BusyNext--
		writeStatus(w, http.StatusServiceUnavailable, 7, "Upgrading", "deviceBusy")
		return
	}

	switch r.Method + " " + r.URL.Path {
	case "GET /ISAPI/System/deviceInfo":
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, deviceInfoXML)
	case "GET /ISAPI/AccessControl/UserInfo/capabilities":
		if d.NoCapabilities {
			writeStatus(w, http.StatusNotFound, 4, "Invalid Operation", "notSupport")
			return
		}
		writeJSON(w, map[string]any{"UserInfo": map[string]any{"maxRecordNum": 3000}})
	case "GET /ISAPI/Intelligent/FDLib/capabilities":
		if d.NoCapabilities {
			writeStatus(w, http.StatusNotFound, 4, "Invalid Operation", "notSupport")
			return
		}
		writeJSON(w, map[string]any{"FDRecordDataMaxNum": 1500})
	case "GET /ISAPI/AccessControl/UserInfo/Count":
		writeJSON(w, map[string]any{"UserInfoCount": map[string]any{"userNumber": len(d.users)}})
	case "GET /ISAPI/Intelligent/FDLib/Count":
		writeJSON(w, map[string]any{"FDRecordDataInfo": []map[string]any{
			{"FDID": "1", "faceLibType": "blackFD", "recordDataNumber": len(d.faces)},
		}})
	case "POST /ISAPI/AccessControl/UserInfo/Search":
		d.search(w, r)
	case "POST /ISAPI/AccessControl/UserInfo/Record":
		d.createUser(w, r)
	case "PUT /ISAPI/AccessControl/UserInfo/Delete":
		d.deleteUser(w, r)
	case "PUT /ISAPI/Intelligent/FDLib/FDSetUp":
		d.setUpFace(w, r)
	case "PUT /ISAPI/Intelligent/FDLib/FDDelete":
		d.deleteFace(w, r)
	default:
		writeStatus(w, http.StatusNotFound, 4, "Invalid Operation", "notSupport")
	}
}

const deviceInfoXML = `<?xml version="1.0" encoding="UTF-8"?>
<DeviceInfo version="2.0" xmlns="http://www.isapi.org/ver20/XMLSchema">
<deviceName>Main Gate</deviceName>
<deviceID>255</deviceID>
<model>DS-K1T341AM</model>
<serialNumber>DS-K1T341AM20230101AAWRK12345678</serialNumber>
<macAddress>44:a6:42:00:11:22</macAddress>
<firmwareVersion>V3.2.30</firmwareVersion>
<firmwareReleasedDate>build 220915</firmwareReleasedDate>
<deviceType>ACS</deviceType>
</DeviceInfo>`

func (d *Device) indexOf(employeeNo string) int {
	for i, u := range d.users {
		if u.EmployeeNo == employeeNo {
			return i
		}
	}
	return -1
}

func (d *Device) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserInfoSearchCond struct {
			SearchID             string `json:"searchID"`
			SearchResultPosition int    `json:"searchResultPosition"`
			MaxResults           int    `json:"maxResults"`
			EmployeeNoList       []struct {
				EmployeeNo string `json:"employeeNo"`
			} `json:"EmployeeNoList"`
		} `json:"UserInfoSearchCond"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserInfoSearchCond.SearchID == "" {
		writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "badJsonContent")
		return
	}
	cond := req.UserInfoSearchCond
	matches := d.users
	if len(cond.EmployeeNoList) > 0 {
		want := map[string]bool{}
		for _, e := range cond.EmployeeNoList {
			want[e.EmployeeNo] = true
		}
		matches = nil
		for _, u := range d.users {
			if want[u.EmployeeNo] {
				matches = append(matches, u)
			}
		}
	}
	start := cond.SearchResultPosition
	if start > len(matches) {
		start = len(matches)
	}
	end := start + cond.MaxResults
	if end > len(matches) {
		end = len(matches)
	}
	page := matches[start:end]
	status := "OK"
	switch {
	case len(matches) == 0:
		status = "NO MATCH"
	case end < len(matches):
		status = "MORE"
	}
	rows := make([]map[string]any, 0, len(page))
	for _, u := range page {
		numFace := 0
		if _, ok := d.faces[u.EmployeeNo]; ok {
			numFace = 1
		}
		rows = append(rows, map[string]any{
			"employeeNo": u.EmployeeNo, "name": u.Name, "userType": u.UserType,
			"numOfCard": 0, "numOfFace": numFace, "numOfFP": 0,
		})
	}
	writeJSON(w, map[string]any{"UserInfoSearch": map[string]any{
		"searchID":           cond.SearchID,
		"responseStatusStrg": status,
		"numOfMatches":       len(page),
		"totalMatches":       len(matches),
		"UserInfo":           rows,
	}})
}

func (d *Device) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserInfo struct {
			EmployeeNo string `json:"employeeNo"`
			Name       string `json:"name"`
			UserType   string `json:"userType"`
		} `json:"UserInfo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserInfo.EmployeeNo == "" {
		writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "badJsonContent")
		return
	}
	if d.indexOf(req.UserInfo.EmployeeNo) >= 0 {
		writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "employeeNoAlreadyExist")
		return
	}
	d.users = append(d.users, User{EmployeeNo: req.UserInfo.EmployeeNo, Name: req.UserInfo.Name, UserType: req.UserInfo.UserType})
	writeStatus(w, http.StatusOK, 1, "OK", "ok")
}

func (d *Device) deleteUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserInfoDelCond struct {
			EmployeeNoList []struct {
				EmployeeNo string `json:"employeeNo"`
			} `json:"EmployeeNoList"`
		} `json:"UserInfoDelCond"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UserInfoDelCond.EmployeeNoList) == 0 {
		writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "badJsonContent")
		return
	}
	for _, e := range req.UserInfoDelCond.EmployeeNoList {
		i := d.indexOf(e.EmployeeNo)
		if i < 0 {
			writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "employeeNoNotExist")
			return
		}
		d.users = append(d.users[:i], d.users[i+1:]...)
		delete(d.faces, e.EmployeeNo)
	}
	writeStatus(w, http.StatusOK, 1, "OK", "ok")
}

func (d *Device) setUpFace(w http.ResponseWriter, r *http.Request) {
	mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mt, "multipart/") {
		writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "badContentType")
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	var (
		rec struct {
			FaceLibType string `json:"faceLibType"`
			FDID        string `json:"FDID"`
			FPID        string `json:"FPID"`
			Name        string `json:"name"`
		}
		img []byte
	)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "badMultipart")
			return
		}
		b, _ := io.ReadAll(p)
		switch p.FormName() {
		case "FaceDataRecord":
			if json.Unmarshal(b, &rec) != nil {
				writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "badJsonContent")
				return
			}
		case "img":
			img = b
		}
	}
	if rec.FPID == "" || rec.FDID == "" || len(img) == 0 {
		writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "badParameters")
		return
	}
	if d.indexOf(rec.FPID) < 0 {
		writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "employeeNoNotExist")
		return
	}
	if d.RejectFace != nil && d.RejectFace(rec.FPID, img) {
		writeStatusMsg(w, http.StatusBadRequest, 6, "Invalid Content", "faceDataModelingFailed", "face modeling failed: no face detected")
		return
	}
	d.faces[rec.FPID] = img
	writeStatus(w, http.StatusOK, 1, "OK", "ok")
}

func (d *Device) deleteFace(w http.ResponseWriter, r *http.Request) {
	if d.FaceDeleteFails {
		writeStatus(w, http.StatusInternalServerError, 3, "Device Error", "deviceError")
		return
	}
	var req struct {
		FPID []struct {
			Value string `json:"value"`
		} `json:"FPID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.FPID) == 0 {
		writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "badJsonContent")
		return
	}
	for _, f := range req.FPID {
		if _, ok := d.faces[f.Value]; !ok {
			writeStatus(w, http.StatusBadRequest, 6, "Invalid Content", "FPIDNotExist")
			return
		}
		delete(d.faces, f.Value)
	}
	writeStatus(w, http.StatusOK, 1, "OK", "ok")
}

// SortedEmployeeNos is a convenience for assertions.
func (d *Device) SortedEmployeeNos() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u.EmployeeNo)
	}
	sort.Strings(out)
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, httpStatus, code int, str, sub string) {
	writeStatusMsg(w, httpStatus, code, str, sub, "")
}

func writeStatusMsg(w http.ResponseWriter, httpStatus, code int, str, sub, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	body := map[string]any{"statusCode": code, "statusString": str, "subStatusCode": sub}
	if msg != "" {
		body["errorMsg"] = msg
	}
	_ = json.NewEncoder(w).Encode(body)
}
