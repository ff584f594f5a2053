package isapi

type DeviceInfo struct {
	Name            string `json:"name"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serialNumber"`
	MacAddress      string `json:"macAddress"`
	FirmwareVersion string `json:"firmwareVersion"`
	FirmwareDate    string `json:"firmwareReleasedDate,omitempty"`
}

// EnrolledUser is a read-only view of one person record on the device.
type EnrolledUser struct {
	EmployeeNo       string `json:"employeeNo"`
	Name             string `json:"name"`
	UserType         string `json:"userType"`
	FaceCount        int    `json:"faceCount"`
	CardCount        int    `json:"cardCount"`
	FingerprintCount int    `json:"fingerprintCount"`
}

// Capabilities is optional; Supported is false when the firmware does not
// expose the capability endpoints.
type Capabilities struct {
	Supported bool `json:"supported"`
	MaxUsers  int  `json:"maxUsers"`
	MaxFaces  int  `json:"maxFaces"`
}

// DeviceSummary is what a staff member sees after connecting.
type DeviceSummary struct {
	Address      string        `json:"address"`
	Info         DeviceInfo    `json:"info"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
	UserCount    *int          `json:"userCount,omitempty"`
	FaceCount    *int          `json:"faceCount,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// wire formats

type userInfoWire struct {
	EmployeeNo string `json:"employeeNo"`
	Name       string `json:"name"`
	UserType   string `json:"userType"`
	NumOfCard  int    `json:"numOfCard"`
	NumOfFace  int    `json:"numOfFace"`
	NumOfFP    int    `json:"numOfFP"`
}

func (w userInfoWire) user() EnrolledUser {
	return EnrolledUser{
		EmployeeNo:       w.EmployeeNo,
		Name:             w.Name,
		UserType:         w.UserType,
		FaceCount:        w.NumOfFace,
		CardCount:        w.NumOfCard,
		FingerprintCount: w.NumOfFP,
	}
}

type employeeNoRef struct {
	EmployeeNo string `json:"employeeNo"`
}

type searchCond struct {
	SearchID             string          `json:"searchID"`
	SearchResultPosition int             `json:"searchResultPosition"`
	MaxResults           int             `json:"maxResults"`
	EmployeeNoList       []employeeNoRef `json:"EmployeeNoList,omitempty"`
}

type searchRequest struct {
	UserInfoSearchCond searchCond `json:"UserInfoSearchCond"`
}

type searchResponse struct {
	UserInfoSearch struct {
		SearchID           string         `json:"searchID"`
		ResponseStatusStrg string         `json:"responseStatusStrg"`
		NumOfMatches       int            `json:"numOfMatches"`
		TotalMatches       int            `json:"totalMatches"`
		UserInfo           []userInfoWire `json:"UserInfo"`
	} `json:"UserInfoSearch"`
}

type validWire struct {
	Enable    bool   `json:"enable"`
	BeginTime string `json:"beginTime"`
	EndTime   string `json:"endTime"`
	TimeType  string `json:"timeType"`
}

type rightPlanWire struct {
	DoorNo         int    `json:"doorNo"`
	PlanTemplateNo string `json:"planTemplateNo"`
}

type userRecordWire struct {
	EmployeeNo string          `json:"employeeNo"`
	Name       string          `json:"name"`
	UserType   string          `json:"userType"`
	Valid      validWire       `json:"Valid"`
	DoorRight  string          `json:"doorRight"`
	RightPlan  []rightPlanWire `json:"RightPlan"`
}

type userRecordRequest struct {
	UserInfo userRecordWire `json:"UserInfo"`
}

type userDeleteRequest struct {
	UserInfoDelCond struct {
		EmployeeNoList []employeeNoRef `json:"EmployeeNoList"`
	} `json:"UserInfoDelCond"`
}

type fpidRef struct {
	Value string `json:"value"`
}

type faceDeleteRequest struct {
	FaceLibType string    `json:"faceLibType"`
	FDID        string    `json:"FDID"`
	FPID        []fpidRef `json:"FPID"`
}

type faceRecordWire struct {
	FaceLibType string `json:"faceLibType"`
	FDID        string `json:"FDID"`
	FPID        string `json:"FPID"`
	Name        string `json:"name"`
}

type faceCountResponse struct {
	FDRecordDataInfo []struct {
		FDID             string `json:"FDID"`
		FaceLibType      string `json:"faceLibType"`
		RecordDataNumber int    `json:"recordDataNumber"`
	} `json:"FDRecordDataInfo"`
}

type userCountResponse struct {
	UserInfoCount struct {
		UserNumber int `json:"userNumber"`
	} `json:"UserInfoCount"`
}

type userCapsResponse struct {
	UserInfo struct {
		MaxRecordNum int `json:"maxRecordNum"`
	} `json:"UserInfo"`
}

type faceCapsResponse struct {
	FDRecordDataMaxNum int `json:"FDRecordDataMaxNum"`
}
