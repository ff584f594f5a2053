package isapi

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/hnrobert/facenroll/internal/digest"
)

// GetDeviceInfo reads /ISAPI/System/deviceInfo.
func (g *Gateway) GetDeviceInfo(ctx context.Context, creds digest.Credentials) (DeviceInfo, error) {
	resp, _, err := g.call(ctx, creds, OpDeviceInfo, digest.Request{Method: http.MethodGet, Path: pathDeviceInfo})
	if err != nil {
		return DeviceInfo{}, err
	}
	info := parseDeviceInfo(string(resp.Body))
	if info.Model == "" && info.SerialNumber == "" {
		return DeviceInfo{}, fmt.Errorf("%s: unexpected response body", OpDeviceInfo)
	}
	return info, nil
}

// parseDeviceInfo pulls the handful of flat tags the terminal always sends.
func parseDeviceInfo(body string) DeviceInfo {
	return DeviceInfo{
		Name:            tagValue(body, "deviceName"),
		Model:           tagValue(body, "model"),
		SerialNumber:    tagValue(body, "serialNumber"),
		MacAddress:      tagValue(body, "macAddress"),
		FirmwareVersion: tagValue(body, "firmwareVersion"),
		FirmwareDate:    tagValue(body, "firmwareReleasedDate"),
	}
}

func tagValue(body, tag string) string {
	open := "<" + tag + ">"
	i := strings.Index(body, open)
	if i < 0 {
		return ""
	}
	rest := body[i+len(open):]
	j := strings.Index(rest, "</"+tag+">")
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(rest[:j]))
}
