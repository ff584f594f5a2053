package isapi

import (
	"context"
	"errors"

	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/logger"
)

// GetCapabilities reports user and face capacity. Firmware without the
// capability endpoints yields Supported=false and no error; transport and
// authentication failures are still returned.
func (g *Gateway) GetCapabilities(ctx context.Context, creds digest.Credentials) (Capabilities, error) {
	var caps Capabilities

	var uc userCapsResponse
	benign, err := g.getJSON(ctx, creds, OpCapabilities, pathUserCaps, &uc)
	if err != nil {
		if !optional(err) {
			return Capabilities{}, err
		}
		logger.Debug("isapi: %s user capabilities unavailable: %v", creds.Address, err)
	} else if benign == nil {
		caps.Supported = true
		caps.MaxUsers = uc.UserInfo.MaxRecordNum
	}

	var fc faceCapsResponse
	benign, err = g.getJSON(ctx, creds, OpCapabilities, pathFaceCaps, &fc)
	if err != nil {
		if !optional(err) {
			return Capabilities{}, err
		}
		logger.Debug("isapi: %s face capabilities unavailable: %v", creds.Address, err)
	} else if benign == nil {
		caps.Supported = true
		caps.MaxFaces = fc.FDRecordDataMaxNum
	}
	return caps, nil
}

// optional reports whether err only means the firmware lacks a feature.
func optional(err error) bool {
	var de *digest.DeviceError
	return errors.As(err, &de)
}

// Connect checks reachability and credentials with deviceInfo, then
// collects the optional capacity figures. Optional failures become warnings.
func (g *Gateway) Connect(ctx context.Context, creds digest.Credentials) (DeviceSummary, error) {
	info, err := g.GetDeviceInfo(ctx, creds)
	if err != nil {
		return DeviceSummary{}, err
	}
	sum := DeviceSummary{Address: creds.Address, Info: info}

	if caps, err := g.GetCapabilities(ctx, creds); err != nil {
		sum.Warnings = append(sum.Warnings, "capabilities: "+err.Error())
	} else if caps.Supported {
		sum.Capabilities = &caps
	}
	if n, err := g.UserCount(ctx, creds); err != nil {
		sum.Warnings = append(sum.Warnings, "user count: "+err.Error())
	} else {
		sum.UserCount = &n
	}
	if n, err := g.FaceCount(ctx, creds); err != nil {
		sum.Warnings = append(sum.Warnings, "face count: "+err.Error())
	} else {
		sum.FaceCount = &n
	}
	logger.Info("isapi: connected to %s (%s, fw %s)", creds.Address, info.Model, info.FirmwareVersion)
	return sum, nil
}
