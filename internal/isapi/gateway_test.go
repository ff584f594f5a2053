package isapi_test

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/digest/digesttest"
	"github.com/hnrobert/facenroll/internal/isapi"
	"github.com/hnrobert/facenroll/internal/isapi/isapitest"
	"github.com/hnrobert/facenroll/internal/logger"
)

func init() {
	logger.SetOutput(nil)
}

type fixture struct {
	dev   *isapitest.Device
	srv   *digesttest.Server
	gw    *isapi.Gateway
	creds digest.Credentials
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := isapitest.NewDevice()
	srv := dev.Start()
	t.Cleanup(srv.Close)

	allow, err := isapi.NewAllowList("127.0.0.0/8")
	require.NoError(t, err)
	gw := isapi.New(digest.NewClient(digest.NewMemoryCache()), isapi.Options{
		Allow:      allow,
		RetryDelay: time.Millisecond,
		PageSize:   3,
	})
	return &fixture{
		dev:   dev,
		srv:   srv,
		gw:    gw,
		creds: digest.Credentials{Address: srv.Address(), Username: isapitest.Username, Password: isapitest.Password},
	}
}

func countPrefix(reqs []string, want string) int {
	n := 0
	for _, r := range reqs {
		if r == want {
			n++
		}
	}
	return n
}

func TestIsAllowedAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.26.30.200", true},
		{"192.168.1.64", true},
		{"192.168.1.64:8080", true},
		{"172.16.0.1", true},
		{"172.31.255.254", true},
		{"100.64.10.1", true},
		{"fd00::1", true},
		{"[fd00::1]:80", true},
		{"[fd00::1]", true},
		{"[8.8.8.8]", false},
		{"::ffff:10.0.0.1", true},
		{"8.8.8.8", false},
		{"8.8.8.8:80", false},
		{"172.32.0.1", false},
		{"2001:4860:4860::8888", false},
		{"127.0.0.1", false},
		{"", false},
		{"not an address", false},
		{"terminal.local", false},
		{"10.0.0.1:", false},
		{"10.0.0.256", false},
		{"fe80::1%eth0", false},
		{"http://10.0.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, isapi.IsAllowedAddress(tt.addr))
		})
	}
}

func TestAllowList_ExtraRanges(t *testing.T) {
	al, err := isapi.NewAllowList("127.0.0.0/8", " ", "203.0.113.0/24")
	require.NoError(t, err)
	assert.True(t, al.Allowed("127.0.0.1:43210"))
	assert.True(t, al.Allowed("203.0.113.9"))
	assert.False(t, al.Allowed("198.51.100.1"))
	assert.ErrorIs(t, al.Check("198.51.100.1"), isapi.ErrAddressNotAllowed)

	_, err = isapi.NewAllowList("10.0.0.0/33")
	assert.Error(t, err)
}

type countingTransport struct{ calls int }

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls++
	return nil, errors.New("should not be called")
}

func TestGateway_RejectsPublicAddressBeforeAnyRequest(t *testing.T) {
	rt := &countingTransport{}
	gw := isapi.New(digest.NewClient(nil, digest.WithHTTPClient(&http.Client{Transport: rt})), isapi.Options{})
	creds := digest.Credentials{Address: "8.8.8.8", Username: "admin", Password: "x"}
	ctx := context.Background()

	_, err := gw.GetDeviceInfo(ctx, creds)
	assert.ErrorIs(t, err, isapi.ErrAddressNotAllowed)
	_, err = gw.CreateUser(ctx, creds, "a1b2c3d4", "Alice")
	assert.ErrorIs(t, err, isapi.ErrAddressNotAllowed)
	_, err = gw.DeleteUser(ctx, creds, "a1b2c3d4")
	assert.ErrorIs(t, err, isapi.ErrAddressNotAllowed)
	err = gw.UploadFace(ctx, creds, "a1b2c3d4", "Alice", []byte{0xff, 0xd8})
	assert.ErrorIs(t, err, isapi.ErrAddressNotAllowed)
	_, err = gw.SearchUsers(ctx, creds, 0)
	assert.ErrorIs(t, err, isapi.ErrAddressNotAllowed)
	assert.Zero(t, rt.calls)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		op     isapi.Op
		status int
		sub    string
		want   isapi.Outcome
	}{
		{isapi.OpCreateUser, 400, "employeeNoAlreadyExist", isapi.Success},
		{isapi.OpCreateUser, 400, "badJsonContent", isapi.Fatal},
		{isapi.OpDeleteUser, 400, "employeeNoNotExist", isapi.Success},
		{isapi.OpDeleteUser, 404, "", isapi.Success},
		{isapi.OpCreateUser, 400, "employeeNoNotExist", isapi.Fatal},
		{isapi.OpDeleteFace, 400, "FPIDNotExist", isapi.Success},
		{isapi.OpUploadFace, 400, "faceDataModelingFailed", isapi.Fatal},
		{isapi.OpUploadFace, 503, "", isapi.Retry},
		{isapi.OpSearchUsers, 400, "deviceBusy", isapi.Retry},
		{isapi.OpCapabilities, 404, "notSupport", isapi.Success},
		{isapi.OpDeviceInfo, 404, "", isapi.Fatal},
	}
	for _, tt := range tests {
		t.Run(string(tt.op)+"/"+strconv.Itoa(tt.status)+"/"+tt.sub, func(t *testing.T) {
			assert.Equal(t, tt.want, isapi.Decide(tt.op, tt.status, tt.sub))
		})
	}
}

func TestGetDeviceInfo(t *testing.T) {
	f := newFixture(t)
	info, err := f.gw.GetDeviceInfo(context.Background(), f.creds)
	require.NoError(t, err)
	assert.Equal(t, isapi.DeviceInfo{
		Name:            "Main Gate",
		Model:           "DS-K1T341AM",
		SerialNumber:    "DS-K1T341AM20230101AAWRK12345678",
		MacAddress:      "44:a6:42:00:11:22",
		FirmwareVersion: "V3.2.30",
		FirmwareDate:    "build 220915",
	}, info)
}

func TestGetDeviceInfo_BadCredentials(t *testing.T) {
	f := newFixture(t)
	f.creds.Password = "nope"
	_, err := f.gw.GetDeviceInfo(context.Background(), f.creds)
	var authErr *digest.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestSearchUsers_PagesUntilTotal(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 7; i++ {
		f.dev.AddUser("0000000"+strconv.Itoa(i), "Student "+strconv.Itoa(i))
	}

	users, err := f.gw.SearchUsers(context.Background(), f.creds, 0)
	require.NoError(t, err)
	require.Len(t, users, 7)
	for i, u := range users {
		assert.Equal(t, "0000000"+strconv.Itoa(i+1), u.EmployeeNo)
		assert.Equal(t, "normal", u.UserType)
	}
	assert.Equal(t, 3, countPrefix(f.dev.Requests(), "POST /ISAPI/AccessControl/UserInfo/Search"))
}

func TestSearchUsers_EmptyDirectory(t *testing.T) {
	f := newFixture(t)
	users, err := f.gw.SearchUsers(context.Background(), f.creds, 10)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Equal(t, 1, countPrefix(f.dev.Requests(), "POST /ISAPI/AccessControl/UserInfo/Search"))
}

func TestFindUser(t *testing.T) {
	f := newFixture(t)
	f.dev.AddUser("11111111", "Alice")
	f.dev.AddUser("22222222", "Bob")
	ctx := context.Background()

	u, err := f.gw.FindUser(ctx, f.creds, "22222222")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Bob", u.Name)

	u, err = f.gw.FindUser(ctx, f.creds, "33333333")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestCreateUser_IdempotentOnAlreadyExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.gw.CreateUser(ctx, f.creds, "a1b2c3d4", "Alice Wong")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.gw.CreateUser(ctx, f.creds, "a1b2c3d4", "Alice Wong")
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, []string{"a1b2c3d4"}, f.dev.SortedEmployeeNos())
}

func TestCreateUser_InvalidInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.CreateUser(context.Background(), f.creds, "", "Alice")
	assert.ErrorIs(t, err, isapi.ErrInvalidEmployeeNo)
	_, err = f.gw.CreateUser(context.Background(), f.creds, "a1b2c3d4", "  ")
	assert.Error(t, err)
	assert.Empty(t, f.dev.Requests())
}

func TestDeleteUser_NonExistentIsSuccess(t *testing.T) {
	f := newFixture(t)
	out, err := f.gw.DeleteUser(context.Background(), f.creds, "deadbeef")
	require.NoError(t, err)
	assert.True(t, out.AlreadyAbsent)
	assert.False(t, out.FaceDeleted)
	assert.Empty(t, out.FaceError)
}

func TestDeleteUser_RemovesFaceThenUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dev.AddUser("a1b2c3d4", "Alice")
	require.NoError(t, f.gw.UploadFace(ctx, f.creds, "a1b2c3d4", "Alice", []byte{0xff, 0xd8, 0xff, 0xd9}))

	out, err := f.gw.DeleteUser(ctx, f.creds, "a1b2c3d4")
	require.NoError(t, err)
	assert.True(t, out.FaceDeleted)
	assert.False(t, out.AlreadyAbsent)
	assert.Empty(t, f.dev.Users())

	reqs := f.dev.Requests()
	require.GreaterOrEqual(t, len(reqs), 2)
	assert.Equal(t, "PUT /ISAPI/Intelligent/FDLib/FDDelete", reqs[len(reqs)-2])
	assert.Equal(t, "PUT /ISAPI/AccessControl/UserInfo/Delete", reqs[len(reqs)-1])
}

func TestDeleteUser_FaceDeleteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.dev.AddUser("a1b2c3d4", "Alice")
	f.dev.FaceDeleteFails = true

	out, err := f.gw.DeleteUser(context.Background(), f.creds, "a1b2c3d4")
	require.NoError(t, err)
	assert.NotEmpty(t, out.FaceError)
	assert.Empty(t, f.dev.Users())
}

func TestUploadFace(t *testing.T) {
	f := newFixture(t)
	f.dev.AddUser("a1b2c3d4", "Alice")
	img := []byte{0xff, 0xd8, 0x01, 0x02, 0x03, 0xff, 0xd9}

	err := f.gw.UploadFace(context.Background(), f.creds, "a1b2c3d4", "Alice", img)
	require.NoError(t, err)
	assert.Equal(t, img, f.dev.Face("a1b2c3d4"))
}

func TestUploadFace_DeviceRejectsImage(t *testing.T) {
	f := newFixture(t)
	f.dev.AddUser("a1b2c3d4", "Alice")
	f.dev.RejectFace = func(string, []byte) bool { return true }

	err := f.gw.UploadFace(context.Background(), f.creds, "a1b2c3d4", "Alice", []byte{0xff, 0xd8})
	var de *digest.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusBadRequest, de.Status)
	assert.Equal(t, "faceDataModelingFailed", de.SubStatusCode)
	assert.Contains(t, err.Error(), "no face detected")
	assert.Equal(t, "faceDataModelingFailed", isapi.SubStatus(err))
}

func TestUploadFace_EmptyImage(t *testing.T) {
	f := newFixture(t)
	err := f.gw.UploadFace(context.Background(), f.creds, "a1b2c3d4", "Alice", nil)
	assert.ErrorIs(t, err, isapi.ErrEmptyImage)
}

func TestStatusInOKBodyIsDeviceError(t *testing.T) {
	srv := digesttest.NewServer("r", "admin", "pw", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"statusCode":4,"statusString":"Invalid Operation","subStatusCode":"methodNotAllowed"}`))
	}))
	defer srv.Close()
	allow, _ := isapi.NewAllowList("127.0.0.0/8")
	gw := isapi.New(nil, isapi.Options{Allow: allow})

	_, err := gw.CreateUser(context.Background(), digest.Credentials{Address: srv.Address(), Username: "admin", Password: "pw"}, "a1b2c3d4", "Alice")
	var de *digest.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusOK, de.Status)
	assert.Equal(t, "methodNotAllowed", de.SubStatusCode)
}

func TestGetCapabilities(t *testing.T) {
	f := newFixture(t)
	caps, err := f.gw.GetCapabilities(context.Background(), f.creds)
	require.NoError(t, err)
	assert.Equal(t, isapi.Capabilities{Supported: true, MaxUsers: 3000, MaxFaces: 1500}, caps)
}

func TestGetCapabilities_OlderFirmware(t *testing.T) {
	f := newFixture(t)
	f.dev.NoCapabilities = true
	caps, err := f.gw.GetCapabilities(context.Background(), f.creds)
	require.NoError(t, err)
	assert.False(t, caps.Supported)
}

func TestConnect(t *testing.T) {
	f := newFixture(t)
	f.dev.NoCapabilities = true
	f.dev.AddUser("11111111", "Alice")

	sum, err := f.gw.Connect(context.Background(), f.creds)
	require.NoError(t, err)
	assert.Equal(t, "DS-K1T341AM", sum.Info.Model)
	assert.Nil(t, sum.Capabilities)
	require.NotNil(t, sum.UserCount)
	assert.Equal(t, 1, *sum.UserCount)
	require.NotNil(t, sum.FaceCount)
	assert.Equal(t, 0, *sum.FaceCount)
	assert.Empty(t, sum.Warnings)
	assert.Equal(t, 1, f.srv.Probes())
}

func TestBusyDeviceIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dev.BusyNext = 1
	_, err := f.gw.CreateUser(ctx, f.creds, "a1b2c3d4", "Alice")
	require.NoError(t, err)

	f.dev.BusyNext = 2
	_, err = f.gw.CreateUser(ctx, f.creds, "b1b2c3d4", "Bob")
	var de *digest.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusServiceUnavailable, de.Status)
}
