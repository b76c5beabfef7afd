package onvif

import (
	"fmt"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SridarDhandapani/onvif/v2/onviftest"
)

func TestMediaURIs(t *testing.T) {
	client, device := connectedFakeClient(t, nil)
	host, port := device.Addr()
	ctx := testContext(t)

	stream, err := client.GetStreamURI(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("rtsp://%s:%d/stream/profile_main", host, port), stream)

	snapshot, err := client.GetSnapshotURI(ctx, "profile_sub")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("http://%s:%d/snapshot/profile_sub", host, port), snapshot)

	_, err = client.GetStreamURI(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsProtocol(err))
}

func TestMediaURIRequiresToken(t *testing.T) {
	client, device, _ := newFakeClient(t, nil, nil)

	_, err := client.GetStreamURI(testContext(t), "")
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Empty(t, device.Operations())
}

func TestUpdateStreamConfiguration(t *testing.T) {
	client, _ := connectedFakeClient(t, nil)
	ctx := testContext(t)

	err := client.UpdateStreamConfiguration(ctx, 0, StreamUpdateConfig{
		Resolution: Resolution1280x720,
		Framerate:  15,
		Bitrate:    1024,
		Encoding:   "H265",
	})
	require.NoError(t, err)

	profiles, err := client.GetProfiles(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, profiles)

	enc := profiles[0].VideoEncoderConfiguration
	require.NotNil(t, enc)
	assert.Equal(t, "enc_profile_main", enc.Token)
	assert.Equal(t, "H265", enc.Encoding)
	assert.Equal(t, Resolution1280x720, enc.Resolution)
	assert.Equal(t, 15, enc.RateControl.FrameRateLimit)
	assert.Equal(t, 1024, enc.RateControl.BitrateLimit)
}

func TestSetVideoEncoderConfigurationValidation(t *testing.T) {
	valid := StreamUpdateConfig{Resolution: Resolution640x480, Framerate: 10, Bitrate: 256, Encoding: "H264"}

	tests := []struct {
		name   string
		token  string
		config StreamUpdateConfig
	}{
		{name: "no token", config: valid},
		{name: "zero resolution", token: "enc", config: StreamUpdateConfig{Encoding: "H264"}},
		{name: "unknown encoding", token: "enc", config: StreamUpdateConfig{Resolution: Resolution640x480, Encoding: "VP9"}},
	}

	client, device, _ := newFakeClient(t, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.SetVideoEncoderConfiguration(testContext(t), tt.token, tt.config)
			assert.True(t, IsConfiguration(err), "got %v", err)
		})
	}
	assert.Empty(t, device.Operations())

	err := client.UpdateStreamConfiguration(testContext(t), 3, valid)
	assert.True(t, IsConfiguration(err), "no active source before connecting")
}

func TestImagingIrCutFilter(t *testing.T) {
	client, _ := connectedFakeClient(t, nil)
	ctx := testContext(t)

	settings, err := client.GetImagingSettings(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "vs0", settings.VideoSourceToken)
	assert.Equal(t, IrCutFilterAuto, settings.IrCutFilter)
	assert.Equal(t, 50.0, settings.Brightness)

	require.NoError(t, client.SetIrCutFilter(ctx, "", IrCutFilterOn))

	settings, err = client.GetImagingSettings(ctx, "vs0")
	require.NoError(t, err)
	assert.Equal(t, IrCutFilterOn, settings.IrCutFilter)
}

func TestSetIrCutFilterRejectsUnknownMode(t *testing.T) {
	client, device := connectedFakeClient(t, nil)
	before := len(device.Operations())

	err := client.SetIrCutFilter(testContext(t), "vs0", "NIGHT")
	assert.True(t, IsConfiguration(err))
	assert.Len(t, device.Operations(), before)
}

func TestSetIrCutFilterNonEmptyAck(t *testing.T) {
	client, device := connectedFakeClient(t, nil)
	device.Respond("SetImagingSettings", 200, onviftest.Envelope(
		`<timg:SetImagingSettingsResponse><timg:Status>failed</timg:Status></timg:SetImagingSettingsResponse>`))

	err := client.SetIrCutFilter(testContext(t), "vs0", IrCutFilterOff)
	assert.True(t, IsProtocol(err))
}

func TestOSDs(t *testing.T) {
	client, device := connectedFakeClient(t, nil)
	ctx := testContext(t)

	added := device.AddOSD("vsc_vs0")
	device.AddOSD("vsc_other")

	osds, err := client.GetOSDs(ctx, "vsc_vs0")
	require.NoError(t, err)
	require.Len(t, osds, 2)
	assert.Equal(t, added, osds[1].Token)
	assert.Equal(t, "Text", osds[1].Type)
	assert.Equal(t, "vsc_vs0", osds[1].ConfigurationToken)

	all, err := client.GetOSDs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, client.DeleteOSD(ctx, added))

	osds, err = client.GetOSDs(ctx, "vsc_vs0")
	require.NoError(t, err)
	assert.Len(t, osds, 1)

	err = client.DeleteOSD(ctx, added)
	assert.True(t, IsProtocol(err), "deleting twice faults")

	assert.True(t, IsConfiguration(client.DeleteOSD(ctx, "")))
}

func TestPTZ(t *testing.T) {
	client, device := connectedFakeClient(t, nil)
	ctx := testContext(t)

	require.NoError(t, client.ContinuousMove(ctx, "", PTZVector{Pan: 0.5, Tilt: -0.25}, 2*time.Second))
	require.NoError(t, client.Stop(ctx, ""))
	require.NoError(t, client.GotoHomePosition(ctx, "profile_main"))

	calls := device.Calls()
	for _, call := range calls[len(calls)-3:] {
		assert.Equal(t, "ptz", call.Service)
	}

	err := client.GotoHomePosition(ctx, "profile_sub")
	assert.True(t, IsProtocol(err), "profile without PTZ configuration faults")

	err = client.ContinuousMove(ctx, "", PTZVector{Zoom: 1.5}, 0)
	assert.True(t, IsConfiguration(err))
}

func TestPTZRequiresConfiguredProfile(t *testing.T) {
	client, _ := connectedFakeClient(t, func(d *onviftest.Device) {
		d.Profiles[0].PTZ = false
	})

	err := client.Stop(testContext(t), "")
	assert.True(t, IsConfiguration(err), "got %v", err)
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "0.5", formatFloat(0.5))
	assert.Equal(t, "-1", formatFloat(-1))
	assert.Equal(t, "0", formatFloat(0))
}

func TestUserLifecycle(t *testing.T) {
	client, device := connectedFakeClient(t, nil)
	ctx := testContext(t)

	require.NoError(t, client.CreateUser(ctx, "operator1", "pass1234", UserLevelOperator))

	users, err := client.GetUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []User{
		{Username: "admin", UserLevel: UserLevelAdministrator},
		{Username: "operator1", UserLevel: UserLevelOperator},
	}, users)

	require.NoError(t, client.SetUserPassword(ctx, "operator1", "newpass"))
	device.Update(func(d *onviftest.Device) {
		assert.Equal(t, "newpass", d.Users[1].Password)
		assert.Equal(t, "Operator", d.Users[1].Level)
	})

	require.NoError(t, client.DeleteUser(ctx, "operator1"))

	users, err = client.GetUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	err = client.SetUserPassword(ctx, "ghost", "x")
	assert.True(t, IsConfiguration(err))
}

func TestCreateUserClash(t *testing.T) {
	client, _ := connectedFakeClient(t, nil)

	err := client.CreateUser(testContext(t), "admin", "x", UserLevelUser)
	require.Error(t, err)
	assert.True(t, IsProtocol(err))

	var fault *SOAPFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "ter:UsernameClash", fault.Subcode)
	assert.Equal(t, "username already exists", fault.Reason)
}

func TestCreateUserWithGeneratedPassword(t *testing.T) {
	client, device := connectedFakeClient(t, nil)

	password, err := client.CreateUserWithGeneratedPassword(testContext(t), "viewer", UserLevelUser)
	require.NoError(t, err)
	assert.Len(t, password, generatedPasswordLength)
	assert.Regexp(t, `^[a-zA-Z0-9]+$`, password)

	device.Update(func(d *onviftest.Device) {
		require.Len(t, d.Users, 2)
		assert.Equal(t, password, d.Users[1].Password)
	})
}

func TestUserValidation(t *testing.T) {
	client, device, _ := newFakeClient(t, nil, nil)
	ctx := testContext(t)

	assert.True(t, IsConfiguration(client.CreateUsers(ctx, nil)))
	assert.True(t, IsConfiguration(client.CreateUser(ctx, "", "x", UserLevelUser)))
	assert.True(t, IsConfiguration(client.CreateUser(ctx, "bob", "x", "Root")))
	assert.True(t, IsConfiguration(client.SetUser(ctx, User{Username: "bob"})))
	assert.True(t, IsConfiguration(client.DeleteUsers(ctx, nil)))
	assert.Empty(t, device.Operations())
}
