package onvif

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPreserveAddress(t *testing.T) {
	cfg := Config{Hostname: "cam.local", Port: 8000, PreserveAddress: true}

	tests := []struct {
		name    string
		cfg     Config
		address string
		want    string
	}{
		{
			name:    "private address is rewritten",
			cfg:     cfg,
			address: "http://10.0.0.5:8080/media",
			want:    "http://cam.local:8000/media",
		},
		{
			name:    "path and query are kept",
			cfg:     cfg,
			address: "https://10.0.0.5/onvif/events?x=1",
			want:    "https://cam.local:8000/onvif/events?x=1",
		},
		{
			name:    "same host is untouched",
			cfg:     cfg,
			address: "http://cam.local:8080/media",
			want:    "http://cam.local:8080/media",
		},
		{
			name:    "disabled",
			cfg:     Config{Hostname: "cam.local", Port: 8000},
			address: "http://10.0.0.5:8080/media",
			want:    "http://10.0.0.5:8080/media",
		},
		{
			name:    "relative address is untouched",
			cfg:     cfg,
			address: "/onvif/media",
			want:    "/onvif/media",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, preserveAddress(tt.address, tt.cfg))
		})
	}
}

func TestPreserveAddressDefaultPort(t *testing.T) {
	client, err := NewClient(Config{Hostname: "cam.local", PreserveAddress: true})
	assert.NoError(t, err)
	assert.Equal(t, "http://cam.local:80/media", client.PreserveAddress("http://10.0.0.5:8080/media"))
}

func TestBuildServiceURIs(t *testing.T) {
	logs := &syncBuffer{}
	caps := &Capabilities{
		Device:    &ServiceCapability{XAddr: "http://10.0.0.5/onvif/device_service"},
		Media:     &MediaCapability{XAddr: "http://10.0.0.5/onvif/media"},
		Imaging:   &ServiceCapability{XAddr: "http://10.0.0.5/onvif/imaging"},
		Events:    &ServiceCapability{XAddr: ""},
		Analytics: &ServiceCapability{XAddr: "http://10.0.0.5/onvif/analytics"},
		Extensions: []ExtensionCapability{
			{Name: "DeviceIO", XAddr: "http://10.0.0.5/onvif/deviceio"},
		},
	}

	uris := buildServiceURIs(caps, Config{Hostname: "10.0.0.5", Port: 80}, *testLogger(logs))

	assert.Equal(t, map[string]string{
		"device":    "http://10.0.0.5/onvif/device_service",
		"media":     "http://10.0.0.5/onvif/media",
		"imaging":   "http://10.0.0.5/onvif/imaging",
		"analytics": "http://10.0.0.5/onvif/analytics",
		"deviceio":  "http://10.0.0.5/onvif/deviceio",
	}, uris)
	assert.Empty(t, logs.String())
}

func TestBuildServiceURIsDerivesRecordingFromReplay(t *testing.T) {
	logs := &syncBuffer{}
	caps := &Capabilities{
		Device: &ServiceCapability{XAddr: "http://10.0.0.5/onvif/device_service"},
		Extensions: []ExtensionCapability{
			{Name: "Replay", XAddr: "http://10.0.0.5/onvif/replay_service"},
		},
	}

	uris := buildServiceURIs(caps, Config{Hostname: "10.0.0.5", Port: 80}, *testLogger(logs))

	assert.Equal(t, "http://10.0.0.5/onvif/replay_service", uris["replay"])
	assert.Equal(t, "http://10.0.0.5/onvif/recording_service", uris["recording"])
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), "derived its address from replay")
}

func TestBuildServiceURIsKeepsReportedRecording(t *testing.T) {
	logs := &syncBuffer{}
	caps := &Capabilities{
		Extensions: []ExtensionCapability{
			{Name: "Recording", XAddr: "http://10.0.0.5/onvif/rec"},
			{Name: "Replay", XAddr: "http://10.0.0.5/onvif/replay"},
		},
	}

	uris := buildServiceURIs(caps, Config{Hostname: "10.0.0.5", Port: 80}, zerolog.New(logs))

	assert.Equal(t, "http://10.0.0.5/onvif/rec", uris["recording"])
	assert.Empty(t, logs.String())
}

func TestBuildServiceURIsAppliesPreservation(t *testing.T) {
	cfg := Config{Hostname: "cam.example.com", Port: 8080, PreserveAddress: true}
	caps := &Capabilities{
		Media: &MediaCapability{XAddr: "http://192.168.1.20/onvif/media"},
		Extensions: []ExtensionCapability{
			{Name: "Replay", XAddr: "http://192.168.1.20/onvif/replay"},
		},
	}

	uris := buildServiceURIs(caps, cfg, zerolog.Nop())

	assert.Equal(t, "http://cam.example.com:8080/onvif/media", uris["media"])
	assert.Equal(t, "http://cam.example.com:8080/onvif/recording", uris["recording"])
}

func TestBuildServiceURIsNil(t *testing.T) {
	assert.Empty(t, buildServiceURIs(nil, Config{}, zerolog.Nop()))
}
