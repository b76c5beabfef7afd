package onvif

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/SridarDhandapani/onvif/v2/onviftest"
)

// syncBuffer is a log sink safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(w *syncBuffer) *zerolog.Logger {
	l := zerolog.New(w).Level(zerolog.DebugLevel)
	return &l
}

// newFakeClient starts a fake device and a client pointed at it
func newFakeClient(t *testing.T, setup func(d *onviftest.Device), configure func(cfg *Config)) (*Client, *onviftest.Device, *syncBuffer) {
	t.Helper()

	device := onviftest.NewDevice()
	if setup != nil {
		setup(device)
	}
	device.Start()
	t.Cleanup(device.Close)

	host, port := device.Addr()
	logs := &syncBuffer{}
	cfg := Config{
		Hostname: host,
		Port:     port,
		Username: device.Username,
		Password: device.Password,
		Timeout:  5 * time.Second,
		Logger:   testLogger(logs),
	}
	if configure != nil {
		configure(&cfg)
	}

	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client, device, logs
}

// connectedFakeClient is newFakeClient followed by a successful Connect
func connectedFakeClient(t *testing.T, setup func(d *onviftest.Device)) (*Client, *onviftest.Device) {
	t.Helper()

	client, device, _ := newFakeClient(t, setup, nil)
	require.NoError(t, client.Connect(testContext(t)))
	return client, device
}
