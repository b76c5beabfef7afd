// Package onviftest provides an in-process ONVIF device that answers the
// SOAP operations of the onvif package over HTTP
package onviftest

import (
	"crypto/sha1"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"

	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

const soapContentType = "application/soap+xml; charset=utf-8"

// VideoSource is a physical input of the fake device
type VideoSource struct {
	Token     string
	Width     int
	Height    int
	Framerate float64
}

// Profile is a media profile of the fake device. An empty SourceToken omits
// the video source configuration, an empty Encoding omits the encoder.
type Profile struct {
	Token        string
	Name         string
	SourceToken  string
	EncoderToken string // default "enc_" + Token
	Encoding     string
	Width        int
	Height       int
	FPS          int
	Bitrate      int
	PTZ          bool
}

// User is an account on the fake device
type User struct {
	Username string
	Password string
	Level    string
}

// OSD is an on-screen display element
type OSD struct {
	Token              string
	ConfigurationToken string
	Type               string
}

// Call is one request received by the device
type Call struct {
	Service   string
	Operation string
	Signed    bool
	Username  string
	Nonce     string
	Digest    string
	Created   string
	Headers   []string // local names of the SOAP header elements
	At        time.Time
}

type override struct {
	status int
	body   []byte
}

// Device is a fake ONVIF device. Set the exported fields before Start;
// afterwards change them through Update.
type Device struct {
	// Now is the local clock of the device host; the device reports
	// Now() + ClockOffset as its UTC time.
	Now         func() time.Time
	ClockOffset time.Duration

	// Username enables WS-Security checks on every operation except
	// GetSystemDateAndTime
	Username string
	Password string

	// AdvertiseHost replaces host:port in the service addresses the device
	// reports, like a camera behind NAT reporting its private address
	AdvertiseHost string

	// Services lists the capability categories reported by GetCapabilities
	Services []string
	// Extensions maps extension capability names to service paths
	Extensions map[string]string

	Manufacturer string
	Model        string
	Firmware     string
	SerialNumber string
	Hostname     string

	Sources  []VideoSource
	Profiles []Profile
	Users    []User
	OSDs     []OSD

	mu        sync.Mutex
	calls     []Call
	overrides map[string]override
	delays    map[string]time.Duration
	irCut     map[string]string
	server    *httptest.Server
}

// NewDevice returns a device with one 1080p source, a main and a sub
// profile, and an admin account
func NewDevice() *Device {
	return &Device{
		Now:          time.Now,
		Services:     []string{"Device", "Media", "Imaging", "PTZ", "Events"},
		Manufacturer: "Acme",
		Model:        "FakeCam 3000",
		Firmware:     "1.0.0",
		SerialNumber: uuid.Must(uuid.NewV4()).String(),
		Hostname:     "fake-camera",
		Sources: []VideoSource{
			{Token: "vs0", Width: 1920, Height: 1080, Framerate: 25},
		},
		Profiles: []Profile{
			{Token: "profile_main", Name: "MainStream", SourceToken: "vs0", Encoding: "H264",
				Width: 1920, Height: 1080, FPS: 25, Bitrate: 4096, PTZ: true},
			{Token: "profile_sub", Name: "SubStream", SourceToken: "vs0", Encoding: "H264",
				Width: 640, Height: 360, FPS: 15, Bitrate: 512},
		},
		Users: []User{
			{Username: "admin", Level: "Administrator"},
		},
		OSDs: []OSD{
			{Token: uuid.Must(uuid.NewV4()).String(), ConfigurationToken: "vsc_vs0", Type: "Text"},
		},
	}
}

// Start serves the device on a local port
func (d *Device) Start() *Device {
	d.server = httptest.NewServer(d.Handler())
	return d
}

// Close stops the server
func (d *Device) Close() {
	if d.server != nil {
		d.server.Close()
	}
}

// URL is the device service address
func (d *Device) URL() string {
	return d.server.URL + "/onvif/device_service"
}

// Addr returns the host and port of the running server
func (d *Device) Addr() (string, int) {
	host, port, _ := net.SplitHostPort(d.server.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

// Handler returns the HTTP handler serving the device
func (d *Device) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/onvif/:service", d.handle)
	return router
}

// Update runs fn with the device locked
func (d *Device) Update(fn func(d *Device)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

// Calls returns every request received so far
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Operations returns the operation names received so far, in order
func (d *Device) Operations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		ops = append(ops, c.Operation)
	}
	return ops
}

// Respond replaces the reply to op with a raw status and payload
func (d *Device) Respond(op string, status int, payload string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.overrides == nil {
		d.overrides = make(map[string]override)
	}
	d.overrides[op] = override{status: status, body: []byte(payload)}
}

// Fault makes op fail with a SOAP fault carrying the given subcode
func (d *Device) Fault(op, subcode, reason string) {
	d.Respond(op, http.StatusBadRequest, faultEnvelope("s:Sender", subcode, reason))
}

// Delay holds the reply to op for the given duration
func (d *Device) Delay(op string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.delays == nil {
		d.delays = make(map[string]time.Duration)
	}
	d.delays[op] = delay
}

// DeviceTime is the UTC time the device currently reports
func (d *Device) DeviceTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceTime()
}

func (d *Device) deviceTime() time.Time {
	return d.Now().Add(d.ClockOffset).UTC()
}

func (d *Device) handle(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.Data(http.StatusBadRequest, soapContentType, []byte(faultEnvelope("s:Sender", "", err.Error())))
		return
	}

	root, err := xmltree.Parse(raw)
	if err != nil || root.Name != "Envelope" {
		c.Data(http.StatusBadRequest, soapContentType, []byte(faultEnvelope("s:Sender", "", "malformed envelope")))
		return
	}

	ops := root.Child("Body").Elements()
	if len(ops) == 0 {
		c.Data(http.StatusBadRequest, soapContentType, []byte(faultEnvelope("s:Sender", "", "empty body")))
		return
	}
	req := ops[0]

	call := Call{Service: c.Param("service"), Operation: req.Name, At: time.Now()}
	if token := root.Path("Header", "Security", "UsernameToken"); token != nil {
		call.Signed = true
		call.Username = token.Value("Username")
		call.Nonce = token.Value("Nonce")
		call.Digest = token.Value("Password")
		call.Created = token.Value("Created")
	}
	for _, h := range root.Child("Header").Elements() {
		call.Headers = append(call.Headers, h.Name)
	}

	d.mu.Lock()
	d.calls = append(d.calls, call)
	ov, overridden := d.overrides[req.Name]
	delay := d.delays[req.Name]
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-c.Request.Context().Done():
			return
		}
	}

	if overridden {
		c.Data(ov.status, soapContentType, ov.body)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Username != "" && req.Name != "GetSystemDateAndTime" && !d.authorized(call) {
		c.Data(http.StatusBadRequest, soapContentType,
			[]byte(faultEnvelope("s:Sender", "ter:NotAuthorized", "Sender not authorized")))
		return
	}

	host := d.AdvertiseHost
	if host == "" {
		host = c.Request.Host
	}

	status, payload := d.dispatch(req, host)
	c.Data(status, soapContentType, []byte(payload))
}

func (d *Device) authorized(call Call) bool {
	if !call.Signed || call.Username != d.Username {
		return false
	}
	nonce, err := base64.StdEncoding.DecodeString(call.Nonce)
	if err != nil {
		return false
	}

	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(call.Created))
	h.Write([]byte(d.Password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil)) == call.Digest
}
