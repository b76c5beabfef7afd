package onvif

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SridarDhandapani/onvif/v2/onviftest"
	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

// slowTransport answers after a fixed delay and ignores cancellation
type slowTransport struct {
	delay   time.Duration
	payload string
}

func (st slowTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	time.Sleep(st.delay)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(st.payload)),
		Request:    r,
	}, nil
}

func clientForServer(t *testing.T, srv *httptest.Server, timeout time.Duration) *Client {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	client, err := NewClient(Config{Hostname: host, Port: p, Timeout: timeout})
	require.NoError(t, err)
	return client
}

func TestSendCallbackFiresOnceOnLateResponse(t *testing.T) {
	client, err := NewClient(Config{
		Hostname: "cam.local",
		Timeout:  50 * time.Millisecond,
		HTTPClient: &http.Client{Transport: slowTransport{
			delay:   300 * time.Millisecond,
			payload: onviftest.Envelope(`<tds:GetHostnameResponse/>`),
		}},
	})
	require.NoError(t, err)

	var responses atomic.Int32
	client.AddObserver(ObserverFuncs{OnRawResponse: func(string, []byte) { responses.Add(1) }})

	var (
		mu    sync.Mutex
		calls int
		errs  []error
	)
	first := make(chan struct{}, 1)
	client.Send(testContext(t), Target{Service: "device"}, `<tds:GetHostname/>`, func(err error, body *xmltree.Node, raw []byte) {
		mu.Lock()
		calls++
		errs = append(errs, err)
		mu.Unlock()
		first <- struct{}{}
	})

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}

	// let the late response arrive and be discarded
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	require.Len(t, errs, 1)
	assert.True(t, IsTimeout(errs[0]), "got %v", errs[0])
	assert.Equal(t, int32(0), responses.Load(), "a discarded response is not observed")
}

func TestSendTimerDoesNotFireAfterResponse(t *testing.T) {
	client, err := NewClient(Config{
		Hostname: "cam.local",
		Timeout:  100 * time.Millisecond,
		HTTPClient: &http.Client{Transport: slowTransport{
			payload: onviftest.Envelope(`<tds:GetHostnameResponse/>`),
		}},
	})
	require.NoError(t, err)

	var calls atomic.Int32
	done := make(chan error, 2)
	client.Send(testContext(t), Target{Service: "device"}, `<tds:GetHostname/>`, func(err error, body *xmltree.Node, raw []byte) {
		calls.Add(1)
		done <- err
	})

	require.NoError(t, <-done)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client := clientForServer(t, srv, 2*time.Second)
	srv.Close()

	_, _, err := client.Request(testContext(t), "device", `<tds:GetHostname/>`)
	require.Error(t, err)
	assert.True(t, IsTransport(err), "got %v", err)
}

func TestRequestHTTPErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
		fault   bool
	}{
		{name: "empty 401", status: http.StatusUnauthorized},
		{name: "empty 500", status: http.StatusInternalServerError},
		{name: "html 404", status: http.StatusNotFound, payload: "<html><body>not found</body></html>"},
		{
			name:    "fault 400",
			status:  http.StatusBadRequest,
			payload: onviftest.Envelope(`<s:Fault><s:Code><s:Value>s:Sender</s:Value></s:Code><s:Reason><s:Text>denied</s:Text></s:Reason></s:Fault>`),
			fault:   true,
		},
		{
			name:    "ok envelope with 500",
			status:  http.StatusInternalServerError,
			payload: onviftest.Envelope(`<tds:GetHostnameResponse/>`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			client := clientForServer(t, srv, 2*time.Second)
			_, _, err := client.Request(testContext(t), "device", `<tds:GetHostname/>`)
			require.Error(t, err)
			assert.True(t, IsProtocol(err), "got %v", err)

			var fault *SOAPFault
			assert.Equal(t, tt.fault, errors.As(err, &fault))
		})
	}
}

func TestRequestHeaders(t *testing.T) {
	type captured struct {
		contentType   string
		charset       string
		contentLength int64
		bodyLength    int
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			contentType:   r.Header.Get("Content-Type"),
			charset:       r.Header.Get("Charset"),
			contentLength: r.ContentLength,
			bodyLength:    len(body),
		}
		_, _ = w.Write([]byte(onviftest.Envelope(`<tds:DeleteUsersResponse/>`)))
	}))
	defer srv.Close()

	client := clientForServer(t, srv, 2*time.Second)
	// multi-byte characters make byte and character counts differ
	require.NoError(t, client.DeleteUser(testContext(t), "José Müller"))

	c := <-got
	assert.Equal(t, "application/soap+xml; charset=utf-8", c.contentType)
	assert.Equal(t, "utf-8", c.charset)
	assert.Equal(t, int64(c.bodyLength), c.contentLength)
}

func TestRawObserverSeesBothDirections(t *testing.T) {
	client, _, _ := newFakeClient(t, nil, nil)

	var mu sync.Mutex
	var events []string
	client.AddObserver(ObserverFuncs{
		OnRawRequest: func(endpoint string, envelope []byte) {
			mu.Lock()
			events = append(events, "request:"+operationOf(t, envelope))
			mu.Unlock()
		},
		OnRawResponse: func(endpoint string, envelope []byte) {
			mu.Lock()
			events = append(events, "response:"+operationOf(t, envelope))
			mu.Unlock()
		},
	})

	_, err := client.GetHostname(testContext(t))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"request:GetHostname", "response:GetHostnameResponse"}, events)
}

func operationOf(t *testing.T, envelope []byte) string {
	root, err := xmltree.Parse(envelope)
	require.NoError(t, err)
	ops := root.Child("Body").Elements()
	require.NotEmpty(t, ops)
	return ops[0].Name
}

func TestResolveTarget(t *testing.T) {
	client := newOfflineClient(t, "", "")
	client.applyCapabilities(&Capabilities{
		Device: &ServiceCapability{XAddr: "http://cam.local/onvif/device_service"},
		Media:  &MediaCapability{XAddr: "http://cam.local/onvif/media"},
	})

	assert.Equal(t, "http://other/x", client.resolveTarget(Target{Endpoint: "http://other/x", Service: "media"}))
	assert.Equal(t, "http://cam.local/onvif/media", client.resolveTarget(Target{Service: "Media"}))
	assert.Equal(t, "http://cam.local:80/onvif/device_service", client.resolveTarget(Target{Service: "ptz"}),
		"unknown services fall back to the device address")
	assert.Equal(t, "http://cam.local:80/onvif/device_service", client.resolveTarget(Target{}))
}

func TestSendPerCallTimeout(t *testing.T) {
	client, err := NewClient(Config{
		Hostname: "cam.local",
		Timeout:  5 * time.Second,
		HTTPClient: &http.Client{Transport: slowTransport{
			delay:   300 * time.Millisecond,
			payload: onviftest.Envelope(`<tds:GetHostnameResponse/>`),
		}},
	})
	require.NoError(t, err)

	start := time.Now()
	_, _, err = client.RequestTarget(testContext(t), Target{Service: "device", Timeout: 50 * time.Millisecond}, `<tds:GetHostname/>`)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "the per-call timeout wins over the client default")

	_, _, err = client.RequestTarget(testContext(t), Target{Service: "device"}, `<tds:GetHostname/>`)
	assert.NoError(t, err, "zero falls back to the client default")
}

func TestRequestIgnoresSuppliedClientTimeout(t *testing.T) {
	client, err := NewClient(Config{
		Hostname: "cam.local",
		Timeout:  2 * time.Second,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Millisecond,
			Transport: slowTransport{
				delay:   100 * time.Millisecond,
				payload: onviftest.Envelope(`<tds:GetHostnameResponse/>`),
			},
		},
	})
	require.NoError(t, err)

	_, _, err = client.Request(testContext(t), "device", `<tds:GetHostname/>`)
	assert.NoError(t, err)
}

// timeoutNetError is a net.Error that reports a timeout
type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestRoundTripErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		timeout bool
	}{
		{name: "context deadline", err: context.DeadlineExceeded, timeout: true},
		{name: "client timeout", err: &url.Error{Op: "Post", URL: "http://cam", Err: timeoutNetError{}}, timeout: true},
		{name: "refused", err: &url.Error{Op: "Post", URL: "http://cam", Err: errors.New("connection refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := roundTripError("GetHostname", tt.err, time.Second)
			assert.Equal(t, tt.timeout, IsTimeout(err), "got %v", err)
			assert.Equal(t, !tt.timeout, IsTransport(err), "got %v", err)
		})
	}
}

func TestRequestToExplicitEndpoint(t *testing.T) {
	client, device := connectedFakeClient(t, func(d *onviftest.Device) {
		d.Username = "admin"
		d.Password = "secret"
	})
	endpoint := strings.TrimSuffix(device.URL(), "device_service") + "events"

	body, _, err := client.RequestTo(testContext(t), endpoint, `<tds:GetHostname/>`)
	require.NoError(t, err)
	assert.NotNil(t, body.Child("GetHostnameResponse"))

	calls := device.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "events", last.Service, "the explicit endpoint bypasses the directory")
	assert.True(t, last.Signed)
}

func TestRequestWithHeader(t *testing.T) {
	client, device := connectedFakeClient(t, func(d *onviftest.Device) {
		d.Username = "admin"
		d.Password = "secret"
	})

	header := `<wsa:Action xmlns:wsa="http://www.w3.org/2005/08/addressing">` +
		`http://www.onvif.org/ver10/device/wsdl/GetHostname</wsa:Action>`
	body, _, err := client.RequestWithHeader(testContext(t), "device", header, `<tds:GetHostname/>`)
	require.NoError(t, err)
	assert.NotNil(t, body.Child("GetHostnameResponse"))

	calls := device.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "device_service", last.Service)
	assert.True(t, last.Signed)
	assert.ElementsMatch(t, []string{"Security", "Action"}, last.Headers)
}
