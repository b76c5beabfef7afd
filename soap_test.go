package onvif

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newOfflineClient(t *testing.T, username, password string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Hostname: "cam.local",
		Username: username,
		Password: password,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return client
}

func TestBuildEnvelopeSigned(t *testing.T) {
	client := newOfflineClient(t, "admin", "secret")
	client.setClockSkew(90 * time.Second)

	envelope, err := client.buildEnvelope(`<tds:GetDeviceInformation/>`, "", true)
	require.NoError(t, err)

	root, err := xmltree.Parse([]byte(envelope))
	require.NoError(t, err)
	assert.Equal(t, "Envelope", root.Name)

	token := root.Path("Header", "Security", "UsernameToken")
	require.NotNil(t, token)
	assert.Equal(t, "1", root.Path("Header", "Security").Attr("mustUnderstand"))
	assert.Equal(t, "admin", token.Value("Username"))
	assert.Equal(t, "2024-01-01T00:01:30.000Z", token.Value("Created"), "created is shifted by the clock skew")

	nonce, err := base64.StdEncoding.DecodeString(token.Value("Nonce"))
	require.NoError(t, err)
	assert.Equal(t, digestFor(nonce, token.Value("Created"), "secret"), token.Value("Password"))

	require.NotNil(t, root.Path("Body", "GetDeviceInformation"))
}

func TestBuildEnvelopeUnsigned(t *testing.T) {
	tests := []struct {
		name     string
		username string
		signed   bool
	}{
		{name: "no credentials", username: "", signed: true},
		{name: "unsigned request", username: "admin", signed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newOfflineClient(t, tt.username, "")

			envelope, err := client.buildEnvelope(`<tds:GetSystemDateAndTime/>`, "", tt.signed)
			require.NoError(t, err)

			root, err := xmltree.Parse([]byte(envelope))
			require.NoError(t, err)
			assert.NotNil(t, root.Child("Header"))
			assert.Nil(t, root.Path("Header", "Security"))
			assert.NotNil(t, root.Path("Body", "GetSystemDateAndTime"))
		})
	}
}

func TestBuildEnvelopeExtraHeader(t *testing.T) {
	client := newOfflineClient(t, "admin", "secret")

	extra := `<wsa:To xmlns:wsa="http://www.w3.org/2005/08/addressing">http://cam/events</wsa:To>`
	envelope, err := client.buildEnvelope(`<tds:GetHostname/>`, extra, true)
	require.NoError(t, err)

	root, err := xmltree.Parse([]byte(envelope))
	require.NoError(t, err)

	header := root.Child("Header").Elements()
	require.Len(t, header, 2)
	assert.Equal(t, "Security", header[0].Name)
	assert.Equal(t, "To", header[1].Name)
	assert.Equal(t, "http://cam/events", header[1].Text)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  bool
		wantBody bool
		reason   string
		subcode  string
	}{
		{
			name:     "plain response",
			raw:      `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body><x:Ok xmlns:x="urn:x"/></s:Body></s:Envelope>`,
			wantBody: true,
		},
		{
			name:    "not xml",
			raw:     `Unauthorized`,
			wantErr: true,
		},
		{
			name:    "html error page",
			raw:     `<html><body>401</body></html>`,
			wantErr: true,
		},
		{
			name:    "envelope without body",
			raw:     `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Header/></s:Envelope>`,
			wantErr: true,
		},
		{
			name: "soap 1.2 fault",
			raw: `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:ter="http://www.onvif.org/ver10/error"><s:Body><s:Fault>` +
				`<s:Code><s:Value>s:Sender</s:Value><s:Subcode><s:Value>ter:InvalidArgVal</s:Value>` +
				`<s:Subcode><s:Value>ter:UsernameClash</s:Value></s:Subcode></s:Subcode></s:Code>` +
				`<s:Reason><s:Text xml:lang="en">already there</s:Text></s:Reason></s:Fault></s:Body></s:Envelope>`,
			wantErr:  true,
			wantBody: true,
			reason:   "username already exists: already there",
			subcode:  "ter:UsernameClash",
		},
		{
			name: "soap 1.1 fault",
			raw: `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>` +
				`<faultcode>s:Client</faultcode><faultstring>bad request</faultstring></s:Fault></s:Body></s:Envelope>`,
			wantErr:  true,
			wantBody: true,
			reason:   "bad request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := decode("Op", []byte(tt.raw))

			if tt.wantBody {
				assert.NotNil(t, body)
			} else {
				assert.Nil(t, body)
			}

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, IsProtocol(err))

			if tt.reason != "" {
				var fault *SOAPFault
				require.ErrorAs(t, err, &fault)
				assert.Equal(t, tt.reason, fault.Reason)
				assert.Equal(t, tt.subcode, fault.Subcode)
			}
		})
	}
}

func TestExpectEmptyResponse(t *testing.T) {
	parse := func(raw string) *xmltree.Node {
		root, err := xmltree.Parse([]byte(raw))
		require.NoError(t, err)
		return root.Child("Body")
	}

	empty := parse(`<s:Envelope xmlns:s="urn:s"><s:Body><SetUserResponse/></s:Body></s:Envelope>`)
	assert.NoError(t, expectEmptyResponse("SetUser", empty, "SetUserResponse"))

	nonEmpty := parse(`<s:Envelope xmlns:s="urn:s"><s:Body><SetUserResponse><Error>x</Error></SetUserResponse></s:Body></s:Envelope>`)
	assert.True(t, IsProtocol(expectEmptyResponse("SetUser", nonEmpty, "SetUserResponse")))

	withText := parse(`<s:Envelope xmlns:s="urn:s"><s:Body><SetUserResponse>failed</SetUserResponse></s:Body></s:Envelope>`)
	assert.True(t, IsProtocol(expectEmptyResponse("SetUser", withText, "SetUserResponse")))

	missing := parse(`<s:Envelope xmlns:s="urn:s"><s:Body><Other/></s:Body></s:Envelope>`)
	assert.True(t, IsProtocol(expectEmptyResponse("SetUser", missing, "SetUserResponse")))
}

func TestOperationName(t *testing.T) {
	tests := map[string]string{
		`<tds:GetUsers/>`:                         "GetUsers",
		`<trt:GetStreamUri><trt:ProfileToken>`:    "GetStreamUri",
		"  <tds:GetCapabilities>\n<tds:Category>": "GetCapabilities",
		`<GetProfiles xmlns="urn:x"/>`:            "GetProfiles",
		`no markup`:                               "request",
	}

	for body, want := range tests {
		assert.Equal(t, want, operationName(body), body)
	}
}

func TestEscapeXML(t *testing.T) {
	assert.Equal(t, "a&amp;b&lt;c&gt;d&apos;e&quot;f", escapeXML(`a&b<c>d'e"f`))
}
