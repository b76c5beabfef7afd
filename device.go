package onvif

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

// GetSystemDateAndTime fetches the device clock. The request is never
// signed because signed requests depend on the clock skew it measures.
func (c *Client) GetSystemDateAndTime(ctx context.Context) (*SystemDateAndTime, error) {
	body, _, err := c.do(ctx, request{
		target: Target{Service: "device"},
		body:   `<tds:GetSystemDateAndTime/>`,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return parseSystemDateAndTime(body)
}

func parseSystemDateAndTime(body *xmltree.Node) (*SystemDateAndTime, error) {
	const op = "GetSystemDateAndTime"

	sdt := body.Path("GetSystemDateAndTimeResponse", "SystemDateAndTime")
	if sdt == nil {
		return nil, protocolError(op, "response has no SystemDateAndTime")
	}

	// devices without a UTC clock only report local time
	dt := sdt.Child("UTCDateTime")
	if dt == nil {
		dt = sdt.Child("LocalDateTime")
	}
	if dt == nil {
		return nil, protocolError(op, "response has neither UTCDateTime nor LocalDateTime")
	}

	utc, err := parseDateTime(dt)
	if err != nil {
		return nil, newError(KindProtocol, op, err)
	}

	return &SystemDateAndTime{
		DateTimeType:    DateTimeType(sdt.Value("DateTimeType")),
		DaylightSavings: parseBool(sdt.Value("DaylightSavings")),
		TimeZone:        sdt.Value("TimeZone", "TZ"),
		UTC:             utc,
	}, nil
}

func parseDateTime(dt *xmltree.Node) (time.Time, error) {
	fields := []struct {
		path []string
		dst  int
	}{
		{path: []string{"Date", "Year"}},
		{path: []string{"Date", "Month"}},
		{path: []string{"Date", "Day"}},
		{path: []string{"Time", "Hour"}},
		{path: []string{"Time", "Minute"}},
		{path: []string{"Time", "Second"}},
	}

	for i := range fields {
		v, err := strconv.Atoi(dt.Value(fields[i].path...))
		if err != nil {
			return time.Time{}, errors.Annotatef(err, "invalid %s", strings.Join(fields[i].path, "/"))
		}
		fields[i].dst = v
	}

	return time.Date(fields[0].dst, time.Month(fields[1].dst), fields[2].dst,
		fields[3].dst, fields[4].dst, fields[5].dst, 0, time.UTC), nil
}

// SetSystemDateAndTime sets the device clock. An unknown DateTimeType is
// rejected before anything is sent. The cached clock skew is not updated;
// call ResetClockSkew and Connect again to measure the new offset.
func (c *Client) SetSystemDateAndTime(ctx context.Context, opts SetDateTimeOptions) error {
	const op = "SetSystemDateAndTime"

	switch opts.DateTimeType {
	case DateTimeManual, DateTimeNTP:
	default:
		return configurationError(op, "unrecognized date-time type %q", opts.DateTimeType)
	}

	tz := opts.TimeZone
	if tz == "" {
		tz = "GMT0"
	}

	var b strings.Builder
	b.WriteString("<tds:SetSystemDateAndTime>")
	fmt.Fprintf(&b, "<tds:DateTimeType>%s</tds:DateTimeType>", opts.DateTimeType)
	fmt.Fprintf(&b, "<tds:DaylightSavings>%t</tds:DaylightSavings>", opts.DaylightSavings)
	fmt.Fprintf(&b, "<tds:TimeZone><tt:TZ>%s</tt:TZ></tds:TimeZone>", escapeXML(tz))

	if opts.DateTimeType == DateTimeManual {
		now := opts.UTC
		if now.IsZero() {
			now = c.cfg.Now()
		}
		now = now.UTC()
		fmt.Fprintf(&b, "<tds:UTCDateTime>"+
			"<tt:Time><tt:Hour>%d</tt:Hour><tt:Minute>%d</tt:Minute><tt:Second>%d</tt:Second></tt:Time>"+
			"<tt:Date><tt:Year>%d</tt:Year><tt:Month>%d</tt:Month><tt:Day>%d</tt:Day></tt:Date>"+
			"</tds:UTCDateTime>",
			now.Hour(), now.Minute(), now.Second(),
			now.Year(), int(now.Month()), now.Day())
	}
	b.WriteString("</tds:SetSystemDateAndTime>")

	body, _, err := c.Request(ctx, "device", b.String())
	if err != nil {
		return errors.Annotate(err, "failed to set date/time")
	}
	return expectEmptyResponse(op, body, "SetSystemDateAndTimeResponse")
}

// GetCapabilities fetches device capabilities and rebuilds the service
// directory from them
func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	body, _, err := c.Request(ctx, "device",
		`<tds:GetCapabilities><tds:Category>All</tds:Category></tds:GetCapabilities>`)
	if err != nil {
		return nil, errors.Trace(err)
	}

	caps, err := parseCapabilities(body)
	if err != nil {
		return nil, err
	}

	c.applyCapabilities(caps)
	return caps, nil
}

func parseCapabilities(body *xmltree.Node) (*Capabilities, error) {
	node := body.Path("GetCapabilitiesResponse", "Capabilities")
	if node == nil {
		return nil, protocolError("GetCapabilities", "response has no Capabilities")
	}

	service := func(name string) *ServiceCapability {
		n := node.Child(name)
		if n == nil {
			return nil
		}
		return &ServiceCapability{XAddr: n.Value("XAddr")}
	}

	caps := &Capabilities{
		Device:    service("Device"),
		Imaging:   service("Imaging"),
		PTZ:       service("PTZ"),
		Events:    service("Events"),
		Analytics: service("Analytics"),
	}

	if media := node.Child("Media"); media != nil {
		streaming := media.Child("StreamingCapabilities")
		maxProfiles, _ := strconv.Atoi(media.Value("Extension", "ProfileCapabilities", "MaximumNumberOfProfiles"))
		caps.Media = &MediaCapability{
			XAddr:           media.Value("XAddr"),
			RTPMulticast:    parseBool(streaming.Value("RTPMulticast")),
			RTPTCP:          parseBool(streaming.Value("RTP_TCP")),
			RTPRTSPTCP:      parseBool(streaming.Value("RTP_RTSP_TCP")),
			MaximumProfiles: maxProfiles,
		}
	}

	for _, ext := range node.Child("Extension").Elements() {
		if addr := ext.Value("XAddr"); addr != "" {
			caps.Extensions = append(caps.Extensions, ExtensionCapability{Name: ext.Name, XAddr: addr})
		}
	}

	return caps, nil
}

// applyCapabilities replaces the capabilities and the service directory.
// Once connected, the active sources are rebuilt from the cached profiles
// and video sources as well.
func (c *Client) applyCapabilities(caps *Capabilities) {
	uris := buildServiceURIs(caps, c.cfg, c.log)

	c.mu.Lock()
	c.state.Capabilities = caps
	c.state.ServiceURIs = uris
	ready := c.state.Bootstrap == StateReady
	sources := c.state.VideoSources
	profiles := c.state.Profiles
	c.mu.Unlock()

	if !ready || len(sources) == 0 {
		return
	}

	active, primary, err := resolveActiveSources(sources, profiles, c.log)
	if err != nil {
		c.log.Warn().Err(err).Msg("keeping previous active sources")
		return
	}

	c.mu.Lock()
	c.state.ActiveSources = active
	c.state.DefaultProfile = primary
	c.mu.Unlock()
}

// GetDeviceInformation fetches manufacturer, model, firmware and serial
func (c *Client) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	body, _, err := c.Request(ctx, "device", `<tds:GetDeviceInformation/>`)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get device information")
	}

	resp := body.Child("GetDeviceInformationResponse")
	if resp == nil {
		return nil, protocolError("GetDeviceInformation", "response has no GetDeviceInformationResponse")
	}

	return &DeviceInformation{
		Manufacturer:    resp.Value("Manufacturer"),
		Model:           resp.Value("Model"),
		FirmwareVersion: resp.Value("FirmwareVersion"),
		SerialNumber:    resp.Value("SerialNumber"),
		HardwareId:      resp.Value("HardwareId"),
	}, nil
}

// GetHostname fetches the device hostname
func (c *Client) GetHostname(ctx context.Context) (*HostnameInformation, error) {
	body, _, err := c.Request(ctx, "device", `<tds:GetHostname/>`)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get hostname")
	}

	info := body.Path("GetHostnameResponse", "HostnameInformation")
	if info == nil {
		return nil, protocolError("GetHostname", "response has no HostnameInformation")
	}

	return &HostnameInformation{
		Name:     info.Value("Name"),
		FromDHCP: parseBool(info.Value("FromDHCP")),
	}, nil
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}
