package onviftest

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

const envelopeOpen = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"` +
	` xmlns:tds="http://www.onvif.org/ver10/device/wsdl"` +
	` xmlns:trt="http://www.onvif.org/ver10/media/wsdl"` +
	` xmlns:tt="http://www.onvif.org/ver10/schema"` +
	` xmlns:timg="http://www.onvif.org/ver20/imaging/wsdl"` +
	` xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl"` +
	` xmlns:ter="http://www.onvif.org/ver10/error">` +
	`<s:Body>`

const envelopeClose = `</s:Body></s:Envelope>`

// Envelope wraps a body fragment in a SOAP 1.2 response envelope
func Envelope(body string) string {
	return envelopeOpen + body + envelopeClose
}

func faultEnvelope(code, subcode, reason string) string {
	var b strings.Builder
	b.WriteString(`<s:Fault><s:Code>`)
	fmt.Fprintf(&b, `<s:Value>%s</s:Value>`, code)
	if subcode != "" {
		fmt.Fprintf(&b, `<s:Subcode><s:Value>%s</s:Value></s:Subcode>`, subcode)
	}
	b.WriteString(`</s:Code>`)
	fmt.Fprintf(&b, `<s:Reason><s:Text xml:lang="en">%s</s:Text></s:Reason>`, escape(reason))
	b.WriteString(`</s:Fault>`)
	return Envelope(b.String())
}

func ok(body string) (int, string) {
	return http.StatusOK, Envelope(body)
}

func fault(subcode, reason string) (int, string) {
	return http.StatusBadRequest, faultEnvelope("s:Sender", subcode, reason)
}

// dispatch answers one operation; the device lock is held
func (d *Device) dispatch(req *xmltree.Node, host string) (int, string) {
	switch req.Name {
	case "GetSystemDateAndTime":
		return ok(d.systemDateAndTime())
	case "SetSystemDateAndTime":
		return d.setSystemDateAndTime(req)
	case "GetCapabilities":
		return ok(d.capabilities(host))
	case "GetDeviceInformation":
		return ok(fmt.Sprintf(`<tds:GetDeviceInformationResponse>`+
			`<tds:Manufacturer>%s</tds:Manufacturer>`+
			`<tds:Model>%s</tds:Model>`+
			`<tds:FirmwareVersion>%s</tds:FirmwareVersion>`+
			`<tds:SerialNumber>%s</tds:SerialNumber>`+
			`<tds:HardwareId>%s</tds:HardwareId>`+
			`</tds:GetDeviceInformationResponse>`,
			escape(d.Manufacturer), escape(d.Model), escape(d.Firmware), escape(d.SerialNumber), "1.0"))
	case "GetHostname":
		return ok(fmt.Sprintf(`<tds:GetHostnameResponse><tds:HostnameInformation>`+
			`<tt:FromDHCP>false</tt:FromDHCP><tt:Name>%s</tt:Name>`+
			`</tds:HostnameInformation></tds:GetHostnameResponse>`, escape(d.Hostname)))
	case "GetUsers":
		return ok(d.users())
	case "CreateUsers":
		return d.createUsers(req)
	case "SetUser":
		return d.setUser(req)
	case "DeleteUsers":
		return d.deleteUsers(req)
	case "GetProfiles":
		return ok(d.profiles())
	case "GetVideoSources":
		return ok(d.videoSources())
	case "GetStreamUri":
		return d.mediaURI(req, "GetStreamUriResponse", "rtsp://"+host+"/stream/")
	case "GetSnapshotUri":
		return d.mediaURI(req, "GetSnapshotUriResponse", "http://"+host+"/snapshot/")
	case "SetVideoEncoderConfiguration":
		return d.setVideoEncoderConfiguration(req)
	case "GetOSDs":
		return ok(d.osds(req.Value("ConfigurationToken")))
	case "DeleteOSD":
		return d.deleteOSD(req.Value("OSDToken"))
	case "GetImagingSettings":
		return ok(fmt.Sprintf(`<timg:GetImagingSettingsResponse><timg:ImagingSettings>`+
			`<tt:Brightness>50</tt:Brightness><tt:Contrast>50</tt:Contrast>`+
			`<tt:IrCutFilter>%s</tt:IrCutFilter>`+
			`</timg:ImagingSettings></timg:GetImagingSettingsResponse>`,
			d.irCutFilter(req.Value("VideoSourceToken"))))
	case "SetImagingSettings":
		if d.irCut == nil {
			d.irCut = make(map[string]string)
		}
		d.irCut[req.Value("VideoSourceToken")] = req.Value("ImagingSettings", "IrCutFilter")
		return ok(`<timg:SetImagingSettingsResponse/>`)
	case "ContinuousMove", "Stop", "GotoHomePosition":
		return d.ptz(req)
	default:
		return http.StatusInternalServerError,
			faultEnvelope("s:Receiver", "ter:ActionNotSupported", req.Name+" is not implemented")
	}
}

func (d *Device) systemDateAndTime() string {
	now := d.deviceTime()
	return fmt.Sprintf(`<tds:GetSystemDateAndTimeResponse><tds:SystemDateAndTime>`+
		`<tt:DateTimeType>Manual</tt:DateTimeType>`+
		`<tt:DaylightSavings>false</tt:DaylightSavings>`+
		`<tt:TimeZone><tt:TZ>GMT0</tt:TZ></tt:TimeZone>`+
		`<tt:UTCDateTime>`+
		`<tt:Time><tt:Hour>%d</tt:Hour><tt:Minute>%d</tt:Minute><tt:Second>%d</tt:Second></tt:Time>`+
		`<tt:Date><tt:Year>%d</tt:Year><tt:Month>%d</tt:Month><tt:Day>%d</tt:Day></tt:Date>`+
		`</tt:UTCDateTime>`+
		`</tds:SystemDateAndTime></tds:GetSystemDateAndTimeResponse>`,
		now.Hour(), now.Minute(), now.Second(), now.Year(), int(now.Month()), now.Day())
}

func (d *Device) setSystemDateAndTime(req *xmltree.Node) (int, string) {
	if req.Value("DateTimeType") == "Manual" {
		utc := req.Child("UTCDateTime")
		field := func(path ...string) int {
			v, _ := strconv.Atoi(utc.Value(path...))
			return v
		}
		set := time.Date(field("Date", "Year"), time.Month(field("Date", "Month")), field("Date", "Day"),
			field("Time", "Hour"), field("Time", "Minute"), field("Time", "Second"), 0, time.UTC)
		if set.Year() < 1970 {
			return fault("ter:InvalidDateTime", "invalid date")
		}
		d.ClockOffset = set.Sub(d.Now())
	}
	return ok(`<tds:SetSystemDateAndTimeResponse/>`)
}

func (d *Device) capabilities(host string) string {
	xaddr := func(path string) string {
		return "http://" + host + path
	}

	var b strings.Builder
	b.WriteString(`<tds:GetCapabilitiesResponse><tds:Capabilities>`)
	for _, svc := range d.Services {
		switch svc {
		case "Device":
			fmt.Fprintf(&b, `<tt:Device><tt:XAddr>%s</tt:XAddr></tt:Device>`, xaddr("/onvif/device_service"))
		case "Media":
			fmt.Fprintf(&b, `<tt:Media><tt:XAddr>%s</tt:XAddr>`+
				`<tt:StreamingCapabilities>`+
				`<tt:RTPMulticast>false</tt:RTPMulticast><tt:RTP_TCP>true</tt:RTP_TCP><tt:RTP_RTSP_TCP>true</tt:RTP_RTSP_TCP>`+
				`</tt:StreamingCapabilities>`+
				`<tt:Extension><tt:ProfileCapabilities><tt:MaximumNumberOfProfiles>%d</tt:MaximumNumberOfProfiles></tt:ProfileCapabilities></tt:Extension>`+
				`</tt:Media>`, xaddr("/onvif/media"), len(d.Profiles)+2)
		default:
			fmt.Fprintf(&b, `<tt:%s><tt:XAddr>%s</tt:XAddr></tt:%s>`, svc, xaddr("/onvif/"+strings.ToLower(svc)), svc)
		}
	}

	if len(d.Extensions) > 0 {
		names := make([]string, 0, len(d.Extensions))
		for name := range d.Extensions {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString(`<tt:Extension>`)
		for _, name := range names {
			fmt.Fprintf(&b, `<tt:%s><tt:XAddr>%s</tt:XAddr></tt:%s>`, name, xaddr(d.Extensions[name]), name)
		}
		b.WriteString(`</tt:Extension>`)
	}

	b.WriteString(`</tds:Capabilities></tds:GetCapabilitiesResponse>`)
	return b.String()
}

func encoderToken(p Profile) string {
	if p.EncoderToken != "" {
		return p.EncoderToken
	}
	return "enc_" + p.Token
}

func (d *Device) profiles() string {
	var b strings.Builder
	b.WriteString(`<trt:GetProfilesResponse>`)
	for _, p := range d.Profiles {
		fmt.Fprintf(&b, `<trt:Profiles token="%s" fixed="true"><tt:Name>%s</tt:Name>`, p.Token, escape(p.Name))
		if p.SourceToken != "" {
			fmt.Fprintf(&b, `<tt:VideoSourceConfiguration token="vsc_%s">`+
				`<tt:Name>VideoSourceConfig</tt:Name><tt:UseCount>1</tt:UseCount>`+
				`<tt:SourceToken>%s</tt:SourceToken>`+
				`</tt:VideoSourceConfiguration>`, p.SourceToken, p.SourceToken)
		}
		if p.Encoding != "" {
			fmt.Fprintf(&b, `<tt:VideoEncoderConfiguration token="%s">`+
				`<tt:Name>%s</tt:Name><tt:UseCount>1</tt:UseCount>`+
				`<tt:Encoding>%s</tt:Encoding>`+
				`<tt:Resolution><tt:Width>%d</tt:Width><tt:Height>%d</tt:Height></tt:Resolution>`+
				`<tt:Quality>5</tt:Quality>`+
				`<tt:RateControl><tt:FrameRateLimit>%d</tt:FrameRateLimit><tt:EncodingInterval>1</tt:EncodingInterval><tt:BitrateLimit>%d</tt:BitrateLimit></tt:RateControl>`+
				`</tt:VideoEncoderConfiguration>`,
				encoderToken(p), escape(p.Name), p.Encoding, p.Width, p.Height, p.FPS, p.Bitrate)
		}
		if p.PTZ {
			fmt.Fprintf(&b, `<tt:PTZConfiguration token="ptz_%s"><tt:Name>PTZ</tt:Name><tt:NodeToken>ptz_node</tt:NodeToken></tt:PTZConfiguration>`, p.Token)
		}
		b.WriteString(`</trt:Profiles>`)
	}
	b.WriteString(`</trt:GetProfilesResponse>`)
	return b.String()
}

func (d *Device) videoSources() string {
	var b strings.Builder
	b.WriteString(`<trt:GetVideoSourcesResponse>`)
	for _, s := range d.Sources {
		fmt.Fprintf(&b, `<trt:VideoSources token="%s">`+
			`<tt:Framerate>%s</tt:Framerate>`+
			`<tt:Resolution><tt:Width>%d</tt:Width><tt:Height>%d</tt:Height></tt:Resolution>`+
			`</trt:VideoSources>`,
			s.Token, strconv.FormatFloat(s.Framerate, 'f', -1, 64), s.Width, s.Height)
	}
	b.WriteString(`</trt:GetVideoSourcesResponse>`)
	return b.String()
}

func (d *Device) findProfile(token string) (int, bool) {
	for i, p := range d.Profiles {
		if p.Token == token {
			return i, true
		}
	}
	return -1, false
}

func (d *Device) mediaURI(req *xmltree.Node, response, prefix string) (int, string) {
	token := req.Value("ProfileToken")
	if _, found := d.findProfile(token); !found {
		return fault("ter:NoProfile", "profile "+token+" does not exist")
	}
	return ok(fmt.Sprintf(`<trt:%s><trt:MediaUri>`+
		`<tt:Uri>%s%s</tt:Uri><tt:InvalidAfterConnect>false</tt:InvalidAfterConnect>`+
		`<tt:InvalidAfterReboot>false</tt:InvalidAfterReboot><tt:Timeout>PT0S</tt:Timeout>`+
		`</trt:MediaUri></trt:%s>`, response, prefix, token, response))
}

func (d *Device) setVideoEncoderConfiguration(req *xmltree.Node) (int, string) {
	cfg := req.Child("Configuration")
	token := cfg.Attr("token")

	for i, p := range d.Profiles {
		if p.Encoding == "" || encoderToken(p) != token {
			continue
		}
		d.Profiles[i].Encoding = cfg.Value("Encoding")
		d.Profiles[i].Width, _ = strconv.Atoi(cfg.Value("Resolution", "Width"))
		d.Profiles[i].Height, _ = strconv.Atoi(cfg.Value("Resolution", "Height"))
		d.Profiles[i].FPS, _ = strconv.Atoi(cfg.Value("RateControl", "FrameRateLimit"))
		d.Profiles[i].Bitrate, _ = strconv.Atoi(cfg.Value("RateControl", "BitrateLimit"))
		return ok(`<trt:SetVideoEncoderConfigurationResponse/>`)
	}
	return fault("ter:NoConfig", "encoder configuration "+token+" does not exist")
}

func (d *Device) osds(configurationToken string) string {
	var b strings.Builder
	b.WriteString(`<trt:GetOSDsResponse>`)
	for _, osd := range d.OSDs {
		if configurationToken != "" && osd.ConfigurationToken != configurationToken {
			continue
		}
		fmt.Fprintf(&b, `<trt:OSDs token="%s">`+
			`<tt:VideoSourceConfigurationToken>%s</tt:VideoSourceConfigurationToken>`+
			`<tt:Type>%s</tt:Type>`+
			`</trt:OSDs>`, osd.Token, osd.ConfigurationToken, osd.Type)
	}
	b.WriteString(`</trt:GetOSDsResponse>`)
	return b.String()
}

func (d *Device) deleteOSD(token string) (int, string) {
	for i, osd := range d.OSDs {
		if osd.Token == token {
			d.OSDs = append(d.OSDs[:i], d.OSDs[i+1:]...)
			return ok(`<trt:DeleteOSDResponse/>`)
		}
	}
	return fault("ter:NoConfig", "OSD "+token+" does not exist")
}

// AddOSD registers a text OSD on a video source configuration and returns
// its token
func (d *Device) AddOSD(configurationToken string) string {
	token := uuid.Must(uuid.NewV4()).String()
	d.Update(func(d *Device) {
		d.OSDs = append(d.OSDs, OSD{Token: token, ConfigurationToken: configurationToken, Type: "Text"})
	})
	return token
}

func (d *Device) irCutFilter(source string) string {
	if mode, found := d.irCut[source]; found {
		return mode
	}
	return "AUTO"
}

func (d *Device) users() string {
	var b strings.Builder
	b.WriteString(`<tds:GetUsersResponse>`)
	for _, u := range d.Users {
		fmt.Fprintf(&b, `<tds:User><tt:Username>%s</tt:Username><tt:UserLevel>%s</tt:UserLevel></tds:User>`,
			escape(u.Username), u.Level)
	}
	b.WriteString(`</tds:GetUsersResponse>`)
	return b.String()
}

func (d *Device) findUser(name string) int {
	for i, u := range d.Users {
		if u.Username == name {
			return i
		}
	}
	return -1
}

func (d *Device) createUsers(req *xmltree.Node) (int, string) {
	for _, u := range req.All("User") {
		if d.findUser(u.Value("Username")) != -1 {
			return fault("ter:UsernameClash", "")
		}
	}
	for _, u := range req.All("User") {
		d.Users = append(d.Users, User{
			Username: u.Value("Username"),
			Password: u.Value("Password"),
			Level:    u.Value("UserLevel"),
		})
	}
	return ok(`<tds:CreateUsersResponse/>`)
}

func (d *Device) setUser(req *xmltree.Node) (int, string) {
	u := req.Child("User")
	i := d.findUser(u.Value("Username"))
	if i == -1 {
		return fault("ter:UsernameMissing", "")
	}
	if pw := u.Value("Password"); pw != "" {
		d.Users[i].Password = pw
	}
	d.Users[i].Level = u.Value("UserLevel")
	return ok(`<tds:SetUserResponse/>`)
}

func (d *Device) deleteUsers(req *xmltree.Node) (int, string) {
	for _, n := range req.All("Username") {
		if d.findUser(n.Text) == -1 {
			return fault("ter:UsernameMissing", "")
		}
	}
	for _, n := range req.All("Username") {
		i := d.findUser(n.Text)
		d.Users = append(d.Users[:i], d.Users[i+1:]...)
	}
	return ok(`<tds:DeleteUsersResponse/>`)
}

func (d *Device) ptz(req *xmltree.Node) (int, string) {
	i, found := d.findProfile(req.Value("ProfileToken"))
	if !found || !d.Profiles[i].PTZ {
		return fault("ter:NoPTZProfile", "profile has no PTZ configuration")
	}
	return ok(fmt.Sprintf(`<tptz:%sResponse/>`, req.Name))
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}
