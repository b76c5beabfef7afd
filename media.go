package onvif

import (
	"context"
	"fmt"
	"strconv"

	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

// GetProfiles fetches all media profiles and caches them on the connection
func (c *Client) GetProfiles(ctx context.Context) ([]Profile, error) {
	body, _, err := c.Request(ctx, "media", `<trt:GetProfiles/>`)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get profiles")
	}

	resp := body.Child("GetProfilesResponse")
	if resp == nil {
		return nil, protocolError("GetProfiles", "response has no GetProfilesResponse")
	}

	var profiles []Profile
	for _, n := range resp.All("Profiles") {
		profiles = append(profiles, parseProfile(n))
	}

	c.mu.Lock()
	c.state.Profiles = profiles
	c.mu.Unlock()

	return profiles, nil
}

func parseProfile(n *xmltree.Node) Profile {
	p := Profile{
		Token: n.Attr("token"),
		Name:  n.Value("Name"),
		Fixed: parseBool(n.Attr("fixed")),
	}

	if vsc := n.Child("VideoSourceConfiguration"); vsc != nil {
		p.VideoSourceConfiguration = &VideoSourceConfiguration{
			Token:       vsc.Attr("token"),
			Name:        vsc.Value("Name"),
			SourceToken: vsc.Value("SourceToken"),
		}
	}

	if vec := n.Child("VideoEncoderConfiguration"); vec != nil {
		p.VideoEncoderConfiguration = &VideoEncoderConfiguration{
			Token:    vec.Attr("token"),
			Name:     vec.Value("Name"),
			Encoding: vec.Value("Encoding"),
			Resolution: Resolution{
				Width:  atoi(vec.Value("Resolution", "Width")),
				Height: atoi(vec.Value("Resolution", "Height")),
			},
			Quality: atof(vec.Value("Quality")),
			RateControl: RateControl{
				FrameRateLimit:   atoi(vec.Value("RateControl", "FrameRateLimit")),
				EncodingInterval: atoi(vec.Value("RateControl", "EncodingInterval")),
				BitrateLimit:     atoi(vec.Value("RateControl", "BitrateLimit")),
			},
		}
	}

	if ptz := n.Child("PTZConfiguration"); ptz != nil {
		p.PTZConfiguration = &PTZConfiguration{
			Token:     ptz.Attr("token"),
			Name:      ptz.Value("Name"),
			NodeToken: ptz.Value("NodeToken"),
		}
	}

	return p
}

// GetVideoSources fetches the physical video sources and caches them on the
// connection
func (c *Client) GetVideoSources(ctx context.Context) ([]VideoSource, error) {
	body, _, err := c.Request(ctx, "media", `<trt:GetVideoSources/>`)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get video sources")
	}

	resp := body.Child("GetVideoSourcesResponse")
	if resp == nil {
		return nil, protocolError("GetVideoSources", "response has no GetVideoSourcesResponse")
	}

	var sources []VideoSource
	for _, n := range resp.All("VideoSources") {
		sources = append(sources, VideoSource{
			Token:     n.Attr("token"),
			Framerate: atof(n.Value("Framerate")),
			Resolution: Resolution{
				Width:  atoi(n.Value("Resolution", "Width")),
				Height: atoi(n.Value("Resolution", "Height")),
			},
		})
	}

	c.mu.Lock()
	c.state.VideoSources = sources
	c.mu.Unlock()

	return sources, nil
}

// GetStreamURI retrieves the RTSP stream URI of a profile. An empty token
// selects the profile of the primary active source.
func (c *Client) GetStreamURI(ctx context.Context, profileToken string) (string, error) {
	token, err := c.profileToken(profileToken, "GetStreamUri")
	if err != nil {
		return "", err
	}

	body := fmt.Sprintf(`<trt:GetStreamUri>`+
		`<trt:StreamSetup>`+
		`<tt:Stream>RTP-Unicast</tt:Stream>`+
		`<tt:Transport><tt:Protocol>RTSP</tt:Protocol></tt:Transport>`+
		`</trt:StreamSetup>`+
		`<trt:ProfileToken>%s</trt:ProfileToken>`+
		`</trt:GetStreamUri>`, escapeXML(token))

	resp, _, err := c.Request(ctx, "media", body)
	if err != nil {
		return "", errors.Annotate(err, "failed to get stream URI")
	}

	uri := resp.Value("GetStreamUriResponse", "MediaUri", "Uri")
	if uri == "" {
		return "", protocolError("GetStreamUri", "no stream URI found in response")
	}
	return uri, nil
}

// GetSnapshotURI retrieves the JPEG snapshot URI of a profile. An empty
// token selects the profile of the primary active source.
func (c *Client) GetSnapshotURI(ctx context.Context, profileToken string) (string, error) {
	token, err := c.profileToken(profileToken, "GetSnapshotUri")
	if err != nil {
		return "", err
	}

	body := fmt.Sprintf(`<trt:GetSnapshotUri><trt:ProfileToken>%s</trt:ProfileToken></trt:GetSnapshotUri>`,
		escapeXML(token))

	resp, _, err := c.Request(ctx, "media", body)
	if err != nil {
		return "", errors.Annotate(err, "failed to get snapshot URI")
	}

	uri := resp.Value("GetSnapshotUriResponse", "MediaUri", "Uri")
	if uri == "" {
		return "", protocolError("GetSnapshotUri", "no snapshot URI found in response")
	}
	return uri, nil
}

// SetVideoEncoderConfiguration updates a video encoder configuration
func (c *Client) SetVideoEncoderConfiguration(ctx context.Context, encoderToken string, config StreamUpdateConfig) error {
	const op = "SetVideoEncoderConfiguration"

	if encoderToken == "" {
		return configurationError(op, "encoder token is required")
	}
	if config.Resolution.Width <= 0 || config.Resolution.Height <= 0 {
		return configurationError(op, "invalid resolution %dx%d", config.Resolution.Width, config.Resolution.Height)
	}
	switch config.Encoding {
	case "H264", "H265", "JPEG", "MPEG4":
	default:
		return configurationError(op, "unsupported encoding %q", config.Encoding)
	}

	name := config.Name
	if name == "" {
		name = encoderToken
	}

	body := fmt.Sprintf(`<trt:SetVideoEncoderConfiguration>`+
		`<trt:Configuration token="%s">`+
		`<tt:Name>%s</tt:Name>`+
		`<tt:UseCount>0</tt:UseCount>`+
		`<tt:Encoding>%s</tt:Encoding>`+
		`<tt:Resolution><tt:Width>%d</tt:Width><tt:Height>%d</tt:Height></tt:Resolution>`+
		`<tt:Quality>3.0</tt:Quality>`+
		`<tt:RateControl>`+
		`<tt:FrameRateLimit>%d</tt:FrameRateLimit>`+
		`<tt:EncodingInterval>1</tt:EncodingInterval>`+
		`<tt:BitrateLimit>%d</tt:BitrateLimit>`+
		`</tt:RateControl>`+
		`<tt:Multicast>`+
		`<tt:Address><tt:Type>IPv4</tt:Type><tt:IPv4Address>0.0.0.0</tt:IPv4Address></tt:Address>`+
		`<tt:Port>0</tt:Port><tt:TTL>0</tt:TTL><tt:AutoStart>false</tt:AutoStart>`+
		`</tt:Multicast>`+
		`<tt:SessionTimeout>PT60S</tt:SessionTimeout>`+
		`</trt:Configuration>`+
		`<trt:ForcePersistence>true</trt:ForcePersistence>`+
		`</trt:SetVideoEncoderConfiguration>`,
		escapeXML(encoderToken),
		escapeXML(name),
		config.Encoding,
		config.Resolution.Width,
		config.Resolution.Height,
		config.Framerate,
		config.Bitrate)

	resp, _, err := c.Request(ctx, "media", body)
	if err != nil {
		return errors.Annotate(err, "failed to update configuration")
	}
	return expectEmptyResponse(op, resp, "SetVideoEncoderConfigurationResponse")
}

// UpdateStreamConfiguration updates the encoder driving the active source
// at index
func (c *Client) UpdateStreamConfiguration(ctx context.Context, index int, config StreamUpdateConfig) error {
	const op = "UpdateStreamConfiguration"

	state := c.State()
	if index < 0 || index >= len(state.ActiveSources) {
		return configurationError(op, "no active source at index %d", index)
	}

	profileToken := state.ActiveSources[index].ProfileToken
	for _, p := range state.Profiles {
		if p.Token == profileToken && p.VideoEncoderConfiguration != nil {
			return c.SetVideoEncoderConfiguration(ctx, p.VideoEncoderConfiguration.Token, config)
		}
	}
	return configurationError(op, "profile %q has no video encoder", profileToken)
}

// profileToken defaults an empty token to the primary active profile
func (c *Client) profileToken(token, op string) (string, error) {
	if token != "" {
		return token, nil
	}
	if src, ok := c.ActiveSource(); ok {
		return src.ProfileToken, nil
	}
	return "", configurationError(op, "no profile token given and no active source")
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func atof(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
