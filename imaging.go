package onvif

import (
	"context"
	"fmt"

	"github.com/juju/errors"
)

// sourceToken defaults an empty video source token to the primary active
// source
func (c *Client) sourceToken(token, op string) (string, error) {
	if token != "" {
		return token, nil
	}
	if src, ok := c.ActiveSource(); ok {
		return src.SourceToken, nil
	}
	return "", configurationError(op, "no video source token given and no active source")
}

// GetImagingSettings retrieves the imaging settings of a video source. An
// empty token selects the primary active source.
func (c *Client) GetImagingSettings(ctx context.Context, videoSourceToken string) (*ImagingSettings, error) {
	token, err := c.sourceToken(videoSourceToken, "GetImagingSettings")
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`<timg:GetImagingSettings>`+
		`<timg:VideoSourceToken>%s</timg:VideoSourceToken>`+
		`</timg:GetImagingSettings>`, escapeXML(token))

	resp, _, err := c.Request(ctx, "imaging", body)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get imaging settings")
	}

	settings := resp.Path("GetImagingSettingsResponse", "ImagingSettings")
	if settings == nil {
		return nil, protocolError("GetImagingSettings", "response has no ImagingSettings")
	}

	return &ImagingSettings{
		VideoSourceToken: token,
		IrCutFilter:      IrCutFilterMode(settings.Value("IrCutFilter")),
		Brightness:       atof(settings.Value("Brightness")),
		Contrast:         atof(settings.Value("Contrast")),
	}, nil
}

// SetIrCutFilter sets the IR cut filter (day/night) mode of a video source.
// An empty token selects the primary active source.
func (c *Client) SetIrCutFilter(ctx context.Context, videoSourceToken string, mode IrCutFilterMode) error {
	const op = "SetImagingSettings"

	switch mode {
	case IrCutFilterOn, IrCutFilterOff, IrCutFilterAuto:
	default:
		return configurationError(op, "unrecognized IR cut filter mode %q", mode)
	}

	token, err := c.sourceToken(videoSourceToken, op)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(`<timg:SetImagingSettings>`+
		`<timg:VideoSourceToken>%s</timg:VideoSourceToken>`+
		`<timg:ImagingSettings><tt:IrCutFilter>%s</tt:IrCutFilter></timg:ImagingSettings>`+
		`</timg:SetImagingSettings>`, escapeXML(token), mode)

	resp, _, err := c.Request(ctx, "imaging", body)
	if err != nil {
		return errors.Annotate(err, "failed to set IR cut filter")
	}
	return expectEmptyResponse(op, resp, "SetImagingSettingsResponse")
}
