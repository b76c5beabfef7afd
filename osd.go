package onvif

import (
	"context"
	"fmt"

	"github.com/juju/errors"
)

// GetOSDs retrieves the On-Screen Display configurations bound to a video
// source configuration, or all of them when the token is empty
func (c *Client) GetOSDs(ctx context.Context, configurationToken string) ([]OSDConfig, error) {
	body := `<trt:GetOSDs/>`
	if configurationToken != "" {
		body = fmt.Sprintf(`<trt:GetOSDs><trt:ConfigurationToken>%s</trt:ConfigurationToken></trt:GetOSDs>`,
			escapeXML(configurationToken))
	}

	resp, _, err := c.Request(ctx, "media", body)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get OSDs")
	}

	list := resp.Child("GetOSDsResponse")
	if list == nil {
		return nil, protocolError("GetOSDs", "response has no GetOSDsResponse")
	}

	var configs []OSDConfig
	for _, osd := range list.All("OSDs") {
		configs = append(configs, OSDConfig{
			Token:              osd.Attr("token"),
			Type:               osd.Value("Type"),
			ConfigurationToken: osd.Value("VideoSourceConfigurationToken"),
		})
	}
	return configs, nil
}

// DeleteOSD removes an OSD configuration by token
func (c *Client) DeleteOSD(ctx context.Context, osdToken string) error {
	const op = "DeleteOSD"

	if osdToken == "" {
		return configurationError(op, "OSD token is required")
	}

	body := fmt.Sprintf(`<trt:DeleteOSD><trt:OSDToken>%s</trt:OSDToken></trt:DeleteOSD>`, escapeXML(osdToken))

	resp, _, err := c.Request(ctx, "media", body)
	if err != nil {
		return errors.Annotate(err, "failed to delete OSD")
	}
	return expectEmptyResponse(op, resp, "DeleteOSDResponse")
}
