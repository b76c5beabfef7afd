package onvif

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

// ptzProfileToken defaults an empty token to the primary active source,
// which must carry a PTZ configuration
func (c *Client) ptzProfileToken(token, op string) (string, error) {
	if token != "" {
		return token, nil
	}
	src, ok := c.ActiveSource()
	if !ok || src.PTZ == nil {
		return "", configurationError(op, "no profile token given and the primary source has no PTZ configuration")
	}
	return src.ProfileToken, nil
}

// ContinuousMove starts a pan/tilt/zoom movement at the given velocity. A
// positive timeout stops the movement on the device after that duration.
func (c *Client) ContinuousMove(ctx context.Context, profileToken string, velocity PTZVector, timeout time.Duration) error {
	const op = "ContinuousMove"

	for _, v := range []float64{velocity.Pan, velocity.Tilt, velocity.Zoom} {
		if v < -1 || v > 1 {
			return configurationError(op, "velocity component %g outside [-1, 1]", v)
		}
	}

	token, err := c.ptzProfileToken(profileToken, op)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("<tptz:ContinuousMove>")
	fmt.Fprintf(&b, "<tptz:ProfileToken>%s</tptz:ProfileToken>", escapeXML(token))
	fmt.Fprintf(&b, `<tptz:Velocity><tt:PanTilt x="%s" y="%s"/><tt:Zoom x="%s"/></tptz:Velocity>`,
		formatFloat(velocity.Pan), formatFloat(velocity.Tilt), formatFloat(velocity.Zoom))
	if timeout > 0 {
		fmt.Fprintf(&b, "<tptz:Timeout>PT%sS</tptz:Timeout>", formatFloat(timeout.Seconds()))
	}
	b.WriteString("</tptz:ContinuousMove>")

	resp, _, err := c.Request(ctx, "ptz", b.String())
	if err != nil {
		return errors.Annotate(err, "failed to start PTZ movement")
	}
	return expectEmptyResponse(op, resp, "ContinuousMoveResponse")
}

// Stop halts pan/tilt and zoom movement
func (c *Client) Stop(ctx context.Context, profileToken string) error {
	const op = "Stop"

	token, err := c.ptzProfileToken(profileToken, op)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(`<tptz:Stop>`+
		`<tptz:ProfileToken>%s</tptz:ProfileToken>`+
		`<tptz:PanTilt>true</tptz:PanTilt>`+
		`<tptz:Zoom>true</tptz:Zoom>`+
		`</tptz:Stop>`, escapeXML(token))

	resp, _, err := c.Request(ctx, "ptz", body)
	if err != nil {
		return errors.Annotate(err, "failed to stop PTZ movement")
	}
	return expectEmptyResponse(op, resp, "StopResponse")
}

// GotoHomePosition moves to the configured home position
func (c *Client) GotoHomePosition(ctx context.Context, profileToken string) error {
	const op = "GotoHomePosition"

	token, err := c.ptzProfileToken(profileToken, op)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(`<tptz:GotoHomePosition><tptz:ProfileToken>%s</tptz:ProfileToken></tptz:GotoHomePosition>`,
		escapeXML(token))

	resp, _, err := c.Request(ctx, "ptz", body)
	if err != nil {
		return errors.Annotate(err, "failed to go to home position")
	}
	return expectEmptyResponse(op, resp, "GotoHomePositionResponse")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
