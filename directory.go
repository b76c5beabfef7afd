package onvif

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// PreserveAddress applies the address-preservation rule to a device-reported
// address: when enabled and the address names another host, its host and
// port are replaced by the configured ones. Scheme and path are kept.
func (c *Client) PreserveAddress(address string) string {
	return preserveAddress(address, c.cfg)
}

func preserveAddress(address string, cfg Config) string {
	if !cfg.PreserveAddress {
		return address
	}

	u, err := url.Parse(address)
	if err != nil || u.Host == "" {
		return address
	}
	if u.Hostname() == cfg.Hostname {
		return address
	}

	u.Host = cfg.hostPort()
	return u.String()
}

// buildServiceURIs maps every capability advertising an address to its
// resolved address, keyed by lowercased category name
func buildServiceURIs(caps *Capabilities, cfg Config, logger zerolog.Logger) map[string]string {
	uris := make(map[string]string)
	if caps == nil {
		return uris
	}

	add := func(name, address string) {
		if address == "" {
			return
		}
		uris[strings.ToLower(name)] = preserveAddress(address, cfg)
	}

	if caps.Device != nil {
		add("device", caps.Device.XAddr)
	}
	if caps.Media != nil {
		add("media", caps.Media.XAddr)
	}
	if caps.Imaging != nil {
		add("imaging", caps.Imaging.XAddr)
	}
	if caps.PTZ != nil {
		add("ptz", caps.PTZ.XAddr)
	}
	if caps.Events != nil {
		add("events", caps.Events.XAddr)
	}
	if caps.Analytics != nil {
		add("analytics", caps.Analytics.XAddr)
	}
	for _, ext := range caps.Extensions {
		add(ext.Name, ext.XAddr)
	}

	// Some Profile G firmware advertises Replay but omits Recording although
	// both services live side by side.
	if replay, ok := uris["replay"]; ok {
		if _, ok := uris["recording"]; !ok {
			recording := strings.Replace(replay, "replay", "recording", 1)
			uris["recording"] = recording
			logger.Warn().
				Str("replay", replay).
				Str("recording", recording).
				Msg("device reports no recording service, derived its address from replay")
		}
	}

	return uris
}
