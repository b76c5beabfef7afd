package onvif

import (
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// resolveActiveSources picks, for each video source in reported order, the
// first profile bound to it that has a video encoder. The primary source
// must resolve; other unresolved sources are left out.
func resolveActiveSources(sources []VideoSource, profiles []Profile, logger zerolog.Logger) ([]ActiveSource, *Profile, error) {
	active := make([]ActiveSource, 0, len(sources))
	var primary *Profile

	for i, src := range sources {
		profile := matchProfile(src.Token, profiles)
		if profile == nil {
			if i == 0 {
				return nil, nil, newError(KindBootstrapFatal, "resolve active sources",
					errors.Errorf("no profile with a video encoder references primary video source %q", src.Token))
			}
			logger.Warn().Int("index", i).Str("source", src.Token).Msg("no profile for video source, skipping")
			continue
		}

		if i == 0 {
			p := *profile
			primary = &p
		}
		active = append(active, summarize(src, profile))
	}

	return active, primary, nil
}

func matchProfile(sourceToken string, profiles []Profile) *Profile {
	for i := range profiles {
		p := &profiles[i]
		if p.VideoSourceConfiguration == nil || p.VideoEncoderConfiguration == nil {
			continue
		}
		if p.VideoSourceConfiguration.SourceToken == sourceToken {
			return p
		}
	}
	return nil
}

func summarize(src VideoSource, p *Profile) ActiveSource {
	enc := p.VideoEncoderConfiguration
	as := ActiveSource{
		SourceToken:  src.Token,
		ProfileToken: p.Token,
		ProfileName:  p.Name,
		Encoding:     enc.Encoding,
		Width:        enc.Resolution.Width,
		Height:       enc.Resolution.Height,
		FPS:          enc.RateControl.FrameRateLimit,
		Bitrate:      enc.RateControl.BitrateLimit,
	}
	if p.PTZConfiguration != nil {
		as.PTZ = &ActivePTZ{Name: p.PTZConfiguration.Name, Token: p.PTZConfiguration.Token}
	}
	return as
}
