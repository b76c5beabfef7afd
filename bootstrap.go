package onvif

import (
	"context"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"
)

// Connect runs the bootstrap sequence: clock sync, capability discovery,
// concurrent profile and video source discovery, then active source
// resolution. It returns nil once the client is ready; on failure the
// client is left in StateErrored and the first error is returned.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.bootstrap(ctx); err != nil {
		c.setBootstrapState(StateErrored)
		c.log.Error().Err(err).Msg("connection failed")
		return err
	}

	c.log.Info().Int("sources", len(c.ActiveSources())).Msg("connected")
	c.emitConnected()
	return nil
}

func (c *Client) bootstrap(ctx context.Context) error {
	c.setBootstrapState(StateIdle)

	if err := c.syncClock(ctx); err != nil {
		return errors.Annotate(err, "clock sync failed")
	}
	c.setBootstrapState(StateTimeSynced)

	caps, err := c.GetCapabilities(ctx)
	if err != nil {
		return errors.Annotate(err, "capability discovery failed")
	}
	c.setBootstrapState(StateCapabilitiesKnown)

	if caps.Media == nil {
		c.log.Info().Msg("device has no media capability, skipping source discovery")
		c.mu.Lock()
		c.state.ActiveSources = nil
		c.state.DefaultProfile = nil
		c.state.Bootstrap = StateReady
		c.mu.Unlock()
		return nil
	}

	c.setBootstrapState(StateSourcesDiscovering)

	// Both calls always run to completion; a failure does not cancel the
	// other one. Wait reports the first error.
	var (
		g        errgroup.Group
		profiles []Profile
		sources  []VideoSource
	)
	g.Go(func() error {
		var err error
		profiles, err = c.GetProfiles(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		sources, err = c.GetVideoSources(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return errors.Annotate(err, "source discovery failed")
	}

	active, primary, err := resolveActiveSources(sources, profiles, c.log)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state.ActiveSources = active
	c.state.DefaultProfile = primary
	c.state.Bootstrap = StateReady
	c.mu.Unlock()

	c.log.Debug().Stringer("to", StateReady).Msg("bootstrap state")
	return nil
}

// syncClock measures the device clock offset once per connection lifetime
func (c *Client) syncClock(ctx context.Context) error {
	if c.clockSkewKnown() {
		c.log.Debug().Dur("skew", c.ClockSkew()).Msg("clock skew already known")
		return nil
	}

	dt, err := c.GetSystemDateAndTime(ctx)
	if err != nil {
		return err
	}

	skew := dt.UTC.Sub(c.cfg.Now())
	if c.setClockSkew(skew) {
		c.log.Debug().Dur("skew", skew).Msg("clock skew measured")
	}
	return nil
}
