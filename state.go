package onvif

import (
	"time"
)

// BootstrapState is the position of a client in the connect sequence
type BootstrapState int

const (
	StateIdle BootstrapState = iota
	StateTimeSynced
	StateCapabilitiesKnown
	StateSourcesDiscovering
	StateReady
	StateErrored
)

// String returns the state name
func (s BootstrapState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTimeSynced:
		return "time-synced"
	case StateCapabilitiesKnown:
		return "capabilities-known"
	case StateSourcesDiscovering:
		return "sources-discovering"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ConnectionState is everything a client learns about its device. Only the
// bootstrap sequence and the capability, profile and source refreshes write
// it; everything else reads snapshots.
type ConnectionState struct {
	Bootstrap BootstrapState

	// ClockSkew is device UTC minus local time, valid when ClockSkewKnown
	ClockSkew      time.Duration
	ClockSkewKnown bool

	Capabilities   *Capabilities
	ServiceURIs    map[string]string
	Profiles       []Profile
	VideoSources   []VideoSource
	ActiveSources  []ActiveSource
	DefaultProfile *Profile
}

func (s ConnectionState) clone() ConnectionState {
	out := s
	if s.ServiceURIs != nil {
		out.ServiceURIs = make(map[string]string, len(s.ServiceURIs))
		for k, v := range s.ServiceURIs {
			out.ServiceURIs[k] = v
		}
	}
	out.Profiles = append([]Profile(nil), s.Profiles...)
	out.VideoSources = append([]VideoSource(nil), s.VideoSources...)
	out.ActiveSources = append([]ActiveSource(nil), s.ActiveSources...)
	if s.DefaultProfile != nil {
		p := *s.DefaultProfile
		out.DefaultProfile = &p
	}
	return out
}

// State returns a snapshot of the connection state
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// BootstrapState returns where the client is in the connect sequence
func (c *Client) BootstrapState() BootstrapState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Bootstrap
}

// ClockSkew returns the cached device clock offset, zero until measured
func (c *Client) ClockSkew() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ClockSkew
}

// ResetClockSkew forgets the measured offset so the next Connect measures
// it again
func (c *Client) ResetClockSkew() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ClockSkew = 0
	c.state.ClockSkewKnown = false
}

// ServiceURI looks up a service address by its lowercased logical name
func (c *Client) ServiceURI(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uri, ok := c.state.ServiceURIs[name]
	return uri, ok
}

// ActiveSources returns the summarized view of every resolved video source
func (c *Client) ActiveSources() []ActiveSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ActiveSource(nil), c.state.ActiveSources...)
}

// ActiveSource returns the primary active source
func (c *Client) ActiveSource() (ActiveSource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.state.ActiveSources) == 0 {
		return ActiveSource{}, false
	}
	return c.state.ActiveSources[0], true
}

func (c *Client) setBootstrapState(s BootstrapState) {
	c.mu.Lock()
	prev := c.state.Bootstrap
	c.state.Bootstrap = s
	c.mu.Unlock()

	c.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("bootstrap state")
}

// setClockSkew stores the offset unless one is already cached and reports
// whether it was stored
func (c *Client) setClockSkew(skew time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.ClockSkewKnown {
		return false
	}
	c.state.ClockSkew = skew
	c.state.ClockSkewKnown = true
	return true
}

func (c *Client) clockSkewKnown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ClockSkewKnown
}
