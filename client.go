// Package onvif provides a Go library for ONVIF camera discovery and management
package onvif

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// Client is a connection to one ONVIF device. Call Connect before issuing
// commands; Connect measures the device clock, fetches capabilities and
// resolves the active video sources every other command relies on.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu        sync.RWMutex
	state     ConnectionState
	observers []Observer
}

// NewClient creates a client for the device described by cfg
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, errors.Trace(err)
	}

	return &Client{
		cfg: cfg,
		log: cfg.Logger.With().
			Str("component", "onvif").
			Str("host", cfg.hostPort()).
			Logger(),
	}, nil
}

// NewClientWithCredentials creates a client for host:port with credentials
func NewClientWithCredentials(hostname string, port int, username, password string) (*Client, error) {
	return NewClient(Config{
		Hostname: hostname,
		Port:     port,
		Username: username,
		Password: password,
	})
}

// Config returns the configuration the client was built with
func (c *Client) Config() Config {
	return c.cfg
}

// deviceTime is local time shifted into the device's frame of reference
func (c *Client) deviceTime() time.Time {
	return c.cfg.Now().Add(c.ClockSkew())
}
