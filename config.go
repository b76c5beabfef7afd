package onvif

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Connection defaults
const (
	DefaultPort           = 80
	DefaultTLSPort        = 443
	DefaultPath           = "/onvif/device_service"
	DefaultRequestTimeout = 120 * time.Second
)

// Config describes how to reach one device. It is copied by NewClient and
// never changed afterwards.
type Config struct {
	Scheme   string // http or https, default http
	Hostname string
	Port     int    // default 80, or 443 for https
	Path     string // device service path, default /onvif/device_service

	// Username enables WS-Security digest authentication when set
	Username string
	Password string

	// Timeout bounds every request, default 120s
	Timeout time.Duration

	// PreserveAddress rewrites the host and port of device-reported
	// service addresses to Hostname and Port. Use it for cameras behind
	// NAT or port forwarding that advertise their private address.
	PreserveAddress bool

	// HTTPClient is the outbound agent. Proxy and TLS settings live on its
	// transport. NewClient works on a copy whose Timeout is cleared, so
	// Timeout above is the only request deadline.
	HTTPClient *http.Client

	InsecureTLS bool // Skip TLS certificate verification

	Logger *zerolog.Logger

	// Now returns local time, time.Now when nil
	Now func() time.Time
}

func (cfg Config) withDefaults() Config {
	cfg.Scheme = strings.ToLower(cfg.Scheme)
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
		if cfg.Scheme == "https" {
			cfg.Port = DefaultTLSPort
		}
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		l := log.Logger
		cfg.Logger = &l
	}
	if cfg.HTTPClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureTLS {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		cfg.HTTPClient = &http.Client{Transport: transport}
	} else if cfg.HTTPClient.Timeout > 0 {
		hc := *cfg.HTTPClient
		hc.Timeout = 0
		cfg.HTTPClient = &hc
	}
	return cfg
}

func (cfg Config) validate() error {
	if cfg.Scheme != "http" && cfg.Scheme != "https" {
		return configurationError("config", "unsupported scheme %q", cfg.Scheme)
	}
	if cfg.Hostname == "" {
		return configurationError("config", "hostname is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return configurationError("config", "invalid port %d", cfg.Port)
	}
	if cfg.Password != "" && cfg.Username == "" {
		return configurationError("config", "password given without username")
	}
	return nil
}

// hostPort returns the configured host and port joined for use in a URL
func (cfg Config) hostPort() string {
	return net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))
}

// BaseURL is the device service address built from the configuration
func (cfg Config) BaseURL() string {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: cfg.hostPort(), Path: cfg.Path}
	return u.String()
}

// ConfigFromURL builds a Config from a device service address such as an
// XAddr returned by discovery
func ConfigFromURL(address string) (Config, error) {
	u, err := url.Parse(getFirstAddress(address))
	if err != nil {
		return Config{}, configurationError("config", "invalid address %q: %v", address, err)
	}
	if u.Hostname() == "" {
		return Config{}, configurationError("config", "address %q has no host", address)
	}

	cfg := Config{Scheme: strings.ToLower(u.Scheme), Hostname: u.Hostname(), Path: u.Path}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Config{}, configurationError("config", "invalid port in %q", address)
		}
		cfg.Port = port
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	return cfg, nil
}

// getFirstAddress extracts the first address if multiple are provided
func getFirstAddress(address string) string {
	addresses := strings.Fields(address)
	if len(addresses) > 0 {
		return addresses[0]
	}
	return address
}
