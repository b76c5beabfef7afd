package onvif

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

const (
	// DefaultMulticastAddr is the WS-Discovery multicast group
	DefaultMulticastAddr = "239.255.255.250:3702"
	// DefaultDiscoveryTimeout is how long DiscoverCameras listens for matches
	DefaultDiscoveryTimeout = 5 * time.Second
	// DefaultMulticastTTL keeps probes on the local segment and the routers
	// directly behind it
	DefaultMulticastTTL = 2
)

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"
          xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
          xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
          xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
    <Header>
        <a:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
        <a:MessageID>uuid:%s</a:MessageID>
        <a:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
    </Header>
    <Body>
        <d:Probe>
            <d:Types>dn:NetworkVideoTransmitter</d:Types>
        </d:Probe>
    </Body>
</Envelope>`

// Camera represents an ONVIF-compliant camera found by discovery
type Camera struct {
	// From discovery
	EndpointReference string
	Name              string
	Address           string
	Profiles          []string
	Model             string
	Location          string

	// From GetHostname
	Hostname     string
	HostnameFrom string // "DHCP" or "Manual"

	// From GetDeviceInformation
	Manufacturer    string
	DeviceModel     string
	FirmwareVersion string
	SerialNumber    string
	HardwareId      string
}

// DiscoveryOptions provides options for camera discovery
type DiscoveryOptions struct {
	Timeout       time.Duration
	MulticastAddr string
	TTL           int

	// Interface restricts the probe to one network interface
	Interface *net.Interface

	// FetchDetails queries every match for device information and hostname
	// using the credentials below
	FetchDetails bool
	Username     string
	Password     string
}

func (o *DiscoveryOptions) withDefaults() DiscoveryOptions {
	var opts DiscoveryOptions
	if o != nil {
		opts = *o
	}
	if opts.MulticastAddr == "" {
		opts.MulticastAddr = DefaultMulticastAddr
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDiscoveryTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultMulticastTTL
	}
	return opts
}

// DiscoverCameras sends a WS-Discovery probe and collects the matches
// received until the timeout elapses or ctx is done
func DiscoverCameras(ctx context.Context, options *DiscoveryOptions) ([]Camera, error) {
	opts := options.withDefaults()

	addr, err := net.ResolveUDPAddr("udp4", opts.MulticastAddr)
	if err != nil {
		return nil, configurationError("Probe", "failed to resolve multicast address: %v", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, transportError("Probe", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(opts.TTL); err != nil {
		return nil, transportError("Probe", errors.Annotate(err, "failed to set multicast TTL"))
	}
	if opts.Interface != nil {
		if err := pc.SetMulticastInterface(opts.Interface); err != nil {
			return nil, transportError("Probe", errors.Annotate(err, "failed to set multicast interface"))
		}
	}

	deadline := time.Now().Add(opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, transportError("Probe", err)
	}

	// unblock the read loop when the caller gives up early
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	probe, err := newProbe()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, err := conn.WriteToUDP(probe, addr); err != nil {
		return nil, transportError("Probe", errors.Annotate(err, "failed to send probe message"))
	}

	cameras := collectMatches(ctx, conn)
	cameras = deduplicateCameras(cameras)

	if opts.FetchDetails {
		fetchDetails(ctx, cameras, opts)
	}

	return cameras, nil
}

// datagramReader is the read side of the discovery socket
type datagramReader interface {
	ReadFrom(p []byte) (int, net.Addr, error)
}

// readErrorBackoff spaces out retries after a read error that is neither a
// timeout nor a closed socket
const readErrorBackoff = 50 * time.Millisecond

// collectMatches reads ProbeMatches datagrams until the read deadline
// passes, the socket is closed or ctx is done
func collectMatches(ctx context.Context, conn datagramReader) []Camera {
	var cameras []Camera
	buffer := make([]byte, 65536)

	for {
		n, _, err := conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.Is(err, net.ErrClosed) || (errors.As(err, &netErr) && netErr.Timeout()) {
				return cameras
			}
			log.Debug().Err(err).Msg("discovery read failed")
			select {
			case <-ctx.Done():
				return cameras
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		matches, err := parseProbeMatches(buffer[:n])
		if err != nil {
			log.Debug().Err(err).Msg("ignoring malformed probe match")
			continue
		}
		cameras = append(cameras, matches...)
	}
}

func newProbe() ([]byte, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Annotate(err, "failed to generate probe message id")
	}
	return []byte(fmt.Sprintf(probeTemplate, id)), nil
}

// parseProbeMatches extracts cameras from one ProbeMatches datagram
func parseProbeMatches(raw []byte) ([]Camera, error) {
	root, err := xmltree.Parse(raw)
	if err != nil {
		return nil, err
	}

	var cameras []Camera
	for _, match := range root.Path("Body", "ProbeMatches").All("ProbeMatch") {
		xaddrs := strings.TrimSpace(match.Value("XAddrs"))
		if xaddrs == "" {
			continue
		}

		name, location, model := parseScopes(match.Value("Scopes"))
		cameras = append(cameras, Camera{
			EndpointReference: match.Value("EndpointReference", "Address"),
			Name:              name,
			Address:           xaddrs,
			Profiles:          parseProfiles(match.Value("Types")),
			Model:             model,
			Location:          location,
		})
	}
	return cameras, nil
}

// fetchDetails fills in device information and hostname for every camera;
// failures leave the discovery fields untouched
func fetchDetails(ctx context.Context, cameras []Camera, opts DiscoveryOptions) {
	var g errgroup.Group
	g.SetLimit(8)

	for i := range cameras {
		camera := &cameras[i]
		g.Go(func() error {
			cfg, err := camera.Config()
			if err != nil {
				return nil
			}
			cfg.Username = opts.Username
			cfg.Password = opts.Password
			cfg.Timeout = opts.Timeout

			client, err := NewClient(cfg)
			if err != nil {
				return nil
			}

			if info, err := client.GetDeviceInformation(ctx); err == nil {
				camera.Manufacturer = info.Manufacturer
				camera.DeviceModel = info.Model
				camera.FirmwareVersion = info.FirmwareVersion
				camera.SerialNumber = info.SerialNumber
				camera.HardwareId = info.HardwareId
			} else {
				client.log.Debug().Err(err).Msg("failed to fetch device information")
			}

			if host, err := client.GetHostname(ctx); err == nil {
				camera.Hostname = host.Name
				camera.HostnameFrom = "Manual"
				if host.FromDHCP {
					camera.HostnameFrom = "DHCP"
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Config returns a connection configuration for the camera's first address
func (camera *Camera) Config() (Config, error) {
	return ConfigFromURL(camera.Address)
}

// GetCameraInfo returns a formatted string with camera information
func (camera *Camera) GetCameraInfo() string {
	info := fmt.Sprintf("Camera: %s\n", camera.GetDisplayName())
	info += fmt.Sprintf("  Address: %s\n", camera.Address)

	if camera.Manufacturer != "" {
		info += fmt.Sprintf("  Manufacturer: %s\n", camera.Manufacturer)
	}

	if camera.DeviceModel != "" {
		info += fmt.Sprintf("  Model: %s\n", camera.DeviceModel)
	} else if camera.Model != "" {
		info += fmt.Sprintf("  Model: %s\n", camera.Model)
	}

	if camera.SerialNumber != "" {
		info += fmt.Sprintf("  Serial: %s\n", camera.SerialNumber)
	}

	if camera.Hostname != "" {
		info += fmt.Sprintf("  Hostname: %s\n", camera.Hostname)
	}

	if camera.Location != "" {
		info += fmt.Sprintf("  Location: %s\n", camera.Location)
	}

	return info
}

// GetDisplayName returns the best available name for the camera
func (camera *Camera) GetDisplayName() string {
	// Priority: Manufacturer + Model > Hostname > Discovery Name > Model > Address
	if camera.Manufacturer != "" && camera.DeviceModel != "" {
		return fmt.Sprintf("%s %s", camera.Manufacturer, camera.DeviceModel)
	}

	if camera.Hostname != "" {
		return camera.Hostname
	}

	if camera.Name != "" {
		return camera.Name
	}

	if camera.Model != "" {
		return camera.Model
	}

	return getFirstAddress(camera.Address)
}

func parseScopes(scopes string) (name, location, model string) {
	for _, scope := range strings.Fields(scopes) {
		switch {
		case strings.HasPrefix(scope, "onvif://www.onvif.org/name/"):
			name = scopeValue(scope, "onvif://www.onvif.org/name/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/location/"):
			location = scopeValue(scope, "onvif://www.onvif.org/location/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/hardware/"):
			model = scopeValue(scope, "onvif://www.onvif.org/hardware/")
		}
	}
	return
}

func scopeValue(scope, prefix string) string {
	return strings.ReplaceAll(strings.TrimPrefix(scope, prefix), "_", " ")
}

func parseProfiles(types string) []string {
	var profiles []string

	for _, t := range strings.Fields(types) {
		switch {
		case strings.Contains(t, "NetworkVideoTransmitter"):
			profiles = append(profiles, "Network Video Transmitter")
		case strings.Contains(t, "Device"):
			profiles = append(profiles, "Device")
		case strings.Contains(t, "Media"):
			profiles = append(profiles, "Media")
		case strings.Contains(t, "PTZ"):
			profiles = append(profiles, "PTZ")
		case strings.Contains(t, "Analytics"):
			profiles = append(profiles, "Analytics")
		case strings.Contains(t, "Events"):
			profiles = append(profiles, "Events")
		case strings.Contains(t, "Imaging"):
			profiles = append(profiles, "Imaging")
		case strings.Contains(t, "Recording"):
			profiles = append(profiles, "Recording")
		case strings.Contains(t, "Replay"):
			profiles = append(profiles, "Replay")
		}
	}

	return profiles
}

// deduplicateCameras keeps the first match per address, preserving the
// order responses arrived in
func deduplicateCameras(cameras []Camera) []Camera {
	seen := make(map[string]bool)

	var unique []Camera
	for _, camera := range cameras {
		key := getFirstAddress(camera.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, camera)
	}

	return unique
}
