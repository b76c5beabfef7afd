package onvif

import (
	"time"
)

// ServiceCapability is a capability category advertising a service address
type ServiceCapability struct {
	XAddr string
}

// MediaCapability is the media category. Its presence means the device
// streams video and exposes profiles and video sources.
type MediaCapability struct {
	XAddr           string
	RTPMulticast    bool
	RTPTCP          bool
	RTPRTSPTCP      bool
	MaximumProfiles int
}

// ExtensionCapability is an entry of the capabilities Extension sub-tree,
// for instance Recording, Replay, Search or DeviceIO
type ExtensionCapability struct {
	Name  string
	XAddr string
}

// Capabilities is the result of GetCapabilities. A fetch replaces it whole.
type Capabilities struct {
	Device     *ServiceCapability
	Media      *MediaCapability
	Imaging    *ServiceCapability
	PTZ        *ServiceCapability
	Events     *ServiceCapability
	Analytics  *ServiceCapability
	Extensions []ExtensionCapability
}

// Resolution represents video resolution
type Resolution struct {
	Width  int
	Height int
}

// Common resolutions
var (
	Resolution640x480   = Resolution{640, 480}
	Resolution1280x720  = Resolution{1280, 720}
	Resolution1920x1080 = Resolution{1920, 1080}
	Resolution2560x1920 = Resolution{2560, 1920}
)

// VideoSource is a physical capture source reported by the device
type VideoSource struct {
	Token      string
	Framerate  float64
	Resolution Resolution
}

// VideoSourceConfiguration binds a profile to a video source
type VideoSourceConfiguration struct {
	Token       string
	Name        string
	SourceToken string
}

// RateControl limits an encoder's output
type RateControl struct {
	FrameRateLimit   int
	EncodingInterval int
	BitrateLimit     int
}

// VideoEncoderConfiguration represents video encoder configuration
type VideoEncoderConfiguration struct {
	Token       string
	Name        string
	Encoding    string
	Resolution  Resolution
	Quality     float64
	RateControl RateControl
}

// PTZConfiguration is the pan-tilt-zoom part of a profile
type PTZConfiguration struct {
	Token     string
	Name      string
	NodeToken string
}

// Profile is a named bundle of source, encoder and PTZ configuration
type Profile struct {
	Token                     string
	Name                      string
	Fixed                     bool
	VideoSourceConfiguration  *VideoSourceConfiguration
	VideoEncoderConfiguration *VideoEncoderConfiguration
	PTZConfiguration          *PTZConfiguration
}

// ActivePTZ names the PTZ configuration driving an active source
type ActivePTZ struct {
	Name  string
	Token string
}

// ActiveSource is the summarized view of the profile driving a video source
type ActiveSource struct {
	SourceToken  string
	ProfileToken string
	ProfileName  string
	Encoding     string
	Width        int
	Height       int
	FPS          int
	Bitrate      int
	PTZ          *ActivePTZ
}

// DeviceInformation is the result of GetDeviceInformation
type DeviceInformation struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	HardwareId      string
}

// HostnameInformation is the result of GetHostname
type HostnameInformation struct {
	Name     string
	FromDHCP bool
}

// DateTimeType selects how the device keeps time
type DateTimeType string

const (
	DateTimeManual DateTimeType = "Manual"
	DateTimeNTP    DateTimeType = "NTP"
)

// SystemDateAndTime is the device clock as reported by GetSystemDateAndTime
type SystemDateAndTime struct {
	DateTimeType    DateTimeType
	DaylightSavings bool
	TimeZone        string
	UTC             time.Time
}

// SetDateTimeOptions configures SetSystemDateAndTime
type SetDateTimeOptions struct {
	DateTimeType    DateTimeType
	DaylightSavings bool
	TimeZone        string    // POSIX TZ, default GMT0
	UTC             time.Time // used with DateTimeManual, default now
}

// UserLevel represents the access level for an ONVIF user
type UserLevel string

const (
	UserLevelAdministrator UserLevel = "Administrator"
	UserLevelOperator      UserLevel = "Operator"
	UserLevelUser          UserLevel = "User"
	UserLevelAnonymous     UserLevel = "Anonymous"
)

// User represents an ONVIF user account
type User struct {
	Username  string
	Password  string
	UserLevel UserLevel
}

// IrCutFilterMode represents the IR cut filter (day/night) mode
type IrCutFilterMode string

const (
	IrCutFilterOn   IrCutFilterMode = "ON"
	IrCutFilterOff  IrCutFilterMode = "OFF"
	IrCutFilterAuto IrCutFilterMode = "AUTO"
)

// ImagingSettings represents imaging configuration for a video source
type ImagingSettings struct {
	VideoSourceToken string
	IrCutFilter      IrCutFilterMode
	Brightness       float64
	Contrast         float64
}

// OSDConfig represents an On-Screen Display configuration
type OSDConfig struct {
	Token              string
	Type               string // "Text", "Image"
	ConfigurationToken string
}

// StreamUpdateConfig specifies target configuration for stream updates
type StreamUpdateConfig struct {
	Name       string
	Resolution Resolution
	Framerate  int
	Bitrate    int
	Encoding   string
}

// PTZVector is a pan/tilt/zoom velocity in the generic spaces (-1..1)
type PTZVector struct {
	Pan  float64
	Tilt float64
	Zoom float64
}
