package soap

import (
	"net"
	"strconv"
)

// DefaultPort is the HTTP port Sonos players serve UPnP control on.
const DefaultPort = 1400

// Service identifies a Sonos UPnP service.
type Service string

const (
	ServiceAVTransport       Service = "AVTransport"
	ServiceRenderingControl  Service = "RenderingControl"
	ServiceZoneGroupTopology Service = "ZoneGroupTopology"
)

var serviceTypes = map[Service]string{
	ServiceAVTransport:       "urn:schemas-upnp-org:service:AVTransport:1",
	ServiceRenderingControl:  "urn:schemas-upnp-org:service:RenderingControl:1",
	ServiceZoneGroupTopology: "urn:upnp-org:serviceId:ZoneGroupTopology",
}

var controlPaths = map[Service]string{
	ServiceAVTransport:       "/MediaRenderer/AVTransport/Control",
	ServiceRenderingControl:  "/MediaRenderer/RenderingControl/Control",
	ServiceZoneGroupTopology: "/ZoneGroupTopology/Control",
}

// ServiceType returns the namespace used in envelopes and the SOAPACTION header.
func ServiceType(service Service) string {
	return serviceTypes[service]
}

// ControlPath returns the control URL path of a service.
func ControlPath(service Service) string {
	return controlPaths[service]
}

// Target addresses a single player.
type Target struct {
	IP   string
	Port int
}

// HostPort returns "ip:port", substituting DefaultPort when Port is unset.
func (t Target) HostPort() string {
	port := t.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.IP, strconv.Itoa(port))
}

// TransportInfo mirrors Sonos GetTransportInfo response.
type TransportInfo struct {
	CurrentTransportState  string
	CurrentTransportStatus string
	CurrentSpeed           string
}

// PositionInfo mirrors Sonos GetPositionInfo response.
type PositionInfo struct {
	Track         int
	TrackDuration string
	TrackMetaData string
	TrackURI      string
	RelTime       string
}

// VolumeInfo mirrors Sonos GetVolume response.
type VolumeInfo struct {
	CurrentVolume int
}

// MuteInfo mirrors Sonos GetMute response.
type MuteInfo struct {
	CurrentMute bool
}

// ZoneGroupAttributes mirrors GetZoneGroupAttributes.
// MemberIDs keeps the order reported by the player; the first entry is the coordinator.
type ZoneGroupAttributes struct {
	GroupName string
	GroupID   string
	MemberIDs []string
}
