package discovery

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// ErrMissingUDN is returned for a description document without a root UDN.
var ErrMissingUDN = errors.New("device description has no UDN")

// ErrMissingZoneInfo is returned when /status/zp lacks ZoneName or LocalUID.
var ErrMissingZoneInfo = errors.New("zone info missing ZoneName or LocalUID")

// Description holds the fields of root/device in a device description document.
type Description struct {
	UDN          string
	DisplayName  string
	RoomName     string
	DeviceType   string
	ModelName    string
	FriendlyName string
}

// ZoneInfo holds ZPSupportInfo/ZPInfo from /status/zp.
type ZoneInfo struct {
	ZoneName string
	LocalUID string
}

// ParseDeviceDescription extracts root/device fields. Nested embedded devices
// (MediaServer, MediaRenderer) are skipped so their UDNs do not shadow the root one.
func ParseDeviceDescription(xmlPayload []byte) (Description, error) {
	decoder := xml.NewDecoder(bytes.NewReader(xmlPayload))
	var desc Description

	// path of open elements below <root>
	var path []string
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if len(path) == 2 && path[0] == "root" && path[1] == "device" {
				if field := descriptionField(&desc, se.Name.Local); field != nil {
					var value string
					if err := decoder.DecodeElement(&value, &se); err == nil {
						*field = strings.TrimSpace(value)
					}
					continue
				}
			}
			path = append(path, se.Name.Local)
		case xml.EndElement:
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}
	}

	if desc.UDN == "" {
		return Description{}, ErrMissingUDN
	}
	if desc.DisplayName == "" {
		desc.DisplayName = desc.ModelName
	}
	if desc.RoomName == "" {
		desc.RoomName = parseRoomName(desc.FriendlyName)
	}
	return desc, nil
}

func descriptionField(desc *Description, name string) *string {
	switch name {
	case "UDN":
		return &desc.UDN
	case "displayName":
		return &desc.DisplayName
	case "roomName":
		return &desc.RoomName
	case "deviceType":
		return &desc.DeviceType
	case "modelName":
		return &desc.ModelName
	case "friendlyName":
		return &desc.FriendlyName
	}
	return nil
}

// parseRoomName takes the room out of "Kitchen - Sonos One".
func parseRoomName(friendlyName string) string {
	if friendlyName == "" {
		return ""
	}
	parts := strings.SplitN(friendlyName, " - ", 2)
	return strings.TrimSpace(parts[0])
}

// ParseZoneInfo reads ZPSupportInfo/ZPInfo/{ZoneName,LocalUID}.
func ParseZoneInfo(xmlPayload []byte) (ZoneInfo, error) {
	decoder := xml.NewDecoder(bytes.NewReader(xmlPayload))
	var info ZoneInfo
	var hasZone, hasUID bool

	var path []string
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			inZPInfo := len(path) == 2 && path[0] == "ZPSupportInfo" && path[1] == "ZPInfo"
			if inZPInfo && (se.Name.Local == "ZoneName" || se.Name.Local == "LocalUID") {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					if se.Name.Local == "ZoneName" {
						info.ZoneName, hasZone = strings.TrimSpace(value), true
					} else {
						info.LocalUID, hasUID = strings.TrimSpace(value), true
					}
				}
				continue
			}
			path = append(path, se.Name.Local)
		case xml.EndElement:
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}
	}

	if !hasZone || !hasUID {
		return ZoneInfo{}, ErrMissingZoneInfo
	}
	return info, nil
}
