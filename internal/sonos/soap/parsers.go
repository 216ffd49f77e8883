package soap

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
)

// lookupTextValue returns the trimmed text of the first element named element.
// The boolean is false when the element does not occur at all.
func lookupTextValue(payload []byte, element string) (string, bool) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == element {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					return strings.TrimSpace(value), true
				}
				return "", false
			}
		}
	}
	return "", false
}

func parseTextValue(payload []byte, element string) string {
	value, _ := lookupTextValue(payload, element)
	return value
}

func requireTextValue(payload []byte, action, element string) (string, error) {
	value, ok := lookupTextValue(payload, element)
	if !ok {
		return "", &FieldError{Action: action, Field: element}
	}
	return value, nil
}

func parseTransportInfo(payload []byte) (TransportInfo, error) {
	state, err := requireTextValue(payload, "GetTransportInfo", "CurrentTransportState")
	if err != nil {
		return TransportInfo{}, err
	}
	return TransportInfo{
		CurrentTransportState:  state,
		CurrentTransportStatus: parseTextValue(payload, "CurrentTransportStatus"),
		CurrentSpeed:           parseTextValue(payload, "CurrentSpeed"),
	}, nil
}

func parsePositionInfo(payload []byte) (PositionInfo, error) {
	metadata, err := requireTextValue(payload, "GetPositionInfo", "TrackMetaData")
	if err != nil {
		return PositionInfo{}, err
	}
	track, _ := strconv.Atoi(parseTextValue(payload, "Track"))

	return PositionInfo{
		Track:         track,
		TrackDuration: parseTextValue(payload, "TrackDuration"),
		TrackMetaData: metadata,
		TrackURI:      parseTextValue(payload, "TrackURI"),
		RelTime:       parseTextValue(payload, "RelTime"),
	}, nil
}

func parseVolume(payload []byte) (VolumeInfo, error) {
	volStr, err := requireTextValue(payload, "GetVolume", "CurrentVolume")
	if err != nil {
		return VolumeInfo{}, err
	}
	vol, err := strconv.Atoi(volStr)
	if err != nil {
		return VolumeInfo{}, &FieldError{Action: "GetVolume", Field: "CurrentVolume", Value: volStr}
	}
	return VolumeInfo{CurrentVolume: vol}, nil
}

func parseMute(payload []byte) (MuteInfo, error) {
	muteStr, err := requireTextValue(payload, "GetMute", "CurrentMute")
	if err != nil {
		return MuteInfo{}, err
	}
	switch {
	case muteStr == "1" || strings.EqualFold(muteStr, "true"):
		return MuteInfo{CurrentMute: true}, nil
	case muteStr == "0" || strings.EqualFold(muteStr, "false"):
		return MuteInfo{CurrentMute: false}, nil
	}
	return MuteInfo{}, &FieldError{Action: "GetMute", Field: "CurrentMute", Value: muteStr}
}

func parseZoneGroupAttributes(payload []byte) (ZoneGroupAttributes, error) {
	const action = "GetZoneGroupAttributes"
	groupID, err := requireTextValue(payload, action, "CurrentZoneGroupID")
	if err != nil {
		return ZoneGroupAttributes{}, err
	}
	memberList, err := requireTextValue(payload, action, "CurrentZonePlayerUUIDsInGroup")
	if err != nil {
		return ZoneGroupAttributes{}, err
	}

	members := make([]string, 0)
	for _, id := range strings.Split(memberList, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			members = append(members, trimmed)
		}
	}

	return ZoneGroupAttributes{
		GroupName: parseTextValue(payload, "CurrentZoneGroupName"),
		GroupID:   groupID,
		MemberIDs: members,
	}, nil
}
