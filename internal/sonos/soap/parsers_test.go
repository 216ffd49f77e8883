package soap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(action, inner string) []byte {
	return []byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
		`<u:` + action + `Response xmlns:u="urn:test">` + inner + `</u:` + action + `Response>` +
		`</s:Body></s:Envelope>`)
}

func TestParseVolume(t *testing.T) {
	info, err := parseVolume(envelope("GetVolume", "<CurrentVolume>37</CurrentVolume>"))
	require.NoError(t, err)
	assert.Equal(t, 37, info.CurrentVolume)

	_, err = parseVolume(envelope("GetVolume", ""))
	var fieldErr *FieldError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "CurrentVolume", fieldErr.Field)

	_, err = parseVolume(envelope("GetVolume", "<CurrentVolume>loud</CurrentVolume>"))
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "loud", fieldErr.Value)
}

func TestParseMute(t *testing.T) {
	info, err := parseMute(envelope("GetMute", "<CurrentMute>1</CurrentMute>"))
	require.NoError(t, err)
	assert.True(t, info.CurrentMute)

	info, err = parseMute(envelope("GetMute", "<CurrentMute>0</CurrentMute>"))
	require.NoError(t, err)
	assert.False(t, info.CurrentMute)

	_, err = parseMute(envelope("GetMute", "<CurrentMute>maybe</CurrentMute>"))
	require.Error(t, err)
}

func TestParseTransportInfo(t *testing.T) {
	info, err := parseTransportInfo(envelope("GetTransportInfo",
		"<CurrentTransportState>PAUSED_PLAYBACK</CurrentTransportState><CurrentTransportStatus>OK</CurrentTransportStatus><CurrentSpeed>1</CurrentSpeed>"))
	require.NoError(t, err)
	assert.Equal(t, "PAUSED_PLAYBACK", info.CurrentTransportState)
	assert.Equal(t, "OK", info.CurrentTransportStatus)

	_, err = parseTransportInfo(envelope("GetTransportInfo", "<CurrentSpeed>1</CurrentSpeed>"))
	require.Error(t, err)
}

func TestParsePositionInfo_DecodesEmbeddedMetadata(t *testing.T) {
	payload := envelope("GetPositionInfo",
		"<Track>3</Track><TrackMetaData>&lt;DIDL-Lite&gt;&lt;item&gt;&lt;dc:title&gt;Song&lt;/dc:title&gt;&lt;/item&gt;&lt;/DIDL-Lite&gt;</TrackMetaData>")
	info, err := parsePositionInfo(payload)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Track)
	assert.Equal(t, "<DIDL-Lite><item><dc:title>Song</dc:title></item></DIDL-Lite>", info.TrackMetaData)
}

func TestParseZoneGroupAttributes(t *testing.T) {
	attrs, err := parseZoneGroupAttributes(envelope("GetZoneGroupAttributes",
		"<CurrentZoneGroupName>Kitchen</CurrentZoneGroupName>"+
			"<CurrentZoneGroupID>RINCON_A:12</CurrentZoneGroupID>"+
			"<CurrentZonePlayerUUIDsInGroup>RINCON_A,RINCON_B</CurrentZonePlayerUUIDsInGroup>"))
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", attrs.GroupName)
	assert.Equal(t, "RINCON_A:12", attrs.GroupID)
	assert.Equal(t, []string{"RINCON_A", "RINCON_B"}, attrs.MemberIDs)
}

func TestParseZoneGroupAttributes_EmptyIDIsAccepted(t *testing.T) {
	// Bonded stereo partners answer with empty values.
	attrs, err := parseZoneGroupAttributes(envelope("GetZoneGroupAttributes",
		"<CurrentZoneGroupName></CurrentZoneGroupName><CurrentZoneGroupID></CurrentZoneGroupID><CurrentZonePlayerUUIDsInGroup></CurrentZonePlayerUUIDsInGroup>"))
	require.NoError(t, err)
	assert.Empty(t, attrs.GroupID)
	assert.Empty(t, attrs.MemberIDs)
}

func TestParseZoneGroupAttributes_MissingFields(t *testing.T) {
	_, err := parseZoneGroupAttributes(envelope("GetZoneGroupAttributes",
		"<CurrentZonePlayerUUIDsInGroup>RINCON_A</CurrentZonePlayerUUIDsInGroup>"))
	require.Error(t, err)

	_, err = parseZoneGroupAttributes(envelope("GetZoneGroupAttributes",
		"<CurrentZoneGroupID>RINCON_A:1</CurrentZoneGroupID>"))
	require.Error(t, err)
}
