package devices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonos-fleet-go/internal/discovery"
)

func TestDevice_SetVolumeClamps(t *testing.T) {
	speaker := newFakeSpeaker(t, "uuid:RINCON_A", "Kitchen", "RINCON_A")
	d := newSpeakerDevice(speaker)

	d.SetVolume(150)
	assert.Equal(t, 100, d.Volume())
	assert.Eventually(t, func() bool {
		calls := speaker.callsFor("SetVolume")
		return len(calls) == 1 && argValue(calls[0].Body, "DesiredVolume") == "100"
	}, 2*time.Second, 10*time.Millisecond)

	d.SetVolume(-10)
	assert.Equal(t, 0, d.Volume())
	assert.Eventually(t, func() bool {
		return len(speaker.callsFor("SetVolume")) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDevice_SetVolumeUnchangedIsNoop(t *testing.T) {
	speaker := newFakeSpeaker(t, "uuid:RINCON_A", "Kitchen", "RINCON_A")
	d := newSpeakerDevice(speaker)
	d.setCachedVolume(30)

	d.SetVolume(30)
	d.SetVolume(35)
	assert.Eventually(t, func() bool {
		return len(speaker.callsFor("SetVolume")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, speaker.callsFor("SetVolume"), 1)
}

func TestDevice_SetVolumeUnmutes(t *testing.T) {
	speaker := newFakeSpeaker(t, "uuid:RINCON_A", "Kitchen", "RINCON_A")
	d := newSpeakerDevice(speaker)
	d.mu.Lock()
	d.muted = true
	d.mu.Unlock()

	d.SetVolume(0)
	d.SetVolume(25)
	assert.Eventually(t, func() bool {
		calls := speaker.callsFor("SetMute")
		return len(calls) == 1 && argValue(calls[0].Body, "DesiredMute") == "0"
	}, 2*time.Second, 10*time.Millisecond)
	// the cached flag waits for a refresh
	assert.True(t, d.Muted())
}

func TestDevice_SetMuteIsNotOptimistic(t *testing.T) {
	speaker := newFakeSpeaker(t, "uuid:RINCON_A", "Kitchen", "RINCON_A")
	d := newSpeakerDevice(speaker)

	require.NoError(t, d.SetMute(context.Background(), true))
	assert.False(t, d.Muted())

	require.NoError(t, d.RefreshMute(context.Background()))
	assert.True(t, d.Muted())
}

func TestDevice_TransportCommands(t *testing.T) {
	speaker := newFakeSpeaker(t, "uuid:RINCON_A", "Kitchen", "RINCON_A")
	d := newSpeakerDevice(speaker)
	ctx := context.Background()

	require.NoError(t, d.Play(ctx))
	assert.Equal(t, PlayStatePlaying, d.PlayState())
	play := speaker.callsFor("Play")
	require.Len(t, play, 1)
	assert.Equal(t, "0", argValue(play[0].Body, "InstanceID"))
	assert.Equal(t, "1", argValue(play[0].Body, "Speed"))

	require.NoError(t, d.Pause(ctx))
	assert.Equal(t, PlayStatePaused, d.PlayState())

	require.NoError(t, d.Next(ctx))
	require.NoError(t, d.Previous(ctx))
	assert.Equal(t, PlayStatePaused, d.PlayState())
	assert.Len(t, speaker.callsFor("Next"), 1)
	assert.Len(t, speaker.callsFor("Previous"), 1)
}

func TestDevice_RefreshAll(t *testing.T) {
	speaker := newFakeSpeaker(t, "uuid:RINCON_A", "Kitchen", "RINCON_A")
	speaker.setGroup("Kitchen", "RINCON_A:12", "RINCON_A", "RINCON_B")
	speaker.set(func(s *fakeSpeaker) {
		s.volume = 42
		s.muted = true
		s.state = "PLAYING"
		s.metadata = didlHeader + `<item><dc:title>T</dc:title><upnp:album>A</upnp:album><dc:creator>C</dc:creator></item></DIDL-Lite>`
	})
	d := newSpeakerDevice(speaker)

	require.NoError(t, d.RefreshAll(context.Background()))
	assert.Equal(t, 42, d.Volume())
	assert.True(t, d.Muted())
	assert.Equal(t, PlayStatePlaying, d.PlayState())
	require.NotNil(t, d.Track())
	assert.Equal(t, "T - C", d.Track().Text())
	require.NotNil(t, d.DeviceInfo())
	assert.Equal(t, "RINCON_A", d.LocalUID())
	assert.Equal(t, "RINCON_A:12", d.GroupID())
	assert.Equal(t, []string{"RINCON_A", "RINCON_B"}, d.GroupState().MemberIDs)
	assert.True(t, d.IsGroupCoordinator())
}

func TestDevice_RefreshAllSkipsGroupStateWithoutDeviceInfo(t *testing.T) {
	speaker := newFakeSpeaker(t, "uuid:RINCON_A", "Kitchen", "RINCON_A")
	speaker.setGroup("Kitchen", "RINCON_A:12", "RINCON_A")
	speaker.set(func(s *fakeSpeaker) { s.noZoneInfo = true })
	d := newSpeakerDevice(speaker)

	err := d.RefreshAll(context.Background())
	require.Error(t, err)
	assert.Nil(t, d.GroupState())
	assert.Empty(t, speaker.callsFor("GetZoneGroupAttributes"))
	assert.ErrorIs(t, d.RefreshGroupState(context.Background()), ErrNoDeviceInfo)
}

func TestDevice_RefreshTrackNotImplementedKeepsTrack(t *testing.T) {
	speaker := newFakeSpeaker(t, "uuid:RINCON_A", "Kitchen", "RINCON_A")
	speaker.set(func(s *fakeSpeaker) {
		s.metadata = didlHeader + `<item><dc:title>T</dc:title><upnp:album>A</upnp:album><dc:creator>C</dc:creator></item></DIDL-Lite>`
	})
	d := newSpeakerDevice(speaker)
	require.NoError(t, d.RefreshTrack(context.Background()))
	previous := d.Track()
	require.NotNil(t, previous)

	speaker.set(func(s *fakeSpeaker) { s.metadata = "NOT_IMPLEMENTED" })
	require.NoError(t, d.RefreshTrack(context.Background()))
	assert.Same(t, previous, d.Track())
}

func TestDevice_RefreshFailureKeepsCachedState(t *testing.T) {
	speaker := newFakeSpeaker(t, "uuid:RINCON_A", "Kitchen", "RINCON_A")
	speaker.set(func(s *fakeSpeaker) { s.volume = 33 })
	d := newSpeakerDevice(speaker)
	require.NoError(t, d.RefreshVolume(context.Background()))

	speaker.server.Close()
	require.Error(t, d.RefreshVolume(context.Background()))
	require.Error(t, d.RefreshPlayState(context.Background()))
	assert.Equal(t, 33, d.Volume())
}

func TestDevice_EqualityAndUpdateLocation(t *testing.T) {
	a := NewDevice(DeviceOptions{UDN: "uuid:X", IP: "10.0.0.1", RoomName: "Den"}, nil, nil, testLogger())
	b := NewDevice(DeviceOptions{UDN: "uuid:X", IP: "10.0.0.2", Port: 1401, RoomName: "Office"}, nil, nil, testLogger())
	c := NewDevice(DeviceOptions{UDN: "uuid:Y", IP: "10.0.0.1", RoomName: "Den"}, nil, nil, testLogger())

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	a.setActive(false)
	require.NoError(t, a.UpdateLocation(discovery.Description{UDN: "uuid:X", RoomName: "Den"}, "http://10.0.0.9:1400/xml/device_description.xml"))
	assert.Equal(t, "10.0.0.9", a.IP())
	assert.Equal(t, 1400, a.Port())
	assert.Equal(t, "http://10.0.0.9:1400", a.BaseURL())
	assert.False(t, a.Active())
}

func TestNewDeviceFromDescription(t *testing.T) {
	d, err := NewDeviceFromDescription(discovery.Description{UDN: "uuid:X", RoomName: "Den", DisplayName: "Five"},
		"http://192.168.1.9:1400/xml/device_description.xml", nil, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "Den - Five", d.ReadableName())
	assert.Equal(t, "192.168.1.9", d.IP())
	assert.True(t, d.Active())

	d, err = NewDeviceFromDescription(discovery.Description{UDN: "uuid:Y"}, "http://192.168.1.10/desc.xml", nil, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "unknown - unknown", d.ReadableName())
	assert.Equal(t, 1400, d.Port())

	_, err = NewDeviceFromDescription(discovery.Description{UDN: "uuid:Z"}, "not a url", nil, nil, testLogger())
	require.Error(t, err)
}
