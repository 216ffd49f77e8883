package devices

type demoDevice struct {
	opts      DeviceOptions
	info      DeviceInfo
	group     GroupState
	playState PlayState
	volume    int
}

var demoFleet = []demoDevice{
	{
		opts:      DeviceOptions{UDN: "some-udn-1", IP: "192.168.178.91", RoomName: "Bedroom_3", DeviceName: "PLAY:3"},
		info:      DeviceInfo{ZoneName: "Bedroom_3+1", LocalUID: "01"},
		group:     GroupState{Name: "Bedroom", GroupID: "01", MemberIDs: []string{"01", "02"}},
		playState: PlayStatePlaying,
		volume:    25,
	},
	{
		opts:      DeviceOptions{UDN: "some-udn-2", IP: "192.168.178.92", RoomName: "Bedroom_1", DeviceName: "One"},
		info:      DeviceInfo{ZoneName: "Bedroom_3+1", LocalUID: "02"},
		group:     GroupState{Name: "Bedroom", GroupID: "01", MemberIDs: []string{"01", "02"}},
		playState: PlayStatePlaying,
		volume:    25,
	},
	{
		opts:      DeviceOptions{UDN: "some-udn-3", IP: "192.168.178.93", RoomName: "Kitchen", DeviceName: "PLAY:1"},
		info:      DeviceInfo{ZoneName: "Kitchen", LocalUID: "03"},
		group:     GroupState{Name: "Kitchen", GroupID: "03", MemberIDs: []string{"03"}},
		playState: PlayStatePaused,
		volume:    40,
	},
	{
		opts:      DeviceOptions{UDN: "some-udn-4", IP: "192.168.178.94", RoomName: "Living room", DeviceName: "PLAY:5"},
		info:      DeviceInfo{ZoneName: "Living room", LocalUID: "04"},
		group:     GroupState{Name: "Living room", GroupID: "04", MemberIDs: []string{"04", "05"}},
		playState: PlayStatePaused,
		volume:    60,
	},
}

// LoadDemo stops discovery and fills the fleet with four offline players.
// Their commands only change cached state.
func (service *Service) LoadDemo() {
	service.StopDiscovery()

	for _, demo := range demoFleet {
		d := NewDevice(demo.opts, nil, nil, service.logger)
		info := demo.info
		group := demo.group
		group.MemberIDs = append([]string(nil), demo.group.MemberIDs...)
		d.setDeviceInfo(&info)
		d.setGroupState(&group)
		d.setPlayState(demo.playState)
		d.setCachedVolume(demo.volume)
		service.AddDevice(d)
	}
	service.logger.Printf("Demo fleet loaded devices=%d", len(demoFleet))
}
