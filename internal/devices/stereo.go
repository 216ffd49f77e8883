package devices

// StereoPair is two players bonded into one zone. Only Controller takes commands.
type StereoPair struct {
	Controller   *Device
	OtherSpeaker *Device
}

// NewStereoPair pairs a and b when they share a zone name and exactly one of
// them reports a non-empty group id. Ambiguous pairs are not resolved.
func NewStereoPair(a, b *Device) (StereoPair, bool) {
	if a == nil || b == nil || a.Equal(b) {
		return StereoPair{}, false
	}
	zoneA, okA := a.zoneName()
	zoneB, okB := b.zoneName()
	if !okA || !okB || zoneA != zoneB {
		return StereoPair{}, false
	}

	groupA, groupB := a.GroupID(), b.GroupID()
	switch {
	case groupA != "" && groupB == "":
		return StereoPair{Controller: a, OtherSpeaker: b}, true
	case groupB != "" && groupA == "":
		return StereoPair{Controller: b, OtherSpeaker: a}, true
	}
	return StereoPair{}, false
}

// ResolveStereoPairs returns fleet without the silent half of every resolvable
// pair, flagging each controller. Zones with other than two players are left
// alone. The result keeps fleet order.
func ResolveStereoPairs(fleet []*Device) ([]*Device, []StereoPair) {
	zones := make(map[string][]*Device)
	for _, d := range fleet {
		if zone, ok := d.zoneName(); ok {
			zones[zone] = append(zones[zone], d)
		}
	}

	hidden := make(map[string]struct{})
	controllers := make(map[string]struct{})
	var pairs []StereoPair
	for _, members := range zones {
		if len(members) != 2 {
			continue
		}
		pair, ok := NewStereoPair(members[0], members[1])
		if !ok {
			continue
		}
		pairs = append(pairs, pair)
		hidden[pair.OtherSpeaker.UDN()] = struct{}{}
		controllers[pair.Controller.UDN()] = struct{}{}
	}

	visible := make([]*Device, 0, len(fleet))
	for _, d := range fleet {
		if _, ok := hidden[d.UDN()]; ok {
			d.setInStereoSetup(false)
			continue
		}
		_, isController := controllers[d.UDN()]
		d.setInStereoSetup(isController)
		visible = append(visible, d)
	}
	return visible, pairs
}
