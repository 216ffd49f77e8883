package devices

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/strefethen/sonos-fleet-go/internal/discovery"
	"github.com/strefethen/sonos-fleet-go/internal/sonos/soap"
)

// ErrNoDeviceInfo is returned by RefreshGroupState before /status/zp has been read.
var ErrNoDeviceInfo = errors.New("device info not available")

// GroupState is the zone group a player reports for itself.
// MemberIDs keeps the player's order; the first entry is the coordinator.
type GroupState struct {
	Name      string
	GroupID   string
	MemberIDs []string
}

// DeviceInfo is the ZPInfo block of /status/zp.
type DeviceInfo struct {
	ZoneName string
	LocalUID string
}

// DeviceOptions describes a player that was not built from a description document.
type DeviceOptions struct {
	UDN        string
	IP         string
	Port       int
	RoomName   string
	DeviceName string
	DeviceType string
}

// Device is one physical player. Identity is the UDN; every other field may
// change between sweeps and is guarded by mu.
type Device struct {
	udn    string
	client *soap.Client
	prober *discovery.Prober
	logger *log.Logger

	mu            sync.RWMutex
	ip            string
	port          int
	baseURL       string
	roomName      string
	deviceName    string
	deviceType    string
	volume        int
	muted         bool
	playState     PlayState
	track         *TrackInfo
	groupState    *GroupState
	deviceInfo    *DeviceInfo
	active        bool
	inStereoSetup bool
	lastSeen      time.Time
}

// NewDevice creates an active device.
func NewDevice(opts DeviceOptions, client *soap.Client, prober *discovery.Prober, logger *log.Logger) *Device {
	if logger == nil {
		logger = log.Default()
	}
	port := opts.Port
	if port <= 0 {
		port = soap.DefaultPort
	}
	return &Device{
		udn:        opts.UDN,
		client:     client,
		prober:     prober,
		logger:     logger,
		ip:         opts.IP,
		port:       port,
		baseURL:    "http://" + net.JoinHostPort(opts.IP, strconv.Itoa(port)),
		roomName:   opts.RoomName,
		deviceName: opts.DeviceName,
		deviceType: opts.DeviceType,
		active:     true,
		lastSeen:   time.Now(),
	}
}

// NewDeviceFromDescription creates a device from a parsed description and the
// location it was fetched from.
func NewDeviceFromDescription(desc discovery.Description, location string, client *soap.Client, prober *discovery.Prober, logger *log.Logger) (*Device, error) {
	ip, port, err := splitLocation(location)
	if err != nil {
		return nil, err
	}
	return NewDevice(DeviceOptions{
		UDN:        desc.UDN,
		IP:         ip,
		Port:       port,
		RoomName:   orUnknown(desc.RoomName),
		DeviceName: orUnknown(desc.DisplayName),
		DeviceType: desc.DeviceType,
	}, client, prober, logger), nil
}

func splitLocation(location string) (string, int, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return "", 0, fmt.Errorf("parse location %q: %w", location, err)
	}
	ip := parsed.Hostname()
	if ip == "" {
		return "", 0, fmt.Errorf("location %q has no host", location)
	}
	port := soap.DefaultPort
	if p := parsed.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, fmt.Errorf("location %q has bad port: %w", location, err)
		}
	}
	return ip, port, nil
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// UpdateLocation applies a rediscovered description in place. The active flag is kept.
func (d *Device) UpdateLocation(desc discovery.Description, location string) error {
	ip, port, err := splitLocation(location)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ip = ip
	d.port = port
	d.baseURL = "http://" + net.JoinHostPort(ip, strconv.Itoa(port))
	if desc.RoomName != "" {
		d.roomName = desc.RoomName
	}
	if desc.DisplayName != "" {
		d.deviceName = desc.DisplayName
	}
	if desc.DeviceType != "" {
		d.deviceType = desc.DeviceType
	}
	d.lastSeen = time.Now()
	return nil
}

// Equal reports whether two devices are the same player.
func (d *Device) Equal(other *Device) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.udn == other.udn
}

func (d *Device) UDN() string {
	return d.udn
}

func (d *Device) IP() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ip
}

func (d *Device) Port() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.port
}

func (d *Device) BaseURL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.baseURL
}

func (d *Device) RoomName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.roomName
}

func (d *Device) DeviceName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deviceName
}

// ReadableName is "<room> - <device>", the fleet sort key.
func (d *Device) ReadableName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.roomName + " - " + d.deviceName
}

func (d *Device) Volume() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.volume
}

func (d *Device) Muted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.muted
}

func (d *Device) PlayState() PlayState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.playState
}

func (d *Device) Track() *TrackInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.track
}

// GroupState returns a copy of the last group state, or nil.
func (d *Device) GroupState() *GroupState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.groupState == nil {
		return nil
	}
	state := *d.groupState
	state.MemberIDs = append([]string(nil), d.groupState.MemberIDs...)
	return &state
}

// GroupID returns the reported group id, empty when unknown.
func (d *Device) GroupID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.groupState == nil {
		return ""
	}
	return d.groupState.GroupID
}

func (d *Device) DeviceInfo() *DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.deviceInfo == nil {
		return nil
	}
	info := *d.deviceInfo
	return &info
}

// LocalUID returns the RINCON id from /status/zp, empty when unknown.
func (d *Device) LocalUID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.deviceInfo == nil {
		return ""
	}
	return d.deviceInfo.LocalUID
}

func (d *Device) zoneName() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.deviceInfo == nil {
		return "", false
	}
	return d.deviceInfo.ZoneName, true
}

func (d *Device) Active() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}

func (d *Device) setActive(active bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := d.active != active
	d.active = active
	return changed
}

func (d *Device) InStereoSetup() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inStereoSetup
}

func (d *Device) setInStereoSetup(value bool) {
	d.mu.Lock()
	d.inStereoSetup = value
	d.mu.Unlock()
}

func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

func (d *Device) markSeen() {
	d.mu.Lock()
	d.lastSeen = time.Now()
	d.mu.Unlock()
}

// IsGroupCoordinator reports whether this player heads its group's member list.
func (d *Device) IsGroupCoordinator() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.groupState == nil || d.deviceInfo == nil || len(d.groupState.MemberIDs) == 0 {
		return false
	}
	return d.groupState.MemberIDs[0] == d.deviceInfo.LocalUID
}

func (d *Device) setGroupState(state *GroupState) {
	d.mu.Lock()
	d.groupState = state
	d.mu.Unlock()
}

func (d *Device) setDeviceInfo(info *DeviceInfo) {
	d.mu.Lock()
	d.deviceInfo = info
	d.mu.Unlock()
}

func (d *Device) setPlayState(state PlayState) {
	d.mu.Lock()
	d.playState = state
	d.mu.Unlock()
}

func (d *Device) setCachedVolume(volume int) {
	d.mu.Lock()
	d.volume = clampVolume(volume)
	d.mu.Unlock()
}

func (d *Device) target() soap.Target {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return soap.Target{IP: d.ip, Port: d.port}
}

func clampVolume(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > 100 {
		return 100
	}
	return volume
}

// SetVolume clamps to 0-100 and sends the change without waiting for the player.
// The cached volume is updated immediately. A muted player is unmuted when the
// new volume is above zero.
func (d *Device) SetVolume(volume int) {
	volume = clampVolume(volume)

	d.mu.Lock()
	if volume == d.volume {
		d.mu.Unlock()
		return
	}
	wasMuted := d.muted
	d.volume = volume
	target := soap.Target{IP: d.ip, Port: d.port}
	d.mu.Unlock()

	if d.client == nil {
		return
	}
	d.client.FireSetVolume(target, volume)
	if wasMuted && volume > 0 {
		d.client.FireSetMute(target, false)
	}
}

// SetMute sends the mute change. The cached flag only changes on RefreshMute.
func (d *Device) SetMute(ctx context.Context, mute bool) error {
	if d.client == nil {
		return nil
	}
	return d.client.SetMute(ctx, d.target(), mute)
}

func (d *Device) Play(ctx context.Context) error {
	if d.client != nil {
		if err := d.client.Play(ctx, d.target()); err != nil {
			return err
		}
	}
	d.setPlayState(PlayStatePlaying)
	return nil
}

func (d *Device) Pause(ctx context.Context) error {
	if d.client != nil {
		if err := d.client.Pause(ctx, d.target()); err != nil {
			return err
		}
	}
	d.setPlayState(PlayStatePaused)
	return nil
}

func (d *Device) Next(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Next(ctx, d.target())
}

func (d *Device) Previous(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Previous(ctx, d.target())
}

func (d *Device) RefreshVolume(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	info, err := d.client.GetVolume(ctx, d.target())
	if err != nil {
		return err
	}
	d.setCachedVolume(info.CurrentVolume)
	return nil
}

func (d *Device) RefreshMute(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	info, err := d.client.GetMute(ctx, d.target())
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.muted = info.CurrentMute
	d.mu.Unlock()
	return nil
}

func (d *Device) RefreshPlayState(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	info, err := d.client.GetTransportInfo(ctx, d.target())
	if err != nil {
		return err
	}
	d.setPlayState(ParsePlayState(info.CurrentTransportState))
	return nil
}

// RefreshTrack reads GetPositionInfo. Empty or NOT_IMPLEMENTED metadata leaves
// the cached track as it was.
func (d *Device) RefreshTrack(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	info, err := d.client.GetPositionInfo(ctx, d.target())
	if err != nil {
		return err
	}
	if info.TrackMetaData == "" || info.TrackMetaData == trackNotImplemented {
		return nil
	}
	track, err := ParseTrackMetadata(info.TrackMetaData)
	if err != nil {
		return fmt.Errorf("parse track metadata: %w", err)
	}
	d.mu.Lock()
	d.track = track
	d.mu.Unlock()
	return nil
}

// RefreshDeviceInfo reads ZoneName and LocalUID from /status/zp.
func (d *Device) RefreshDeviceInfo(ctx context.Context) error {
	if d.prober == nil {
		return nil
	}
	target := d.target()
	info, err := d.prober.FetchDeviceInfo(ctx, target.IP, target.Port)
	if err != nil {
		return err
	}
	d.setDeviceInfo(&DeviceInfo{ZoneName: info.ZoneName, LocalUID: info.LocalUID})
	return nil
}

// RefreshGroupState reads GetZoneGroupAttributes. It needs device info first so
// coordinator detection sees a current local id.
func (d *Device) RefreshGroupState(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	if d.DeviceInfo() == nil {
		return ErrNoDeviceInfo
	}
	attrs, err := d.client.GetZoneGroupAttributes(ctx, d.target())
	if err != nil {
		return err
	}
	d.setGroupState(&GroupState{
		Name:      attrs.GroupName,
		GroupID:   attrs.GroupID,
		MemberIDs: attrs.MemberIDs,
	})
	return nil
}

// RefreshAll refreshes volume, mute, play state and track, then device info,
// then group state when device info is available. It returns once the group
// state step has finished. Step failures are joined; earlier cached values survive.
func (d *Device) RefreshAll(ctx context.Context) error {
	var errs []error
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"volume", d.RefreshVolume},
		{"mute", d.RefreshMute},
		{"play state", d.RefreshPlayState},
		{"track", d.RefreshTrack},
		{"device info", d.RefreshDeviceInfo},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	if d.DeviceInfo() != nil {
		if err := d.RefreshGroupState(ctx); err != nil {
			errs = append(errs, fmt.Errorf("group state: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DeviceView is an immutable snapshot of a device.
type DeviceView struct {
	UDN           string     `json:"udn"`
	IP            string     `json:"ip"`
	Port          int        `json:"port"`
	BaseURL       string     `json:"base_url"`
	RoomName      string     `json:"room_name"`
	DeviceName    string     `json:"device_name"`
	ReadableName  string     `json:"readable_name"`
	DeviceType    string     `json:"device_type,omitempty"`
	Volume        int        `json:"volume"`
	Muted         bool       `json:"muted"`
	PlayState     PlayState  `json:"play_state"`
	Track         *TrackView `json:"track"`
	GroupID       string     `json:"group_id,omitempty"`
	GroupName     string     `json:"group_name,omitempty"`
	MemberIDs     []string   `json:"member_ids,omitempty"`
	ZoneName      string     `json:"zone_name,omitempty"`
	LocalUID      string     `json:"local_uid,omitempty"`
	Coordinator   bool       `json:"is_coordinator"`
	Active        bool       `json:"active"`
	InStereoSetup bool       `json:"in_stereo_setup"`
	LastSeen      string     `json:"last_seen"`
}

// View snapshots the device.
func (d *Device) View() DeviceView {
	coordinator := d.IsGroupCoordinator()

	d.mu.RLock()
	defer d.mu.RUnlock()
	view := DeviceView{
		UDN:           d.udn,
		IP:            d.ip,
		Port:          d.port,
		BaseURL:       d.baseURL,
		RoomName:      d.roomName,
		DeviceName:    d.deviceName,
		ReadableName:  d.roomName + " - " + d.deviceName,
		DeviceType:    d.deviceType,
		Volume:        d.volume,
		Muted:         d.muted,
		PlayState:     d.playState,
		Track:         d.track.View(),
		Coordinator:   coordinator,
		Active:        d.active,
		InStereoSetup: d.inStereoSetup,
		LastSeen:      rfc3339Millis(d.lastSeen),
	}
	if d.groupState != nil {
		view.GroupID = d.groupState.GroupID
		view.GroupName = d.groupState.Name
		view.MemberIDs = append([]string(nil), d.groupState.MemberIDs...)
	}
	if d.deviceInfo != nil {
		view.ZoneName = d.deviceInfo.ZoneName
		view.LocalUID = d.deviceInfo.LocalUID
	}
	return view
}

// rfc3339Millis formats time with millisecond precision in UTC.
func rfc3339Millis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
