package devices

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strefethen/sonos-fleet-go/internal/config"
	"github.com/strefethen/sonos-fleet-go/internal/discovery"
	"github.com/strefethen/sonos-fleet-go/internal/sonos/soap"
)

type soapCall struct {
	Action string
	Body   string
}

// fakeSpeaker serves the description, /status/zp and SOAP control endpoints of one player.
type fakeSpeaker struct {
	server *httptest.Server

	mu          sync.Mutex
	udn         string
	roomName    string
	displayName string
	zoneName    string
	localUID    string
	volume      int
	muted       bool
	state       string
	metadata    string
	groupName   string
	groupID     string
	members     []string
	noZoneInfo  bool
	calls       []soapCall
}

func newFakeSpeaker(t *testing.T, udn, room, localUID string) *fakeSpeaker {
	t.Helper()
	speaker := &fakeSpeaker{
		udn:         udn,
		roomName:    room,
		displayName: "One",
		zoneName:    room,
		localUID:    localUID,
		volume:      20,
		state:       "STOPPED",
		metadata:    "NOT_IMPLEMENTED",
	}
	speaker.server = httptest.NewServer(http.HandlerFunc(speaker.handle))
	t.Cleanup(speaker.server.Close)
	return speaker
}

func (s *fakeSpeaker) location() string {
	return s.server.URL + "/xml/device_description.xml"
}

func (s *fakeSpeaker) setGroup(name, id string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupName, s.groupID, s.members = name, id, members
}

func (s *fakeSpeaker) set(fn func(s *fakeSpeaker)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeSpeaker) callsFor(action string) []soapCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []soapCall
	for _, call := range s.calls {
		if call.Action == action {
			matched = append(matched, call)
		}
	}
	return matched
}

func (s *fakeSpeaker) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/xml/device_description.xml":
		fmt.Fprintf(w, `<?xml version="1.0"?><root xmlns="urn:schemas-upnp-org:device-1-0"><device>`+
			`<deviceType>urn:schemas-upnp-org:device:ZonePlayer:1</deviceType>`+
			`<roomName>%s</roomName><displayName>%s</displayName><UDN>%s</UDN>`+
			`</device></root>`, s.roomName, s.displayName, s.udn)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/status/zp":
		if s.noZoneInfo {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `<ZPSupportInfo><ZPInfo><ZoneName>%s</ZoneName><LocalUID>%s</LocalUID></ZPInfo></ZPSupportInfo>`,
			s.zoneName, s.localUID)
		return
	case r.Method != http.MethodPost:
		http.NotFound(w, r)
		return
	}

	body, _ := io.ReadAll(r.Body)
	header := strings.Trim(r.Header.Get("SOAPACTION"), `"`)
	service, action, _ := strings.Cut(header, "#")
	s.calls = append(s.calls, soapCall{Action: action, Body: string(body)})

	var inner string
	switch action {
	case "GetVolume":
		inner = fmt.Sprintf("<CurrentVolume>%d</CurrentVolume>", s.volume)
	case "SetVolume":
		fmt.Sscanf(argValue(string(body), "DesiredVolume"), "%d", &s.volume)
	case "GetMute":
		mute := 0
		if s.muted {
			mute = 1
		}
		inner = fmt.Sprintf("<CurrentMute>%d</CurrentMute>", mute)
	case "SetMute":
		s.muted = argValue(string(body), "DesiredMute") == "1"
	case "GetTransportInfo":
		inner = fmt.Sprintf("<CurrentTransportState>%s</CurrentTransportState><CurrentTransportStatus>OK</CurrentTransportStatus>", s.state)
	case "Play":
		s.state = "PLAYING"
	case "Pause":
		s.state = "PAUSED_PLAYBACK"
	case "Next", "Previous":
	case "GetPositionInfo":
		inner = fmt.Sprintf("<Track>1</Track><TrackMetaData>%s</TrackMetaData>", soap.EscapeXML(s.metadata))
	case "GetZoneGroupAttributes":
		inner = fmt.Sprintf("<CurrentZoneGroupName>%s</CurrentZoneGroupName><CurrentZoneGroupID>%s</CurrentZoneGroupID>"+
			"<CurrentZonePlayerUUIDsInGroup>%s</CurrentZonePlayerUUIDsInGroup>",
			s.groupName, s.groupID, strings.Join(s.members, ","))
	default:
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>`+
			`<detail><UPnPError><errorCode>401</errorCode></UPnPError></detail></s:Fault></s:Body></s:Envelope>`)
		return
	}

	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	fmt.Fprintf(w, `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>`+
		`<u:%sResponse xmlns:u="%s">%s</u:%sResponse></s:Body></s:Envelope>`, action, service, inner, action)
}

func argValue(body, name string) string {
	start := strings.Index(body, "<"+name+">")
	if start < 0 {
		return ""
	}
	start += len(name) + 2
	end := strings.Index(body[start:], "</"+name+">")
	if end < 0 {
		return ""
	}
	return body[start : start+end]
}

// script is the list of locations one discovery session reports.
type script struct {
	locations []string
	hold      bool
}

// fakeDiscoverer plays one script per StartDiscovery call, repeating the last.
type fakeDiscoverer struct {
	mu      sync.Mutex
	scripts []script
	starts  int
}

func (f *fakeDiscoverer) push(s script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, s)
}

func (f *fakeDiscoverer) StartDiscovery(ctx context.Context, _ discovery.SearchTarget, timeout time.Duration) (*discovery.Session, error) {
	f.mu.Lock()
	var current script
	if len(f.scripts) > 0 {
		idx := min(f.starts, len(f.scripts)-1)
		current = f.scripts[idx]
	}
	f.starts++
	f.mu.Unlock()

	return discovery.NewSession(ctx, timeout, func(ctx context.Context, emit func(discovery.Event)) {
		for _, location := range current.locations {
			emit(discovery.Event{Location: location, Source: "fake"})
		}
		if current.hold {
			<-ctx.Done()
		}
	}), nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestService(disc discovery.Discoverer) *Service {
	cfg := config.Defaults()
	cfg.DiscoveryTimeoutMs = 5000
	cfg.ResolveTimeoutMs = 3000
	cfg.RescanSchedule = ""
	client := soap.NewClient(2*time.Second, testLogger())
	prober := discovery.NewProber(2 * time.Second)
	return NewService(cfg, testLogger(), client, prober, disc, nil)
}

func newSpeakerDevice(speaker *fakeSpeaker) *Device {
	ip, port, err := splitLocation(speaker.server.URL)
	if err != nil {
		panic(err)
	}
	return NewDevice(DeviceOptions{UDN: speaker.udn, IP: ip, Port: port, RoomName: speaker.roomName, DeviceName: "One"},
		soap.NewClient(2*time.Second, testLogger()), discovery.NewProber(2*time.Second), testLogger())
}

// offlineDevice builds a device with no client; commands only touch cached state.
func offlineDevice(udn, localUID, groupID string, members []string, volume int) *Device {
	d := NewDevice(DeviceOptions{UDN: udn, IP: "10.0.0.1", RoomName: udn, DeviceName: "One"}, nil, nil, testLogger())
	if localUID != "" {
		d.setDeviceInfo(&DeviceInfo{ZoneName: udn, LocalUID: localUID})
	}
	if groupID != "" || members != nil {
		d.setGroupState(&GroupState{Name: groupID, GroupID: groupID, MemberIDs: members})
	}
	d.setCachedVolume(volume)
	return d
}
