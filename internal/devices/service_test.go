package devices

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweepRecorder struct {
	mu      sync.Mutex
	results []SweepResult
}

func (r *sweepRecorder) observer() ObserverFuncs {
	return ObserverFuncs{OnSweepCompleted: func(result SweepResult) {
		r.mu.Lock()
		r.results = append(r.results, result)
		r.mu.Unlock()
	}}
}

func (r *sweepRecorder) outcomes() map[uint64]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcomes := make(map[uint64]string)
	for _, result := range r.results {
		outcomes[result.Generation] = result.Outcome
	}
	return outcomes
}

func sweepNow(t *testing.T, service *Service) SweepResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := service.Sweep(ctx)
	require.NoError(t, err)
	return result
}

func groupedPair(t *testing.T) (*fakeSpeaker, *fakeSpeaker) {
	a := newFakeSpeaker(t, "uuid:RINCON_A", "Den", "RINCON_A")
	b := newFakeSpeaker(t, "uuid:RINCON_B", "Kitchen", "RINCON_B")
	a.setGroup("Den", "G1", "RINCON_A", "RINCON_B")
	b.setGroup("Den", "G1", "RINCON_A", "RINCON_B")
	return a, b
}

func TestService_SweepBuildsFleetAndGroups(t *testing.T) {
	a, b := groupedPair(t)
	disc := &fakeDiscoverer{}
	disc.push(script{locations: []string{a.location(), b.location()}})
	service := newTestService(disc)

	result := sweepNow(t, service)
	assert.Equal(t, SweepCompleted, result.Outcome)
	assert.Equal(t, []string{"uuid:RINCON_A", "uuid:RINCON_B"}, result.Found)
	assert.Equal(t, []string{"uuid:RINCON_A", "uuid:RINCON_B"}, result.Added)
	assert.Equal(t, 2, result.DeviceCount)
	assert.Equal(t, 1, result.GroupCount)

	devices := service.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "Den - One", devices[0].ReadableName())
	assert.Equal(t, "Kitchen - One", devices[1].ReadableName())

	group, err := service.Group("G1")
	require.NoError(t, err)
	assert.Equal(t, 2, group.Len())
	require.NotNil(t, group.Coordinator())
	assert.Equal(t, "uuid:RINCON_A", group.Coordinator().UDN())
	assert.True(t, group.Active())
	assert.Same(t, group, service.ActiveGroup())

	last, ok := service.LastSweep()
	require.True(t, ok)
	assert.Equal(t, result.Generation, last.Generation)
}

func TestService_SweepIsIdempotent(t *testing.T) {
	a, b := groupedPair(t)
	disc := &fakeDiscoverer{}
	disc.push(script{locations: []string{a.location(), b.location(), a.location()}})
	service := newTestService(disc)

	first := sweepNow(t, service)
	devices := service.Devices()
	second := sweepNow(t, service)

	assert.Equal(t, first.Found, second.Found)
	assert.Empty(t, second.Added)
	assert.Empty(t, second.Removed)
	assert.Equal(t, devices, service.Devices())
	assert.Len(t, service.Groups(), 1)
}

func TestService_IPChangeUpdatesInPlace(t *testing.T) {
	a := newFakeSpeaker(t, "uuid:RINCON_A", "Den", "RINCON_A")
	a.setGroup("Den", "G1", "RINCON_A")
	moved := newFakeSpeaker(t, "uuid:RINCON_A", "Den", "RINCON_A")
	moved.setGroup("Den", "G1", "RINCON_A")

	disc := &fakeDiscoverer{}
	disc.push(script{locations: []string{a.location()}})
	disc.push(script{locations: []string{moved.location()}})
	service := newTestService(disc)

	sweepNow(t, service)
	original, err := service.Device("uuid:RINCON_A")
	require.NoError(t, err)
	require.NoError(t, service.SetDeviceActive("uuid:RINCON_A", false))
	oldPort := original.Port()

	result := sweepNow(t, service)
	assert.Empty(t, result.Added)
	assert.Empty(t, result.Removed)

	current, err := service.Device("uuid:RINCON_A")
	require.NoError(t, err)
	assert.Same(t, original, current)
	assert.NotEqual(t, oldPort, current.Port())
	assert.False(t, current.Active())
	assert.Len(t, service.Devices(), 1)
}

func TestService_MissingDeviceIsRemovedWithItsGroup(t *testing.T) {
	a := newFakeSpeaker(t, "uuid:RINCON_A", "Den", "RINCON_A")
	a.setGroup("Den", "G1", "RINCON_A")
	b := newFakeSpeaker(t, "uuid:RINCON_B", "Kitchen", "RINCON_B")
	b.setGroup("Kitchen", "G2", "RINCON_B")

	disc := &fakeDiscoverer{}
	disc.push(script{locations: []string{a.location(), b.location()}})
	disc.push(script{locations: []string{a.location()}})
	service := newTestService(disc)

	sweepNow(t, service)
	require.Len(t, service.Groups(), 2)

	result := sweepNow(t, service)
	assert.Equal(t, []string{"uuid:RINCON_B"}, result.Removed)
	assert.Len(t, service.Devices(), 1)
	_, err := service.Device("uuid:RINCON_B")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	_, err = service.Group("G2")
	assert.ErrorIs(t, err, ErrGroupNotFound)
	require.NotNil(t, service.ActiveGroup())
	assert.Equal(t, "G1", service.ActiveGroup().ID())
}

func TestService_GroupChangeMovesDevice(t *testing.T) {
	a, b := groupedPair(t)
	disc := &fakeDiscoverer{}
	disc.push(script{locations: []string{a.location(), b.location()}})
	service := newTestService(disc)
	sweepNow(t, service)

	b.setGroup("Kitchen", "G2", "RINCON_B")
	sweepNow(t, service)

	g1, err := service.Group("G1")
	require.NoError(t, err)
	g2, err := service.Group("G2")
	require.NoError(t, err)
	assert.Equal(t, 1, g1.Len())
	assert.Equal(t, 1, g2.Len())
	b1, _ := service.Device("uuid:RINCON_B")
	assert.True(t, g2.Contains(b1))
	assert.False(t, g1.Contains(b1))

	active := 0
	for _, group := range service.Groups() {
		if group.Active() {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestService_StereoPairHidesSilentSpeaker(t *testing.T) {
	left := newFakeSpeaker(t, "uuid:RINCON_L", "Bedroom", "RINCON_L")
	right := newFakeSpeaker(t, "uuid:RINCON_R", "Bedroom", "RINCON_R")
	left.setGroup("Bedroom", "G1", "RINCON_L")
	right.setGroup("", "")

	disc := &fakeDiscoverer{}
	disc.push(script{locations: []string{left.location(), right.location()}})
	service := newTestService(disc)

	result := sweepNow(t, service)
	assert.Equal(t, 1, result.DeviceCount)
	devices := service.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "uuid:RINCON_L", devices[0].UDN())
	assert.True(t, devices[0].InStereoSetup())
}

func TestService_NewSweepAbortsPrevious(t *testing.T) {
	a, _ := groupedPair(t)
	disc := &fakeDiscoverer{}
	disc.push(script{locations: []string{a.location()}, hold: true})
	disc.push(script{locations: []string{a.location()}})
	service := newTestService(disc)

	recorder := &sweepRecorder{}
	service.Subscribe(recorder.observer())

	first := service.SearchForDevices()
	require.Eventually(t, func() bool {
		disc.mu.Lock()
		defer disc.mu.Unlock()
		return disc.starts == 1
	}, 2*time.Second, 5*time.Millisecond)

	result := sweepNow(t, service)
	assert.Equal(t, first+1, result.Generation)
	assert.Equal(t, SweepCompleted, result.Outcome)

	assert.Eventually(t, func() bool {
		outcomes := recorder.outcomes()
		return outcomes[first] == SweepAborted && outcomes[first+1] == SweepCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, service.Devices(), 1)
}

func TestService_SweepWithoutDiscovererFails(t *testing.T) {
	service := newTestService(nil)

	result := sweepNow(t, service)
	assert.Equal(t, SweepFailed, result.Outcome)
	assert.NotEmpty(t, result.Error)
	assert.False(t, service.IsHealthy())

	service.LoadDemo()
	assert.True(t, service.IsHealthy())
}

func TestService_SweepRecordsMetrics(t *testing.T) {
	a, b := groupedPair(t)
	disc := &fakeDiscoverer{}
	disc.push(script{locations: []string{a.location(), b.location(), "http://127.0.0.1:1/missing.xml"}})
	reg := prometheus.NewRegistry()
	service := newTestService(disc)
	service.metrics = NewMetrics(reg)

	sweepNow(t, service)
	assert.Equal(t, float64(1), testutil.ToFloat64(service.metrics.sweeps.WithLabelValues(SweepCompleted)))
	assert.Equal(t, float64(2), testutil.ToFloat64(service.metrics.devices))
	assert.Equal(t, float64(1), testutil.ToFloat64(service.metrics.groups))
	assert.Equal(t, float64(1), testutil.ToFloat64(service.metrics.resolveFailures))
}

func TestService_LoadDemo(t *testing.T) {
	service := newTestService(nil)
	service.LoadDemo()

	views := service.DeviceViews()
	require.Len(t, views, 4)
	assert.Equal(t, "Bedroom_1 - One", views[0].ReadableName)
	assert.Equal(t, "Living room - PLAY:5", views[3].ReadableName)

	groups := service.Groups()
	require.Len(t, groups, 3)
	bedroom, err := service.Group("01")
	require.NoError(t, err)
	assert.Equal(t, 2, bedroom.Len())
	assert.Equal(t, "some-udn-1", bedroom.Coordinator().UDN())
	assert.Equal(t, 25, bedroom.AggregateVolume())
	assert.Equal(t, PlayStatePlaying, bedroom.PlayState())
	assert.Same(t, bedroom, service.ActiveGroup())
}

func TestService_SingleActiveGroup(t *testing.T) {
	service := newTestService(nil)
	service.LoadDemo()

	var changes []GroupView
	service.Subscribe(ObserverFuncs{OnGroupActiveChanged: func(view GroupView) {
		changes = append(changes, view)
	}})

	require.NoError(t, service.SetGroupActive("03", true))
	require.NotNil(t, service.ActiveGroup())
	assert.Equal(t, "03", service.ActiveGroup().ID())
	require.Len(t, changes, 2)
	assert.Equal(t, "01", changes[0].ID)
	assert.False(t, changes[0].Active)
	assert.Equal(t, "03", changes[1].ID)
	assert.True(t, changes[1].Active)

	require.NoError(t, service.SetGroupActive("03", false))
	assert.Equal(t, "01", service.ActiveGroup().ID())

	active := 0
	for _, group := range service.Groups() {
		if group.Active() {
			active++
		}
	}
	assert.Equal(t, 1, active)

	assert.ErrorIs(t, service.SetGroupActive("nope", true), ErrGroupNotFound)
}

func TestService_SetDeviceActiveNotifiesOnChange(t *testing.T) {
	service := newTestService(nil)
	service.LoadDemo()

	var changed []DeviceView
	service.Subscribe(ObserverFuncs{OnDeviceActiveChanged: func(view DeviceView) {
		changed = append(changed, view)
	}})

	require.NoError(t, service.SetDeviceActive("some-udn-3", false))
	require.NoError(t, service.SetDeviceActive("some-udn-3", false))
	require.Len(t, changed, 1)
	assert.Equal(t, "some-udn-3", changed[0].UDN)
	assert.False(t, changed[0].Active)

	assert.ErrorIs(t, service.SetDeviceActive("missing", true), ErrDeviceNotFound)
}

func TestService_SpeakerModeSendsOncePerGroup(t *testing.T) {
	service := newTestService(nil)
	service.LoadDemo()
	ctx := context.Background()

	count, err := service.PauseActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	udn1, _ := service.Device("some-udn-1")
	udn2, _ := service.Device("some-udn-2")
	assert.Equal(t, PlayStatePaused, udn1.PlayState())
	assert.Equal(t, PlayStatePlaying, udn2.PlayState())

	require.NoError(t, service.SetDeviceActive("some-udn-3", false))
	count, err = service.PlayActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	kitchen, _ := service.Device("some-udn-3")
	assert.Equal(t, PlayStatePaused, kitchen.PlayState())

	count, err = service.NextActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = service.PreviousActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, 3, service.SetActiveVolume(30))
	assert.Equal(t, 30, udn1.Volume())
	assert.Equal(t, 40, kitchen.Volume())
}

func TestService_SpeakerCommandsPublishState(t *testing.T) {
	service := newTestService(nil)
	service.LoadDemo()

	var latest []DeviceView
	groupChanges := 0
	service.Subscribe(ObserverFuncs{
		OnFleetChanged:  func(views []DeviceView) { latest = views },
		OnGroupsChanged: func([]GroupView) { groupChanges++ },
	})

	service.SetActiveVolume(55)
	require.Len(t, latest, 4)
	for _, view := range latest {
		assert.Equal(t, 55, view.Volume, view.UDN)
	}

	_, err := service.PauseActive(context.Background())
	require.NoError(t, err)
	for _, view := range latest {
		if view.UDN == "some-udn-3" {
			assert.Equal(t, PlayStatePaused, view.PlayState)
		}
	}
	assert.Equal(t, 2, groupChanges)
}

func TestService_SubscribeAndUnsubscribe(t *testing.T) {
	service := newTestService(nil)
	fleetChanges := 0
	unsubscribe := service.Subscribe(ObserverFuncs{OnFleetChanged: func([]DeviceView) {
		fleetChanges++
	}})

	service.AddDevice(offlineDevice("uuid:a", "A", "G1", []string{"A"}, 10))
	assert.Equal(t, 1, fleetChanges)

	unsubscribe()
	unsubscribe()
	service.AddDevice(offlineDevice("uuid:b", "B", "G1", []string{"A", "B"}, 10))
	assert.Equal(t, 1, fleetChanges)
	assert.Len(t, service.Devices(), 2)
}

func TestService_RefreshDevice(t *testing.T) {
	a := newFakeSpeaker(t, "uuid:RINCON_A", "Den", "RINCON_A")
	a.setGroup("Den", "G1", "RINCON_A")
	disc := &fakeDiscoverer{}
	disc.push(script{locations: []string{a.location()}})
	service := newTestService(disc)
	sweepNow(t, service)

	a.set(func(s *fakeSpeaker) { s.volume = 64 })
	a.setGroup("Den", "G7", "RINCON_A")
	view, err := service.RefreshDevice(context.Background(), "uuid:RINCON_A")
	require.NoError(t, err)
	assert.Equal(t, 64, view.Volume)
	assert.Equal(t, "G7", view.GroupID)

	_, err = service.Group("G1")
	assert.ErrorIs(t, err, ErrGroupNotFound)
	_, err = service.Group("G7")
	assert.NoError(t, err)

	_, err = service.RefreshDevice(context.Background(), "uuid:missing")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestService_PeriodicDiscovery(t *testing.T) {
	disc := &fakeDiscoverer{}
	service := newTestService(disc)
	service.cfg.RescanSchedule = "not a schedule"

	require.Error(t, service.StartPeriodicDiscovery())
	disc.mu.Lock()
	assert.Equal(t, 0, disc.starts)
	disc.mu.Unlock()

	service.cfg.RescanSchedule = "@every 1h"
	require.NoError(t, service.StartPeriodicDiscovery())
	require.NoError(t, service.StartPeriodicDiscovery())
	assert.Eventually(t, func() bool {
		disc.mu.Lock()
		defer disc.mu.Unlock()
		return disc.starts == 1
	}, 2*time.Second, 10*time.Millisecond)
	service.StopPeriodicDiscovery()
}
