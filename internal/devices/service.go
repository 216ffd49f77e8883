package devices

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/sonos-fleet-go/internal/config"
	"github.com/strefethen/sonos-fleet-go/internal/discovery"
	"github.com/strefethen/sonos-fleet-go/internal/sonos/soap"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrGroupNotFound  = errors.New("group not found")
	errNoDiscoverer   = errors.New("no discovery backend configured")
)

// sweep is one discovery run. seen and added are guarded by Service.mu.
type sweep struct {
	generation uint64
	startedAt  time.Time
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	seen     []*Device
	seenUDNs map[string]struct{}
	added    []string

	done   chan struct{}
	result SweepResult
}

// Service owns the fleet and its groups. fleet, known, groups and the current
// sweep are guarded by mu; every mutation goes through a method holding it.
// Observers are called after mu is released and must not call back into the
// Service from the notification goroutine.
type Service struct {
	cfg        config.Config
	logger     *log.Logger
	soapClient *soap.Client
	prober     *discovery.Prober
	discoverer discovery.Discoverer
	metrics    *Metrics

	mu         sync.RWMutex
	fleet      []*Device
	known      map[string]*Device
	groups     map[string]*Group
	generation uint64
	current    *sweep
	lastResult *SweepResult

	notifyMu       sync.Mutex
	observersMu    sync.RWMutex
	observers      map[int]Observer
	nextObserverID int

	periodicMu sync.Mutex
	cron       *cron.Cron
}

// NewService creates an empty fleet. discoverer may be nil when only demo or
// manually added devices are used.
func NewService(cfg config.Config, logger *log.Logger, soapClient *soap.Client, prober *discovery.Prober, discoverer discovery.Discoverer, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:        cfg,
		logger:     logger,
		soapClient: soapClient,
		prober:     prober,
		discoverer: discoverer,
		metrics:    metrics,
		known:      make(map[string]*Device),
		groups:     make(map[string]*Group),
		observers:  make(map[int]Observer),
	}
}

// Subscribe registers o and returns a function that removes it.
func (service *Service) Subscribe(o Observer) func() {
	service.observersMu.Lock()
	id := service.nextObserverID
	service.nextObserverID++
	service.observers[id] = o
	service.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			service.observersMu.Lock()
			delete(service.observers, id)
			service.observersMu.Unlock()
		})
	}
}

func (service *Service) snapshotObservers() []Observer {
	service.observersMu.RLock()
	defer service.observersMu.RUnlock()
	ids := make([]int, 0, len(service.observers))
	for id := range service.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, service.observers[id])
	}
	return observers
}

// unlockAndNotify releases mu and delivers notes. notifyMu is taken before mu
// is released so deliveries keep mutation order.
func (service *Service) unlockAndNotify(notes []notification) {
	service.notifyMu.Lock()
	service.mu.Unlock()
	defer service.notifyMu.Unlock()

	if len(notes) == 0 {
		return
	}
	observers := service.snapshotObservers()
	for _, note := range notes {
		for _, o := range observers {
			note(o)
		}
	}
}

func (service *Service) notifySweep(result SweepResult) {
	service.notifyMu.Lock()
	defer service.notifyMu.Unlock()
	for _, o := range service.snapshotObservers() {
		if so, ok := o.(SweepObserver); ok {
			so.SweepCompleted(result)
		}
	}
}

// SearchForDevices starts a sweep and returns its generation. A sweep already
// in flight is aborted without reconciliation.
func (service *Service) SearchForDevices() uint64 {
	return service.startSweep().generation
}

// Sweep starts a sweep and waits for it to finish or for ctx to end.
func (service *Service) Sweep(ctx context.Context) (SweepResult, error) {
	s := service.startSweep()
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return SweepResult{}, ctx.Err()
	}
}

// StopDiscovery aborts the sweep in flight, if any.
func (service *Service) StopDiscovery() {
	service.mu.Lock()
	current := service.current
	service.current = nil
	service.mu.Unlock()
	if current != nil {
		current.cancel()
	}
}

func (service *Service) startSweep() *sweep {
	ctx, cancel := context.WithCancel(context.Background())

	service.mu.Lock()
	previous := service.current
	service.generation++
	s := &sweep{
		generation: service.generation,
		startedAt:  time.Now(),
		cancel:     cancel,
		seenUDNs:   make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	service.current = s
	service.mu.Unlock()

	if previous != nil {
		previous.cancel()
	}

	service.logger.Printf("SWEEP: generation=%d started", s.generation)
	go service.runSweep(ctx, s)
	return s
}

func (service *Service) runSweep(ctx context.Context, s *sweep) {
	defer s.cancel()

	if service.discoverer == nil {
		service.finishSweep(s, SweepFailed, errNoDiscoverer)
		return
	}

	timeout := time.Duration(service.cfg.DiscoveryTimeoutMs) * time.Millisecond
	session, err := service.discoverer.StartDiscovery(ctx, discovery.ZonePlayerTarget, timeout)
	if err != nil {
		service.logger.Printf("SWEEP: generation=%d discovery failed: %v", s.generation, err)
		service.finishSweep(s, SweepFailed, err)
		return
	}

	for event := range session.Events() {
		s.wg.Add(1)
		go func(location string) {
			defer s.wg.Done()
			service.resolve(ctx, s, location)
		}(event.Location)
	}

	// each resolution is bounded by the resolve timeout
	s.wg.Wait()

	if ctx.Err() != nil {
		service.logger.Printf("SWEEP: generation=%d aborted", s.generation)
		service.finishSweep(s, SweepAborted, nil)
		return
	}
	service.reconcile(s)
}

func (service *Service) finishSweep(s *sweep, outcome string, err error) {
	result := SweepResult{
		Generation: s.generation,
		StartedAt:  s.startedAt,
		FinishedAt: time.Now(),
		Outcome:    outcome,
		Found:      []string{},
		Added:      []string{},
		Removed:    []string{},
	}
	if err != nil {
		result.Error = err.Error()
	}

	service.mu.Lock()
	result.DeviceCount = len(service.fleet)
	result.GroupCount = len(service.groups)
	if service.current == s {
		service.current = nil
	}
	service.lastResult = &result
	service.mu.Unlock()

	service.completeSweep(s, result)
}

func (service *Service) completeSweep(s *sweep, result SweepResult) {
	service.metrics.observeSweep(result.Outcome, result.Duration())
	s.result = result
	close(s.done)
	service.notifySweep(result)
}

// isCurrent reports whether s is still the newest sweep. Callers hold mu.
func (service *Service) isCurrent(s *sweep) bool {
	return service.current == s && s.generation == service.generation
}

// resolve fetches one description and refreshes the device it names.
// Results of a superseded sweep are dropped.
func (service *Service) resolve(ctx context.Context, s *sweep, location string) {
	resolveCtx, cancel := context.WithTimeout(ctx, time.Duration(service.cfg.ResolveTimeoutMs)*time.Millisecond)
	defer cancel()

	if service.prober == nil {
		return
	}
	desc, err := service.prober.FetchDescription(resolveCtx, location)
	if err != nil {
		if ctx.Err() == nil {
			service.metrics.resolveFailed()
			service.logger.Printf("SWEEP: describe %s failed: %v", location, err)
		}
		return
	}

	service.mu.Lock()
	if !service.isCurrent(s) {
		service.mu.Unlock()
		return
	}
	if _, dup := s.seenUDNs[desc.UDN]; dup {
		service.mu.Unlock()
		return
	}
	device, existing := service.known[desc.UDN]
	if !existing {
		device, err = NewDeviceFromDescription(desc, location, service.soapClient, service.prober, service.logger)
		if err != nil {
			service.mu.Unlock()
			service.logger.Printf("SWEEP: %v", err)
			return
		}
		s.added = append(s.added, desc.UDN)
	}
	s.seenUDNs[desc.UDN] = struct{}{}
	s.seen = append(s.seen, device)
	service.mu.Unlock()

	if existing {
		if err := device.UpdateLocation(desc, location); err != nil {
			service.logger.Printf("SWEEP: %v", err)
		}
	}

	if err := device.RefreshAll(resolveCtx); err != nil && ctx.Err() == nil {
		service.logger.Printf("SWEEP: refresh %s (%s) incomplete: %v", device.ReadableName(), device.IP(), err)
	}

	service.mu.Lock()
	if !service.isCurrent(s) {
		service.mu.Unlock()
		return
	}
	service.known[device.UDN()] = device
	service.addDeviceLocked(device)
	notes := service.updateGroupsLocked(device)
	notes = append([]notification{fleetNotification(service.deviceViewsLocked())}, notes...)
	service.metrics.setCounts(len(service.fleet), len(service.groups))
	service.unlockAndNotify(notes)
}

// reconcile replaces the fleet with the devices seen in s.
func (service *Service) reconcile(s *sweep) {
	service.mu.Lock()
	if !service.isCurrent(s) {
		service.mu.Unlock()
		service.logger.Printf("SWEEP: generation=%d superseded before reconcile", s.generation)
		service.finishSweep(s, SweepAborted, nil)
		return
	}

	seen := make([]*Device, 0, len(s.seen))
	seenSet := make(map[string]struct{}, len(s.seen))
	for _, d := range s.seen {
		if _, ok := seenSet[d.UDN()]; ok {
			continue
		}
		seenSet[d.UDN()] = struct{}{}
		seen = append(seen, d)
	}

	var removed []string
	for udn, d := range service.known {
		if _, ok := seenSet[udn]; ok {
			continue
		}
		removed = append(removed, udn)
		for _, group := range service.groups {
			group.Remove(d)
		}
		delete(service.known, udn)
	}
	for _, d := range seen {
		service.known[d.UDN()] = d
	}

	service.fleet, _ = ResolveStereoPairs(seen)
	service.sortFleetLocked()
	service.pruneEmptyGroupsLocked()
	service.updateGroupSpeakersLocked()
	notes := []notification{
		fleetNotification(service.deviceViewsLocked()),
	}
	notes = append(notes, service.ensureActiveGroupLocked()...)
	notes = append(notes, groupsNotification(service.groupViewsLocked()))

	found := make([]string, 0, len(seen))
	for _, d := range seen {
		found = append(found, d.UDN())
	}
	sort.Strings(found)
	sort.Strings(removed)
	added := append([]string{}, s.added...)
	sort.Strings(added)
	if removed == nil {
		removed = []string{}
	}

	result := SweepResult{
		Generation:  s.generation,
		StartedAt:   s.startedAt,
		FinishedAt:  time.Now(),
		Outcome:     SweepCompleted,
		Found:       found,
		Added:       added,
		Removed:     removed,
		DeviceCount: len(service.fleet),
		GroupCount:  len(service.groups),
	}
	service.current = nil
	service.lastResult = &result
	service.metrics.setCounts(len(service.fleet), len(service.groups))
	service.unlockAndNotify(notes)

	service.logger.Printf("SWEEP: generation=%d reconciled devices=%d groups=%d added=%d removed=%d",
		s.generation, result.DeviceCount, result.GroupCount, len(added), len(removed))
	service.completeSweep(s, result)
}

// addDeviceLocked appends d to the visible fleet if it is not already there,
// then re-runs the stereo pass over the fleet.
func (service *Service) addDeviceLocked(d *Device) {
	for _, existing := range service.fleet {
		if existing.Equal(d) {
			return
		}
	}
	service.fleet = append(service.fleet, d)
	service.fleet, _ = ResolveStereoPairs(service.fleet)
	service.sortFleetLocked()
}

func (service *Service) sortFleetLocked() {
	sort.SliceStable(service.fleet, func(i, j int) bool {
		return service.fleet[i].ReadableName() < service.fleet[j].ReadableName()
	})
}

// updateGroupsLocked files d under its reported group, evicts it from groups it
// left, and prunes groups that became empty.
func (service *Service) updateGroupsLocked(d *Device) []notification {
	if groupID := d.GroupID(); groupID != "" {
		if group, ok := service.groups[groupID]; ok {
			group.AddSpeaker(d)
		} else if group, ok := NewGroup(groupID, d); ok {
			service.groups[groupID] = group
		}
	}

	for _, group := range service.groups {
		if group.Contains(d) {
			group.RemoveIfGroupChanged(d)
		}
	}
	service.pruneEmptyGroupsLocked()
	service.updateGroupSpeakersLocked()

	notes := service.ensureActiveGroupLocked()
	return append(notes, groupsNotification(service.groupViewsLocked()))
}

// updateGroupSpeakersLocked adds every visible device to its group if missing.
func (service *Service) updateGroupSpeakersLocked() {
	for _, d := range service.fleet {
		group, ok := service.groups[d.GroupID()]
		if !ok || group.Contains(d) {
			continue
		}
		group.AddSpeaker(d)
	}
}

func (service *Service) pruneEmptyGroupsLocked() {
	for id, group := range service.groups {
		if group.Len() == 0 {
			delete(service.groups, id)
		}
	}
}

// sortedGroupsLocked orders groups by name, named groups first, then by id.
func (service *Service) sortedGroupsLocked() []*Group {
	groups := make([]*Group, 0, len(service.groups))
	for _, group := range service.groups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		ni, nj := groups[i].Name(), groups[j].Name()
		if (ni == "") != (nj == "") {
			return ni != ""
		}
		if ni != nj {
			return ni < nj
		}
		return groups[i].ID() < groups[j].ID()
	})
	return groups
}

// ensureActiveGroupLocked keeps exactly one active group while any exist.
func (service *Service) ensureActiveGroupLocked() []notification {
	var notes []notification
	var active *Group
	for _, group := range service.sortedGroupsLocked() {
		if !group.Active() {
			continue
		}
		if active == nil {
			active = group
			continue
		}
		group.setActive(false)
		notes = append(notes, groupActiveNotification(group.View()))
	}
	if active != nil {
		return notes
	}

	sorted := service.sortedGroupsLocked()
	if len(sorted) == 0 {
		return notes
	}
	sorted[0].setActive(true)
	return append(notes, groupActiveNotification(sorted[0].View()))
}

func (service *Service) deviceViewsLocked() []DeviceView {
	views := make([]DeviceView, 0, len(service.fleet))
	for _, d := range service.fleet {
		views = append(views, d.View())
	}
	return views
}

func (service *Service) groupViewsLocked() []GroupView {
	groups := service.sortedGroupsLocked()
	views := make([]GroupView, 0, len(groups))
	for _, group := range groups {
		views = append(views, group.View())
	}
	return views
}

// AddDevice attaches a device that was built outside discovery.
func (service *Service) AddDevice(d *Device) {
	service.mu.Lock()
	service.known[d.UDN()] = d
	service.addDeviceLocked(d)
	notes := []notification{fleetNotification(service.deviceViewsLocked())}
	notes = append(notes, service.updateGroupsLocked(d)...)
	service.metrics.setCounts(len(service.fleet), len(service.groups))
	service.unlockAndNotify(notes)
}

// Devices returns the visible fleet sorted by readable name.
func (service *Service) Devices() []*Device {
	service.mu.RLock()
	defer service.mu.RUnlock()
	return append([]*Device(nil), service.fleet...)
}

// DeviceViews snapshots the visible fleet.
func (service *Service) DeviceViews() []DeviceView {
	service.mu.RLock()
	defer service.mu.RUnlock()
	return service.deviceViewsLocked()
}

// Device looks up a visible device by UDN.
func (service *Service) Device(udn string) (*Device, error) {
	service.mu.RLock()
	defer service.mu.RUnlock()
	for _, d := range service.fleet {
		if d.UDN() == udn {
			return d, nil
		}
	}
	return nil, ErrDeviceNotFound
}

// Groups returns groups sorted by name.
func (service *Service) Groups() []*Group {
	service.mu.RLock()
	defer service.mu.RUnlock()
	return service.sortedGroupsLocked()
}

// GroupViews snapshots the groups.
func (service *Service) GroupViews() []GroupView {
	service.mu.RLock()
	defer service.mu.RUnlock()
	return service.groupViewsLocked()
}

func (service *Service) Group(id string) (*Group, error) {
	service.mu.RLock()
	defer service.mu.RUnlock()
	group, ok := service.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// ActiveGroup returns the selected group, or nil when there are no groups.
func (service *Service) ActiveGroup() *Group {
	service.mu.RLock()
	defer service.mu.RUnlock()
	for _, group := range service.sortedGroupsLocked() {
		if group.Active() {
			return group
		}
	}
	return nil
}

// LastSweep returns the most recent sweep summary.
func (service *Service) LastSweep() (SweepResult, bool) {
	service.mu.RLock()
	defer service.mu.RUnlock()
	if service.lastResult == nil {
		return SweepResult{}, false
	}
	return *service.lastResult, true
}

// SetDeviceActive toggles whether a device takes part in speaker-mode commands.
func (service *Service) SetDeviceActive(udn string, active bool) error {
	service.mu.Lock()
	var device *Device
	for _, d := range service.fleet {
		if d.UDN() == udn {
			device = d
			break
		}
	}
	if device == nil {
		service.mu.Unlock()
		return ErrDeviceNotFound
	}
	var notes []notification
	if device.setActive(active) {
		notes = append(notes, deviceActiveNotification(device.View()))
	}
	service.unlockAndNotify(notes)
	return nil
}

// SetGroupActive selects or deselects a group. Selecting one deselects the
// rest; when none is left selected the first group by name is selected.
func (service *Service) SetGroupActive(id string, active bool) error {
	service.mu.Lock()
	target, ok := service.groups[id]
	if !ok {
		service.mu.Unlock()
		return ErrGroupNotFound
	}

	var notes []notification
	if active {
		for _, group := range service.sortedGroupsLocked() {
			if group != target && group.setActive(false) {
				notes = append(notes, groupActiveNotification(group.View()))
			}
		}
	}
	if target.setActive(active) {
		notes = append(notes, groupActiveNotification(target.View()))
	}
	notes = append(notes, service.ensureActiveGroupLocked()...)
	service.unlockAndNotify(notes)
	return nil
}

func (service *Service) activeDevices() []*Device {
	service.mu.RLock()
	defer service.mu.RUnlock()
	devices := make([]*Device, 0, len(service.fleet))
	for _, d := range service.fleet {
		if d.Active() {
			devices = append(devices, d)
		}
	}
	return devices
}

// SetActiveVolume sets every active visible device to volume.
func (service *Service) SetActiveVolume(volume int) int {
	devices := service.activeDevices()
	for _, d := range devices {
		d.SetVolume(volume)
	}
	if len(devices) > 0 {
		service.PublishState()
	}
	return len(devices)
}

// transportActive sends cmd once per group among the active devices. Devices
// without a known group receive it directly.
func (service *Service) transportActive(ctx context.Context, cmd func(context.Context, *Group, *Device) error) (int, error) {
	devices := service.activeDevices()

	service.mu.RLock()
	type target struct {
		group  *Group
		device *Device
	}
	var targets []target
	sent := make(map[string]struct{})
	for _, d := range devices {
		if group, ok := service.groups[d.GroupID()]; ok {
			if _, done := sent["group:"+group.ID()]; done {
				continue
			}
			sent["group:"+group.ID()] = struct{}{}
			targets = append(targets, target{group: group})
			continue
		}
		targets = append(targets, target{device: d})
	}
	service.mu.RUnlock()

	var errs []error
	for _, t := range targets {
		if err := cmd(ctx, t.group, t.device); err != nil {
			errs = append(errs, err)
		}
	}
	if len(targets) > len(errs) {
		service.PublishState()
	}
	return len(targets), errors.Join(errs...)
}

func (service *Service) PlayActive(ctx context.Context) (int, error) {
	return service.transportActive(ctx, func(ctx context.Context, g *Group, d *Device) error {
		if g != nil {
			return g.Play(ctx)
		}
		return d.Play(ctx)
	})
}

func (service *Service) PauseActive(ctx context.Context) (int, error) {
	return service.transportActive(ctx, func(ctx context.Context, g *Group, d *Device) error {
		if g != nil {
			return g.Pause(ctx)
		}
		return d.Pause(ctx)
	})
}

func (service *Service) NextActive(ctx context.Context) (int, error) {
	return service.transportActive(ctx, func(ctx context.Context, g *Group, d *Device) error {
		if g != nil {
			return g.Next(ctx)
		}
		return d.Next(ctx)
	})
}

func (service *Service) PreviousActive(ctx context.Context) (int, error) {
	return service.transportActive(ctx, func(ctx context.Context, g *Group, d *Device) error {
		if g != nil {
			return g.Previous(ctx)
		}
		return d.Previous(ctx)
	})
}

// RefreshDevice re-reads a device's state and refiles it under its group.
func (service *Service) RefreshDevice(ctx context.Context, udn string) (DeviceView, error) {
	device, err := service.Device(udn)
	if err != nil {
		return DeviceView{}, err
	}
	refreshErr := device.RefreshAll(ctx)

	service.mu.Lock()
	notes := []notification{fleetNotification(service.deviceViewsLocked())}
	notes = append(notes, service.updateGroupsLocked(device)...)
	service.unlockAndNotify(notes)

	if refreshErr != nil {
		return device.View(), fmt.Errorf("refresh %s: %w", udn, refreshErr)
	}
	return device.View(), nil
}

// PublishState notifies observers of the current device and group views.
// Commands call it after changing cached volume, mute or play state.
func (service *Service) PublishState() {
	service.mu.Lock()
	notes := []notification{
		fleetNotification(service.deviceViewsLocked()),
		groupsNotification(service.groupViewsLocked()),
	}
	service.unlockAndNotify(notes)
}

// StartPeriodicDiscovery runs a sweep now and then on the configured cron schedule.
func (service *Service) StartPeriodicDiscovery() error {
	service.periodicMu.Lock()
	defer service.periodicMu.Unlock()

	if service.cron != nil {
		return nil
	}

	if service.cfg.RescanSchedule == "" {
		service.logger.Print("Periodic discovery disabled")
		service.SearchForDevices()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(service.cfg.RescanSchedule, func() {
		service.SearchForDevices()
	}); err != nil {
		return fmt.Errorf("invalid RESCAN_SCHEDULE %q: %w", service.cfg.RescanSchedule, err)
	}
	service.SearchForDevices()
	c.Start()
	service.cron = c
	service.logger.Printf("Starting periodic discovery schedule=%q", service.cfg.RescanSchedule)
	return nil
}

// StopPeriodicDiscovery stops scheduled sweeps and aborts the one in flight.
func (service *Service) StopPeriodicDiscovery() {
	service.periodicMu.Lock()
	c := service.cron
	service.cron = nil
	service.periodicMu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	service.StopDiscovery()
}

// IsHealthy is false only when the latest sweep failed and nothing is known.
func (service *Service) IsHealthy() bool {
	service.mu.RLock()
	defer service.mu.RUnlock()
	if service.lastResult != nil && service.lastResult.Outcome == SweepFailed && len(service.fleet) == 0 {
		return false
	}
	return true
}
