package devices

import "time"

// Observer receives fleet and group changes. Calls happen outside the fleet
// lock, in the order the changes were made, and must not block for long.
type Observer interface {
	FleetChanged(devices []DeviceView)
	GroupsChanged(groups []GroupView)
	DeviceActiveChanged(device DeviceView)
	GroupActiveChanged(group GroupView)
}

// SweepObserver is implemented by observers that also want sweep summaries.
type SweepObserver interface {
	SweepCompleted(result SweepResult)
}

// Sweep outcomes.
const (
	SweepCompleted = "completed"
	SweepAborted   = "aborted"
	SweepFailed    = "failed"
)

// SweepResult summarizes one discovery sweep.
type SweepResult struct {
	Generation  uint64    `json:"generation"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Outcome     string    `json:"outcome"`
	Found       []string  `json:"found"`
	Added       []string  `json:"added"`
	Removed     []string  `json:"removed"`
	DeviceCount int       `json:"device_count"`
	GroupCount  int       `json:"group_count"`
	Error       string    `json:"error,omitempty"`
}

// Duration is FinishedAt minus StartedAt.
func (r SweepResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ObserverFuncs adapts plain functions to Observer and SweepObserver. Nil fields are skipped.
type ObserverFuncs struct {
	OnFleetChanged        func([]DeviceView)
	OnGroupsChanged       func([]GroupView)
	OnDeviceActiveChanged func(DeviceView)
	OnGroupActiveChanged  func(GroupView)
	OnSweepCompleted      func(SweepResult)
}

func (f ObserverFuncs) FleetChanged(devices []DeviceView) {
	if f.OnFleetChanged != nil {
		f.OnFleetChanged(devices)
	}
}

func (f ObserverFuncs) GroupsChanged(groups []GroupView) {
	if f.OnGroupsChanged != nil {
		f.OnGroupsChanged(groups)
	}
}

func (f ObserverFuncs) DeviceActiveChanged(device DeviceView) {
	if f.OnDeviceActiveChanged != nil {
		f.OnDeviceActiveChanged(device)
	}
}

func (f ObserverFuncs) GroupActiveChanged(group GroupView) {
	if f.OnGroupActiveChanged != nil {
		f.OnGroupActiveChanged(group)
	}
}

func (f ObserverFuncs) SweepCompleted(result SweepResult) {
	if f.OnSweepCompleted != nil {
		f.OnSweepCompleted(result)
	}
}

// notification is a deferred observer call queued while the fleet lock is held.
type notification func(Observer)

func fleetNotification(views []DeviceView) notification {
	return func(o Observer) { o.FleetChanged(views) }
}

func groupsNotification(views []GroupView) notification {
	return func(o Observer) { o.GroupsChanged(views) }
}

func deviceActiveNotification(view DeviceView) notification {
	return func(o Observer) { o.DeviceActiveChanged(view) }
}

func groupActiveNotification(view GroupView) notification {
	return func(o Observer) { o.GroupActiveChanged(view) }
}
