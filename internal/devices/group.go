package devices

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Group is a set of players sharing a group id. Members are references into
// the fleet; the group never owns them.
type Group struct {
	id string

	mu        sync.RWMutex
	name      string
	memberIDs []string
	members   map[string]*Device
	active    bool
}

// NewGroup creates a group seeded with first. It returns false when first does
// not report id as its group.
func NewGroup(id string, first *Device) (*Group, bool) {
	group := &Group{id: id, members: make(map[string]*Device)}
	if !group.AddSpeaker(first) {
		return nil, false
	}
	return group, true
}

func (g *Group) ID() string {
	return g.id
}

func (g *Group) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

// MemberIDs is the canonical member order from the latest member's group state.
func (g *Group) MemberIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.memberIDs...)
}

func (g *Group) Active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

func (g *Group) setActive(active bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	changed := g.active != active
	g.active = active
	return changed
}

// Equal compares group ids.
func (g *Group) Equal(other *Group) bool {
	if g == nil || other == nil {
		return g == other
	}
	return g.id == other.id
}

// AddSpeaker inserts d if it reports this group's id, adopting its group name
// when non-empty and its member order when known.
func (g *Group) AddSpeaker(d *Device) bool {
	if d == nil {
		return false
	}
	state := d.GroupState()
	if state == nil || state.GroupID != g.id {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[d.UDN()] = d
	if state.Name != "" {
		g.name = state.Name
	}
	if len(state.MemberIDs) > 0 {
		g.memberIDs = state.MemberIDs
	}
	return true
}

// RemoveIfGroupChanged evicts d when it now reports a different group.
func (g *Group) RemoveIfGroupChanged(d *Device) bool {
	if d.GroupID() == g.id {
		return false
	}
	return g.Remove(d)
}

// Remove evicts d unconditionally.
func (g *Group) Remove(d *Device) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[d.UDN()]; !ok {
		return false
	}
	delete(g.members, d.UDN())
	return true
}

func (g *Group) Contains(d *Device) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[d.UDN()]
	return ok
}

func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Members returns the members ordered by UDN.
func (g *Group) Members() []*Device {
	g.mu.RLock()
	members := make([]*Device, 0, len(g.members))
	for _, member := range g.members {
		members = append(members, member)
	}
	g.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		return members[i].UDN() < members[j].UDN()
	})
	return members
}

// Coordinator is the member whose local id heads the canonical member list,
// or nil when no member matches.
func (g *Group) Coordinator() *Device {
	memberIDs := g.MemberIDs()
	if len(memberIDs) == 0 {
		return nil
	}
	for _, member := range g.Members() {
		if uid := member.LocalUID(); uid != "" && uid == memberIDs[0] {
			return member
		}
	}
	return nil
}

// Leader is the coordinator, falling back to the member with the lowest UDN.
func (g *Group) Leader() *Device {
	if coordinator := g.Coordinator(); coordinator != nil {
		return coordinator
	}
	members := g.Members()
	if len(members) == 0 {
		return nil
	}
	return members[0]
}

// AggregateVolume is the integer mean of member volumes, never below 1.
func (g *Group) AggregateVolume() int {
	members := g.Members()
	if len(members) == 0 {
		return 1
	}
	total := 0
	for _, member := range members {
		total += member.Volume()
	}
	return max(total/len(members), 1)
}

// SetVolume shifts every member by target minus the current aggregate,
// keeping each member at 1 or above.
func (g *Group) SetVolume(target int) {
	delta := clampVolume(target) - g.AggregateVolume()
	if delta == 0 {
		return
	}
	for _, member := range g.Members() {
		member.SetVolume(max(member.Volume()+delta, 1))
	}
}

// PlayState is the leader's play state.
func (g *Group) PlayState() PlayState {
	if leader := g.Leader(); leader != nil {
		return leader.PlayState()
	}
	return PlayStateUnset
}

// CurrentTrack is the leader's track.
func (g *Group) CurrentTrack() *TrackInfo {
	if leader := g.Leader(); leader != nil {
		return leader.Track()
	}
	return nil
}

// dispatch sends cmd to the coordinator, or to every member when there is none.
func (g *Group) dispatch(ctx context.Context, cmd func(*Device, context.Context) error) error {
	if coordinator := g.Coordinator(); coordinator != nil {
		return cmd(coordinator, ctx)
	}
	var errs []error
	for _, member := range g.Members() {
		if err := cmd(member, ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Group) Play(ctx context.Context) error {
	return g.dispatch(ctx, (*Device).Play)
}

func (g *Group) Pause(ctx context.Context) error {
	return g.dispatch(ctx, (*Device).Pause)
}

func (g *Group) Next(ctx context.Context) error {
	return g.dispatch(ctx, (*Device).Next)
}

func (g *Group) Previous(ctx context.Context) error {
	return g.dispatch(ctx, (*Device).Previous)
}

func (g *Group) SetMute(ctx context.Context, mute bool) error {
	return g.dispatch(ctx, func(d *Device, ctx context.Context) error {
		return d.SetMute(ctx, mute)
	})
}

// GroupView is an immutable snapshot of a group.
type GroupView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	MemberIDs      []string   `json:"member_ids"`
	Members        []string   `json:"members"`
	CoordinatorUDN string     `json:"coordinator_udn,omitempty"`
	Volume         int        `json:"volume"`
	PlayState      PlayState  `json:"play_state"`
	Track          *TrackView `json:"track"`
	Active         bool       `json:"active"`
}

// View snapshots the group.
func (g *Group) View() GroupView {
	members := g.Members()
	udns := make([]string, 0, len(members))
	for _, member := range members {
		udns = append(udns, member.UDN())
	}
	view := GroupView{
		ID:        g.id,
		Name:      g.Name(),
		MemberIDs: g.MemberIDs(),
		Members:   udns,
		Volume:    g.AggregateVolume(),
		PlayState: g.PlayState(),
		Track:     g.CurrentTrack().View(),
		Active:    g.Active(),
	}
	if view.MemberIDs == nil {
		view.MemberIDs = []string{}
	}
	if coordinator := g.Coordinator(); coordinator != nil {
		view.CoordinatorUDN = coordinator.UDN()
	}
	return view
}
