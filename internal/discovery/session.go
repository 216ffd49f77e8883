package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SearchTarget is an SSDP device-type search target.
type SearchTarget struct {
	Schema     string
	DeviceType string
	Version    int
}

// UPnPOrgSchema is the schema namespace of standard UPnP device types.
const UPnPOrgSchema = "schemas-upnp-org"

// ZonePlayerTarget matches Sonos players.
var ZonePlayerTarget = SearchTarget{Schema: UPnPOrgSchema, DeviceType: "ZonePlayer", Version: 1}

func (t SearchTarget) String() string {
	return fmt.Sprintf("urn:%s:device:%s:%d", t.Schema, t.DeviceType, t.Version)
}

// Event reports that a device answered at Location.
type Event struct {
	Location string
	USN      string
	Source   string
}

// Discoverer starts time-bounded discovery sessions.
type Discoverer interface {
	StartDiscovery(ctx context.Context, target SearchTarget, timeout time.Duration) (*Session, error)
}

// Producer feeds a session until ctx is done. Returning early ends the session early.
type Producer func(ctx context.Context, emit func(Event))

// Session is one bounded discovery run. Events is closed when the timeout
// elapses, the parent context is cancelled, Close is called, or the producer returns.
type Session struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSession runs producer under a timeout derived from ctx.
func NewSession(ctx context.Context, timeout time.Duration, producer Producer) *Session {
	sessionCtx, cancel := context.WithTimeout(ctx, timeout)
	session := &Session{
		events: make(chan Event, 32),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(session.done)
		defer close(session.events)
		defer cancel()
		producer(sessionCtx, func(event Event) {
			select {
			case session.events <- event:
			case <-sessionCtx.Done():
			}
		})
	}()

	return session
}

// Events streams discovered devices.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Close aborts the session and waits for the producer to stop.
func (s *Session) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once the producer has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
