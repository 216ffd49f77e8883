package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

// StaticDiscoverer reports a fixed list of player addresses, for networks
// where multicast does not reach the players.
type StaticDiscoverer struct {
	IPs  []string
	Port int
}

// StartDiscovery emits one event per configured IP and ends the session.
func (d *StaticDiscoverer) StartDiscovery(ctx context.Context, _ SearchTarget, timeout time.Duration) (*Session, error) {
	port := d.Port
	if port <= 0 {
		port = 1400
	}
	ips := append([]string(nil), d.IPs...)

	return NewSession(ctx, timeout, func(ctx context.Context, emit func(Event)) {
		for _, ip := range ips {
			if ctx.Err() != nil {
				return
			}
			location := "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + "/xml/device_description.xml"
			emit(Event{Location: location, USN: "static:" + ip, Source: "static"})
		}
	}), nil
}

// MultiDiscoverer fans in several backends and drops repeated locations.
type MultiDiscoverer struct {
	Backends []Discoverer
}

// StartDiscovery starts every backend. Backends that fail to start are skipped
// unless all of them fail.
func (d *MultiDiscoverer) StartDiscovery(ctx context.Context, target SearchTarget, timeout time.Duration) (*Session, error) {
	var sessions []*Session
	var firstErr error
	for _, backend := range d.Backends {
		session, err := backend.StartDiscovery(ctx, target, timeout)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sessions = append(sessions, session)
	}
	if len(sessions) == 0 && firstErr != nil {
		return nil, firstErr
	}

	return NewSession(ctx, timeout, func(ctx context.Context, emit func(Event)) {
		merged := make(chan Event)
		var wg sync.WaitGroup
		for _, session := range sessions {
			wg.Add(1)
			go func(session *Session) {
				defer wg.Done()
				for event := range session.Events() {
					select {
					case merged <- event:
					case <-ctx.Done():
						return
					}
				}
			}(session)
		}

		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()

		seen := make(map[string]struct{})
		for {
			select {
			case <-ctx.Done():
				for _, session := range sessions {
					session.Close()
				}
				return
			case event := <-merged:
				if _, ok := seen[event.Location]; ok {
					continue
				}
				seen[event.Location] = struct{}{}
				emit(event)
			case <-finished:
				return
			}
		}
	}), nil
}
