package discovery

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"time"
)

const ssdpAddr = "239.255.255.250:1900"

// SSDPDiscoverer sends multi-pass M-SEARCH requests and streams unique responses.
type SSDPDiscoverer struct {
	Passes       int
	PassInterval time.Duration
	logger       *log.Logger
}

// NewSSDPDiscoverer creates an SSDP backend.
func NewSSDPDiscoverer(passes int, passInterval time.Duration, logger *log.Logger) *SSDPDiscoverer {
	if logger == nil {
		logger = log.Default()
	}
	if passes <= 0 {
		passes = 1
	}
	return &SSDPDiscoverer{Passes: passes, PassInterval: passInterval, logger: logger}
}

// StartDiscovery opens the multicast socket and begins searching.
func (d *SSDPDiscoverer) StartDiscovery(ctx context.Context, target SearchTarget, timeout time.Duration) (*Session, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return NewSession(ctx, timeout, func(ctx context.Context, emit func(Event)) {
		defer conn.Close()
		d.search(ctx, conn, addr, target.String(), emit)
	}), nil
}

func (d *SSDPDiscoverer) search(ctx context.Context, conn net.PacketConn, addr *net.UDPAddr, st string, emit func(Event)) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	// Unblock ReadFrom when the session is closed early.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	// The passes must stop before the caller closes conn.
	passCtx, cancelPasses := context.WithCancel(ctx)
	passesDone := make(chan struct{})
	defer func() {
		cancelPasses()
		<-passesDone
	}()

	go func() {
		defer close(passesDone)
		for pass := 0; pass < d.Passes; pass++ {
			if err := sendSearch(conn, addr, st); err != nil {
				if passCtx.Err() == nil && !errors.Is(err, net.ErrClosed) {
					d.logger.Printf("SSDP: M-SEARCH pass %d failed: %v", pass+1, err)
				}
				return
			}
			if pass < d.Passes-1 {
				select {
				case <-passCtx.Done():
					return
				case <-time.After(d.PassInterval):
				}
			}
		}
	}()

	seen := make(map[string]struct{})
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}
			if ctx.Err() == nil {
				d.logger.Printf("SSDP: read failed: %v", err)
			}
			return
		}

		resp := parseResponse(string(buf[:n]))
		if resp.Location == "" || resp.USN == "" {
			continue
		}

		// Deduplicate by USN
		if _, exists := seen[resp.USN]; exists {
			continue
		}
		seen[resp.USN] = struct{}{}
		emit(Event{Location: resp.Location, USN: resp.USN, Source: "ssdp"})
	}
}

type response struct {
	Location string
	USN      string
	ST       string
}

func sendSearch(conn net.PacketConn, addr *net.UDPAddr, st string) error {
	msg := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpAddr,
		"MAN: \"ssdp:discover\"",
		"MX: 2",
		"ST: " + st,
		"",
		"",
	}, "\r\n")

	_, err := conn.WriteTo([]byte(msg), addr)
	return err
}

func parseResponse(raw string) response {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	headers := make(map[string]string)

	// Skip status line
	scanner.Scan()

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		headers[key] = strings.TrimSpace(parts[1])
	}

	return response{
		Location: headers["LOCATION"],
		USN:      headers["USN"],
		ST:       headers["ST"],
	}
}
