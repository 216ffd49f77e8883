package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const sonosMDNSService = "_sonos._tcp"

// MDNSDiscoverer browses the Sonos mDNS service. Players advertise their
// description URL in a "location=" TXT record; otherwise one is built from
// the advertised IPv4 address and DescriptionPort.
type MDNSDiscoverer struct {
	DescriptionPort int
	logger          *log.Logger
}

// NewMDNSDiscoverer creates an mDNS backend.
func NewMDNSDiscoverer(descriptionPort int, logger *log.Logger) *MDNSDiscoverer {
	if logger == nil {
		logger = log.Default()
	}
	if descriptionPort <= 0 {
		descriptionPort = 1400
	}
	return &MDNSDiscoverer{DescriptionPort: descriptionPort, logger: logger}
}

// StartDiscovery browses until the timeout elapses. The target is implied by the service name.
func (d *MDNSDiscoverer) StartDiscovery(ctx context.Context, _ SearchTarget, timeout time.Duration) (*Session, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	return NewSession(ctx, timeout, func(ctx context.Context, emit func(Event)) {
		entries := make(chan *zeroconf.ServiceEntry)
		if err := resolver.Browse(ctx, sonosMDNSService, "local.", entries); err != nil {
			d.logger.Printf("MDNS: browse failed: %v", err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				location := d.locationFor(entry)
				if location == "" {
					continue
				}
				emit(Event{Location: location, USN: entry.Instance, Source: "mdns"})
			}
		}
	}), nil
}

func (d *MDNSDiscoverer) locationFor(entry *zeroconf.ServiceEntry) string {
	for _, txt := range entry.Text {
		if value, ok := strings.CutPrefix(txt, "location="); ok && value != "" {
			return value
		}
	}
	if len(entry.AddrIPv4) == 0 {
		return ""
	}
	return descriptionURL(entry.AddrIPv4[0], d.DescriptionPort)
}

func descriptionURL(ip net.IP, port int) string {
	return "http://" + net.JoinHostPort(ip.String(), strconv.Itoa(port)) + "/xml/device_description.xml"
}
