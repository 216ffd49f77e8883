package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Prober fetches description documents and zone status over HTTP.
type Prober struct {
	httpClient *http.Client
}

// NewProber creates a prober whose requests time out after timeout.
func NewProber(timeout time.Duration) *Prober {
	return &Prober{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout: timeout,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// FetchDescription GETs the discovery location and parses root/device.
func (p *Prober) FetchDescription(ctx context.Context, location string) (Description, error) {
	body, err := p.get(ctx, location)
	if err != nil {
		return Description{}, err
	}
	return ParseDeviceDescription(body)
}

// FetchDeviceInfo GETs /status/zp from the player.
func (p *Prober) FetchDeviceInfo(ctx context.Context, ip string, port int) (ZoneInfo, error) {
	url := "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + "/status/zp"
	body, err := p.get(ctx, url)
	if err != nil {
		return ZoneInfo{}, err
	}
	return ParseZoneInfo(body)
}

func (p *Prober) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: http %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
