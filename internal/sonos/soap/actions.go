package soap

import (
	"context"
	"strconv"
)

// Transport Actions
func (c *Client) GetTransportInfo(ctx context.Context, target Target) (TransportInfo, error) {
	payload, err := c.ExecuteAction(ctx, target, ServiceAVTransport, "GetTransportInfo", map[string]string{
		"InstanceID": "0",
	})
	if err != nil {
		return TransportInfo{}, err
	}
	return parseTransportInfo(payload)
}

func (c *Client) GetPositionInfo(ctx context.Context, target Target) (PositionInfo, error) {
	payload, err := c.ExecuteAction(ctx, target, ServiceAVTransport, "GetPositionInfo", map[string]string{
		"InstanceID": "0",
	})
	if err != nil {
		return PositionInfo{}, err
	}
	return parsePositionInfo(payload)
}

func transportArgs() map[string]string {
	return map[string]string{
		"InstanceID": "0",
		"Speed":      "1",
	}
}

func (c *Client) Play(ctx context.Context, target Target) error {
	_, err := c.ExecuteAction(ctx, target, ServiceAVTransport, "Play", transportArgs())
	return err
}

func (c *Client) Pause(ctx context.Context, target Target) error {
	_, err := c.ExecuteAction(ctx, target, ServiceAVTransport, "Pause", transportArgs())
	return err
}

func (c *Client) Next(ctx context.Context, target Target) error {
	_, err := c.ExecuteAction(ctx, target, ServiceAVTransport, "Next", transportArgs())
	return err
}

func (c *Client) Previous(ctx context.Context, target Target) error {
	_, err := c.ExecuteAction(ctx, target, ServiceAVTransport, "Previous", transportArgs())
	return err
}

// RenderingControl Actions
func (c *Client) GetVolume(ctx context.Context, target Target) (VolumeInfo, error) {
	payload, err := c.ExecuteAction(ctx, target, ServiceRenderingControl, "GetVolume", map[string]string{
		"InstanceID": "0",
		"Channel":    "Master",
	})
	if err != nil {
		return VolumeInfo{}, err
	}
	return parseVolume(payload)
}

func setVolumeArgs(level int) map[string]string {
	return map[string]string{
		"InstanceID":    "0",
		"Channel":       "Master",
		"DesiredVolume": strconv.Itoa(level),
	}
}

func (c *Client) SetVolume(ctx context.Context, target Target, level int) error {
	_, err := c.ExecuteAction(ctx, target, ServiceRenderingControl, "SetVolume", setVolumeArgs(level))
	return err
}

// FireSetVolume issues SetVolume without waiting for the response.
func (c *Client) FireSetVolume(target Target, level int) {
	c.FireAction(target, ServiceRenderingControl, "SetVolume", setVolumeArgs(level))
}

func (c *Client) GetMute(ctx context.Context, target Target) (MuteInfo, error) {
	payload, err := c.ExecuteAction(ctx, target, ServiceRenderingControl, "GetMute", map[string]string{
		"InstanceID": "0",
		"Channel":    "Master",
	})
	if err != nil {
		return MuteInfo{}, err
	}
	return parseMute(payload)
}

func setMuteArgs(mute bool) map[string]string {
	desired := "0"
	if mute {
		desired = "1"
	}
	return map[string]string{
		"InstanceID":  "0",
		"Channel":     "Master",
		"DesiredMute": desired,
	}
}

func (c *Client) SetMute(ctx context.Context, target Target, mute bool) error {
	_, err := c.ExecuteAction(ctx, target, ServiceRenderingControl, "SetMute", setMuteArgs(mute))
	return err
}

// FireSetMute issues SetMute without waiting for the response.
func (c *Client) FireSetMute(target Target, mute bool) {
	c.FireAction(target, ServiceRenderingControl, "SetMute", setMuteArgs(mute))
}

// ZoneGroupTopology Actions
func (c *Client) GetZoneGroupAttributes(ctx context.Context, target Target) (ZoneGroupAttributes, error) {
	payload, err := c.ExecuteAction(ctx, target, ServiceZoneGroupTopology, "GetZoneGroupAttributes", map[string]string{})
	if err != nil {
		return ZoneGroupAttributes{}, err
	}
	return parseZoneGroupAttributes(payload)
}
