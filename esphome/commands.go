package esphome

import "github.com/esphome-go/native-api/esphome/api"

// SwitchCommand sets a switch entity's on/off state.
func (c *Client) SwitchCommand(key uint32, state bool) error {
	return c.conn.SendMessage(api.SwitchCommandRequest{Key: key, State: state})
}

// LightCommandOption mutates a LightCommandRequest being built by
// LightCommand.
type LightCommandOption func(*api.LightCommandRequest)

// LightState sets the on/off state.
func LightState(on bool) LightCommandOption {
	return func(r *api.LightCommandRequest) { r.HasState, r.State = true, on }
}

// LightBrightness sets brightness in [0, 1].
func LightBrightness(v float32) LightCommandOption {
	return func(r *api.LightCommandRequest) { r.HasBrightness, r.Brightness = true, v }
}

// LightRGB sets the RGB channels, each in [0, 1].
func LightRGB(red, green, blue float32) LightCommandOption {
	return func(r *api.LightCommandRequest) {
		r.HasRGB, r.Red, r.Green, r.Blue = true, red, green, blue
	}
}

// LightColorTemperature sets the color temperature in mireds.
func LightColorTemperature(mireds float32) LightCommandOption {
	return func(r *api.LightCommandRequest) { r.HasColorTemperature, r.ColorTemperature = true, mireds }
}

// LightTransition sets the transition length in milliseconds.
func LightTransition(ms uint32) LightCommandOption {
	return func(r *api.LightCommandRequest) { r.HasTransitionLength, r.TransitionLength = true, ms }
}

// LightEffect selects a named effect.
func LightEffect(name string) LightCommandOption {
	return func(r *api.LightCommandRequest) { r.HasEffect, r.Effect = true, name }
}

// LightCommand sends a light command built from opts, each setting one
// optional field plus its companion has_* flag (spec.md §4.5).
func (c *Client) LightCommand(key uint32, opts ...LightCommandOption) error {
	req := api.LightCommandRequest{Key: key}
	for _, opt := range opts {
		opt(&req)
	}
	return c.conn.SendMessage(req)
}

// FanCommandOption mutates a FanCommandRequest being built by FanCommand.
type FanCommandOption func(*api.FanCommandRequest)

// FanState sets the on/off state.
func FanState(on bool) FanCommandOption {
	return func(r *api.FanCommandRequest) { r.HasState, r.State = true, on }
}

// FanSpeedLevel sets the discrete speed level.
func FanSpeedLevel(level int32) FanCommandOption {
	return func(r *api.FanCommandRequest) { r.HasSpeedLevel, r.SpeedLevel = true, level }
}

// FanOscillating sets the oscillation state.
func FanOscillating(on bool) FanCommandOption {
	return func(r *api.FanCommandRequest) { r.HasOscillating, r.Oscillating = true, on }
}

// FanDirection sets the rotation direction.
func FanDirection(direction uint32) FanCommandOption {
	return func(r *api.FanCommandRequest) { r.HasDirection, r.Direction = true, direction }
}

// FanCommand sends a fan command built from opts.
func (c *Client) FanCommand(key uint32, opts ...FanCommandOption) error {
	req := api.FanCommandRequest{Key: key}
	for _, opt := range opts {
		opt(&req)
	}
	return c.conn.SendMessage(req)
}

// CoverCommandOption mutates a CoverCommandRequest being built by
// CoverCommand.
type CoverCommandOption func(*api.CoverCommandRequest)

// CoverPosition sets the target position in [0, 1] (1 = fully open).
func CoverPosition(pos float32) CoverCommandOption {
	return func(r *api.CoverCommandRequest) { r.HasPosition, r.Position = true, pos }
}

// CoverTilt sets the target tilt in [0, 1].
func CoverTilt(tilt float32) CoverCommandOption {
	return func(r *api.CoverCommandRequest) { r.HasTilt, r.Tilt = true, tilt }
}

// CoverStop issues a stop command.
func CoverStop() CoverCommandOption {
	return func(r *api.CoverCommandRequest) { r.Stop = true }
}

// CoverCommand sends a cover command built from opts.
func (c *Client) CoverCommand(key uint32, opts ...CoverCommandOption) error {
	req := api.CoverCommandRequest{Key: key}
	for _, opt := range opts {
		opt(&req)
	}
	return c.conn.SendMessage(req)
}
