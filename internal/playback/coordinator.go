package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/haptic_agent/internal/haptic"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
	"github.com/dgnsrekt/haptic_agent/internal/tabs"
	"golang.org/x/sync/errgroup"
)

// seekThresholdMs is how far a reported time may drift from the expected
// playhead before a time update is treated as a seek.
const seekThresholdMs = 2000

// Device is the coordinator's view of a device adapter.
type Device interface {
	Kind() protocol.DeviceKind
	Connected() bool
	Play(ctx context.Context, timeMs int64, rate float64, loop bool) bool
	Stop(ctx context.Context)
	LoadScript(ctx context.Context, p protocol.ScriptPayload, invert bool) haptic.LoadResult
}

// Resync drives the clock drift-correction schedule while playing.
// The schedule owns its lifetime; Start never ties it to a request.
type Resync interface {
	Start()
	Stop()
}

// Coordinator owns the authoritative PlaybackState and the active
// script. Transport events are admitted by the arbiter, fanned out to
// every connected device, and aggregated best-effort: one device's
// failure never aborts another's playback.
//
// Overlapping async commands are fenced with a request epoch: each
// play/stop bumps the epoch, and a continuation whose epoch has been
// superseded discards its result instead of overwriting newer state.
type Coordinator struct {
	arbiter   *tabs.Arbiter
	devices   []Device
	resync    Resync
	broadcast func()

	nowMs func() int64

	mu           sync.Mutex
	epoch        int64
	state        protocol.PlaybackState
	script       *protocol.ScriptPayload
	inverted     bool
	lastUpdateMs int64
}

// NewCoordinator wires the coordinator. broadcast is invoked after any
// observable state change and must be safe to call from any goroutine.
func NewCoordinator(arbiter *tabs.Arbiter, devices []Device, resync Resync, broadcast func()) *Coordinator {
	return &Coordinator{
		arbiter:   arbiter,
		devices:   devices,
		resync:    resync,
		broadcast: broadcast,
		nowMs:     func() int64 { return time.Now().UnixMilli() },
		state:     protocol.PlaybackState{PlaybackRate: 1, Volume: 1},
	}
}

// HasScript reports whether a script is currently active. Used by the
// arbiter as its admission precondition.
func (c *Coordinator) HasScript() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.script != nil
}

// Script returns the active script, if any.
func (c *Coordinator) Script() (protocol.ScriptPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.script == nil {
		return protocol.ScriptPayload{}, false
	}
	return *c.script, true
}

// Inverted reports the current script inversion flag.
func (c *Coordinator) Inverted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inverted
}

// State returns a copy of the playback state.
func (c *Coordinator) State() protocol.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) admit(tab protocol.TabIdentity) bool {
	return c.arbiter.Admit(tab.TabID, tab.FrameID, tab.URL)
}

func (c *Coordinator) connectedDevices() []Device {
	out := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		if d.Connected() {
			out = append(out, d)
		}
	}
	return out
}

// bumpEpoch invalidates any in-flight command continuation.
func (c *Coordinator) bumpEpoch() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	return c.epoch
}

func (c *Coordinator) epochCurrent(e int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == e
}

// Play starts synchronized playback. Arbiter rejection returns false
// with no side effects; a missing script is a caller error. The state
// transitions to playing only in the continuation, and only when at
// least one device accepted the command.
func (c *Coordinator) Play(ctx context.Context, tab protocol.TabIdentity, p protocol.PlayPayload) (bool, error) {
	if !c.admit(tab) {
		return false, nil
	}
	if !c.HasScript() {
		return false, protocol.NewError(protocol.CodeNoScript, "no script loaded", nil)
	}
	return c.playDevices(ctx, p)
}

func (c *Coordinator) playDevices(ctx context.Context, p protocol.PlayPayload) (bool, error) {
	epoch := c.bumpEpoch()
	devices := c.connectedDevices()

	var successes atomic.Int32
	var strokerAccepted atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		g.Go(func() error {
			if d.Play(gctx, p.TimeMs, p.Rate, p.Loop) {
				successes.Add(1)
				if d.Kind() == protocol.DeviceStroker {
					strokerAccepted.Store(true)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if !c.epochCurrent(epoch) {
		slog.Debug("discarding stale play result", "epoch", epoch)
		return false, nil
	}
	if successes.Load() == 0 {
		return false, nil
	}

	c.mu.Lock()
	c.state.IsPlaying = true
	c.state.CurrentTime = p.TimeMs
	c.state.PlaybackRate = p.Rate
	if p.DurationMs > 0 {
		c.state.DurationMs = p.DurationMs
	}
	c.state.LoopEnabled = p.Loop
	c.lastUpdateMs = c.nowMs()
	c.mu.Unlock()

	// The schedule probes the stroker's clock endpoint, so only a play
	// the stroker accepted arms it. The offset stays undefined while
	// other devices play alone.
	if strokerAccepted.Load() {
		c.resync.Start()
	}
	c.broadcast()
	return true, nil
}

// Stop halts synchronized playback. Idempotent: stopping while stopped
// is accepted and leaves the state unchanged.
func (c *Coordinator) Stop(ctx context.Context, tab protocol.TabIdentity) (bool, error) {
	if !c.admit(tab) {
		return false, nil
	}
	c.stopDevices(ctx)
	return true, nil
}

func (c *Coordinator) stopDevices(ctx context.Context) {
	c.bumpEpoch()
	c.resync.Stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range c.connectedDevices() {
		g.Go(func() error {
			d.Stop(gctx)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	changed := c.state.IsPlaying
	c.state.IsPlaying = false
	c.mu.Unlock()

	if changed {
		c.broadcast()
	}
}

// TimeChanged tracks the video playhead. A jump beyond the expected
// progression while playing is a seek: haptic devices cannot adjust
// mid-flight, so playback restarts at the new position.
func (c *Coordinator) TimeChanged(ctx context.Context, tab protocol.TabIdentity, timeMs int64) bool {
	if !c.admit(tab) {
		return false
	}

	c.mu.Lock()
	playing := c.state.IsPlaying
	expected := c.state.CurrentTime
	if playing && c.lastUpdateMs > 0 {
		expected += int64(float64(c.nowMs()-c.lastUpdateMs) * c.state.PlaybackRate)
	}
	drift := timeMs - expected
	if drift < 0 {
		drift = -drift
	}
	rate := c.state.PlaybackRate
	loop := c.state.LoopEnabled
	c.state.CurrentTime = timeMs
	c.lastUpdateMs = c.nowMs()
	c.mu.Unlock()

	if playing && drift > seekThresholdMs {
		slog.Debug("seek detected, restarting device playback", "drift_ms", drift)
		c.stopDevices(ctx)
		_, _ = c.playDevices(ctx, protocol.PlayPayload{TimeMs: timeMs, Rate: rate, Loop: loop})
	}
	return true
}

// DurationChanged records the video duration.
func (c *Coordinator) DurationChanged(tab protocol.TabIdentity, durationMs int64) bool {
	if !c.admit(tab) {
		return false
	}
	c.mu.Lock()
	c.state.DurationMs = durationMs
	c.mu.Unlock()
	c.broadcast()
	return true
}

// RateChanged records a playback-rate change. Devices cannot hot-swap
// rate, so when playing this is a stop-then-play at the new rate.
func (c *Coordinator) RateChanged(ctx context.Context, tab protocol.TabIdentity, rate float64) bool {
	if !c.admit(tab) {
		return false
	}

	c.mu.Lock()
	playing := c.state.IsPlaying
	timeMs := c.state.CurrentTime
	loop := c.state.LoopEnabled
	c.state.PlaybackRate = rate
	c.mu.Unlock()

	if playing {
		c.stopDevices(ctx)
		_, _ = c.playDevices(ctx, protocol.PlayPayload{TimeMs: timeMs, Rate: rate, Loop: loop})
	} else {
		c.broadcast()
	}
	return true
}

// VolumeChanged is gated like every transport event but carries no
// device command; it only updates the broadcast state.
func (c *Coordinator) VolumeChanged(tab protocol.TabIdentity, volume float64, muted bool) bool {
	if !c.admit(tab) {
		return false
	}
	c.mu.Lock()
	changed := c.state.Volume != volume || c.state.Muted != muted
	c.state.Volume = volume
	c.state.Muted = muted
	c.mu.Unlock()

	if changed {
		slog.Debug("volume changed", "volume", volume, "muted", muted)
		c.broadcast()
	}
	return true
}

// LoadScript distributes a resolved script to every connected device
// and activates it when at least one load succeeded.
func (c *Coordinator) LoadScript(ctx context.Context, payload protocol.ScriptPayload) bool {
	c.mu.Lock()
	invert := c.inverted
	c.mu.Unlock()

	if !c.distribute(ctx, payload, invert) {
		return false
	}

	c.mu.Lock()
	p := payload
	c.script = &p
	c.mu.Unlock()
	c.broadcast()
	return true
}

func (c *Coordinator) distribute(ctx context.Context, payload protocol.ScriptPayload, invert bool) bool {
	var successes atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range c.connectedDevices() {
		g.Go(func() error {
			if d.LoadScript(gctx, payload, invert).Success {
				successes.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return successes.Load() > 0
}

// ToggleInvert flips the inversion flag, reloads the active script on
// every connected device, and restarts playback in place when playing
// so the device pattern matches the flipped curve without a desync
// window. Returns the new flag value.
func (c *Coordinator) ToggleInvert(ctx context.Context) (bool, error) {
	c.mu.Lock()
	c.inverted = !c.inverted
	invert := c.inverted
	script := c.script
	playing := c.state.IsPlaying
	timeMs := c.state.CurrentTime
	rate := c.state.PlaybackRate
	loop := c.state.LoopEnabled
	c.mu.Unlock()

	if script != nil {
		c.distribute(ctx, *script, invert)
		if playing {
			c.stopDevices(ctx)
			_, _ = c.playDevices(ctx, protocol.PlayPayload{TimeMs: timeMs, Rate: rate, Loop: loop})
		}
	}
	c.broadcast()
	return invert, nil
}

// Teardown unloads the script and resets playback. Invoked when the
// controlling tab goes away: an orphaned claim must never leave devices
// running.
func (c *Coordinator) Teardown(ctx context.Context) {
	c.stopDevices(ctx)

	c.mu.Lock()
	c.script = nil
	c.state = protocol.PlaybackState{PlaybackRate: 1, Volume: 1}
	c.mu.Unlock()
	c.broadcast()
}
