package haptic

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

// Change is pushed to the hub whenever an adapter's observable state
// moves: connection status, device info, or a device-tagged error.
type Change struct {
	Kind protocol.DeviceKind
	Err  string
}

// Adapter is a thin state holder over one vendor SDK handle. The handle
// is constructed lazily on first connect and kept for the adapter's
// lifetime; later connects merely reconfigure it, preserving vendor-side
// connection pooling. Vendor events are subscribed exactly once, at
// handle construction. Vendor errors never reject a call a caller is
// awaiting elsewhere: they surface as device-tagged broadcast strings.
type Adapter struct {
	kind    protocol.DeviceKind
	factory func() SDK
	persist func(kind protocol.DeviceKind, s protocol.DeviceSettings)
	notify  func(Change)

	mu       sync.Mutex
	sdk      SDK
	unsub    func()
	status   protocol.ConnStatus
	info     *protocol.DeviceInfo
	settings protocol.DeviceSettings
}

// NewAdapter creates an adapter for one device kind. factory builds the
// vendor SDK handle on first use; persist and notify may not be nil.
func NewAdapter(kind protocol.DeviceKind, factory func() SDK, persist func(protocol.DeviceKind, protocol.DeviceSettings), notify func(Change)) *Adapter {
	return &Adapter{
		kind:     kind,
		factory:  factory,
		persist:  persist,
		notify:   notify,
		status:   protocol.StatusDisconnected,
		settings: protocol.DefaultDeviceSettings(),
	}
}

func (a *Adapter) Kind() protocol.DeviceKind { return a.kind }

func (a *Adapter) Status() protocol.ConnStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Adapter) Connected() bool {
	return a.Status() == protocol.StatusConnected
}

func (a *Adapter) Info() *protocol.DeviceInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

func (a *Adapter) Settings() protocol.DeviceSettings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// SetSettings seeds settings restored from persistence, without a save.
func (a *Adapter) SetSettings(s protocol.DeviceSettings) {
	a.mu.Lock()
	a.settings = s
	a.mu.Unlock()
}

// handle returns the SDK, constructing and subscribing it on first use.
func (a *Adapter) handle() SDK {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sdk == nil {
		a.sdk = a.factory()
		a.unsub = a.sdk.Subscribe(a.onEvent)
	}
	return a.sdk
}

// Connect establishes (or reconfigures) the vendor connection. Vendor
// failures are reported as false plus a broadcast error, not an error
// return: haptic connectivity is secondary to whatever the caller does.
func (a *Adapter) Connect(ctx context.Context, cfg SDKConfig) bool {
	sdk := a.handle()

	a.setStatus(protocol.StatusConnecting)
	ok, err := sdk.Connect(ctx, cfg)
	if err != nil {
		a.setStatus(protocol.StatusError)
		a.reportError(err.Error())
		return false
	}
	if !ok {
		a.setStatus(protocol.StatusDisconnected)
		a.notify(Change{Kind: a.kind})
		return false
	}

	a.setStatus(protocol.StatusConnected)

	if info, err := sdk.DeviceInfo(ctx); err == nil && info != nil {
		a.mu.Lock()
		a.info = info
		a.mu.Unlock()
	}
	if err := sdk.UpdateConfig(ctx, a.Settings()); err != nil {
		slog.Debug("settings push after connect failed", "device", a.kind, "error", err)
	}

	a.notify(Change{Kind: a.kind})
	return true
}

// Disconnect tears the vendor connection down. Always reports success:
// a user-initiated disconnect must never appear to fail.
func (a *Adapter) Disconnect(ctx context.Context) bool {
	a.mu.Lock()
	sdk := a.sdk
	a.mu.Unlock()
	if sdk != nil {
		if _, err := sdk.Disconnect(ctx); err != nil {
			slog.Debug("vendor disconnect failed", "device", a.kind, "error", err)
		}
	}
	a.setStatus(protocol.StatusDisconnected)
	a.notify(Change{Kind: a.kind})
	return true
}

// UpdateSettings merges the patch, persists it, and pushes it to a
// connected device.
func (a *Adapter) UpdateSettings(ctx context.Context, patch protocol.SettingsPatch) bool {
	a.mu.Lock()
	patch.Apply(&a.settings)
	settings := a.settings
	sdk := a.sdk
	connected := a.status == protocol.StatusConnected
	a.mu.Unlock()

	a.persist(a.kind, settings)

	if connected && sdk != nil {
		if err := sdk.UpdateConfig(ctx, settings); err != nil {
			a.reportError(err.Error())
			return false
		}
	}
	a.notify(Change{Kind: a.kind})
	return true
}

// LoadScript pushes a resolved script to the device.
func (a *Adapter) LoadScript(ctx context.Context, payload protocol.ScriptPayload, invert bool) LoadResult {
	if !a.Connected() {
		return LoadResult{}
	}
	res, err := a.handle().LoadScript(ctx, payload, invert)
	if err != nil {
		a.reportError(err.Error())
		return LoadResult{}
	}
	return res
}

// Play starts device playback at the given video time, shifted by the
// device's configured offset. Best-effort: failures are reported via
// broadcast and returned as false, never as an error.
func (a *Adapter) Play(ctx context.Context, timeMs int64, rate float64, loop bool) bool {
	if !a.Connected() {
		return false
	}
	offset := int64(a.Settings().OffsetMs)
	ok, err := a.handle().Play(ctx, timeMs+offset, rate, loop)
	if err != nil {
		a.reportError(err.Error())
		return false
	}
	return ok
}

// Stop halts device playback. Failures are swallowed and logged.
func (a *Adapter) Stop(ctx context.Context) {
	a.mu.Lock()
	sdk := a.sdk
	connected := a.status == protocol.StatusConnected
	a.mu.Unlock()
	if !connected || sdk == nil {
		return
	}
	if err := sdk.Stop(ctx); err != nil {
		slog.Debug("device stop failed", "device", a.kind, "error", err)
	}
}

// Scan enumerates devices attached to the vendor, when supported.
func (a *Adapter) Scan(ctx context.Context) ([]protocol.DeviceInfo, error) {
	sdk := a.handle()
	scanner, ok := sdk.(Scanner)
	if !ok {
		return nil, protocol.NewError(protocol.CodeValidation,
			string(a.kind)+" does not support device scanning", nil)
	}
	return scanner.Scan(ctx)
}

// Close unsubscribes from vendor events. Called on agent shutdown.
func (a *Adapter) Close() {
	a.mu.Lock()
	unsub := a.unsub
	a.unsub = nil
	a.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (a *Adapter) setStatus(s protocol.ConnStatus) {
	a.mu.Lock()
	a.status = s
	if s != protocol.StatusConnected {
		a.info = nil
	}
	a.mu.Unlock()
}

func (a *Adapter) reportError(msg string) {
	tagged := a.kind.Label() + ": " + msg
	slog.Warn("device error", "device", a.kind, "error", msg)
	a.notify(Change{Kind: a.kind, Err: tagged})
}

// onEvent handles vendor events. Registered once, at SDK construction.
func (a *Adapter) onEvent(evt Event) {
	switch evt.Type {
	case EventConnected:
		a.setStatus(protocol.StatusConnected)
		a.notify(Change{Kind: a.kind})
	case EventDisconnected:
		a.setStatus(protocol.StatusDisconnected)
		a.notify(Change{Kind: a.kind})
	case EventError:
		a.reportError(evt.Message)
	case EventDeviceAdded, EventDeviceRemoved, EventPlaybackChanged:
		a.notify(Change{Kind: a.kind})
	}
}
