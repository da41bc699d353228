package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/haptic_agent/internal/clock"
	"github.com/dgnsrekt/haptic_agent/internal/haptic"
	"github.com/dgnsrekt/haptic_agent/internal/playback"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
	"github.com/dgnsrekt/haptic_agent/internal/script"
	"github.com/dgnsrekt/haptic_agent/internal/storage"
	"github.com/dgnsrekt/haptic_agent/internal/tabs"
)

// Deps carries everything the hub composes over.
type Deps struct {
	Adapters  map[protocol.DeviceKind]*haptic.Adapter
	Resolver  *script.Resolver
	Settings  *storage.Store
	Clock     *clock.Synchronizer
	Scheduler *clock.Scheduler
	Broker    *Broker
}

// Hub is the single dispatch point for every request from a session or
// UI surface. It owns the tab arbiter and the playback coordinator, and
// it is the only component that composes the broadcast envelope.
//
// Dispatch never panics outward and never returns a Go error: every
// outcome crosses the message boundary as a Response.
type Hub struct {
	adapters  map[protocol.DeviceKind]*haptic.Adapter
	resolver  *script.Resolver
	settings  *storage.Store
	clock     *clock.Synchronizer
	scheduler *clock.Scheduler
	broker    *Broker

	arbiter *tabs.Arbiter
	coord   *playback.Coordinator
}

// New wires the hub, its arbiter, and its coordinator.
func New(d Deps) *Hub {
	h := &Hub{
		adapters:  d.Adapters,
		resolver:  d.Resolver,
		settings:  d.Settings,
		clock:     d.Clock,
		scheduler: d.Scheduler,
		broker:    d.Broker,
	}

	h.arbiter = tabs.NewArbiter(func() bool { return h.coord.HasScript() })

	devices := make([]playback.Device, 0, len(d.Adapters))
	for _, kind := range protocol.Kinds() {
		if a, ok := d.Adapters[kind]; ok {
			devices = append(devices, a)
		}
	}
	h.coord = playback.NewCoordinator(h.arbiter, devices, d.Scheduler, h.Broadcast)
	return h
}

// Dispatch routes one request to its handler. The switch is exhaustive
// over the request vocabulary; anything else is an unknown-request
// error, and a handler panic is converted to an error response so a
// malformed message can never take the agent down.
func (h *Hub) Dispatch(ctx context.Context, req protocol.Request) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch panic", "type", req.Type, "panic", r)
			resp = protocol.ErrorResponse("internal error")
		}
	}()

	switch req.Type {
	case protocol.ReqConnect:
		return h.handleConnect(ctx, req)
	case protocol.ReqDisconnect:
		return h.handleDisconnect(ctx, req)
	case protocol.ReqUpdateSettings:
		return h.handleUpdateSettings(ctx, req)
	case protocol.ReqLoadScript:
		return h.handleLoadScript(ctx, req)
	case protocol.ReqToggleInvert:
		inverted, err := h.coord.ToggleInvert(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return protocol.DataResponse(map[string]bool{"inverted": inverted})
	case protocol.ReqPlay:
		if req.Play == nil {
			return errorResponse(protocol.NewError(protocol.CodeValidation, "play request has no payload", nil))
		}
		ok, err := h.coord.Play(ctx, req.Tab, *req.Play)
		if err != nil {
			return errorResponse(err)
		}
		return protocol.OKResponse(ok)
	case protocol.ReqStop:
		ok, err := h.coord.Stop(ctx, req.Tab)
		if err != nil {
			return errorResponse(err)
		}
		return protocol.OKResponse(ok)
	case protocol.ReqTimeChanged:
		if req.TimeMs == nil {
			return errorResponse(protocol.NewError(protocol.CodeValidation, "time_changed request has no time", nil))
		}
		return protocol.OKResponse(h.coord.TimeChanged(ctx, req.Tab, *req.TimeMs))
	case protocol.ReqDurationChanged:
		if req.TimeMs == nil {
			return errorResponse(protocol.NewError(protocol.CodeValidation, "duration_changed request has no duration", nil))
		}
		return protocol.OKResponse(h.coord.DurationChanged(req.Tab, *req.TimeMs))
	case protocol.ReqRateChanged:
		if req.Rate == nil {
			return errorResponse(protocol.NewError(protocol.CodeValidation, "rate_changed request has no rate", nil))
		}
		return protocol.OKResponse(h.coord.RateChanged(ctx, req.Tab, *req.Rate))
	case protocol.ReqVolumeChanged:
		if req.Volume == nil {
			return errorResponse(protocol.NewError(protocol.CodeValidation, "volume_changed request has no payload", nil))
		}
		return protocol.OKResponse(h.coord.VolumeChanged(req.Tab, req.Volume.Volume, req.Volume.Muted))
	case protocol.ReqGetState:
		return protocol.DataResponse(h.StateSnapshot())
	case protocol.ReqGetDeviceInfo:
		return h.handleGetDeviceInfo(req)
	case protocol.ReqAutoConnect:
		return h.handleAutoConnect(ctx)
	case protocol.ReqScanDevices:
		return h.handleScanDevices(ctx, req)
	}
	return errorResponse(protocol.NewError(protocol.CodeUnknownRequest,
		fmt.Sprintf("unknown request type %q", req.Type), nil))
}

func (h *Hub) adapterFor(kind protocol.DeviceKind) (*haptic.Adapter, error) {
	a, ok := h.adapters[kind]
	if !ok {
		return nil, protocol.NewError(protocol.CodeValidation,
			fmt.Sprintf("unknown device %q", kind), nil)
	}
	return a, nil
}

func (h *Hub) handleConnect(ctx context.Context, req protocol.Request) protocol.Response {
	a, err := h.adapterFor(req.Device)
	if err != nil {
		return errorResponse(err)
	}

	stored := h.settings.Device(req.Device)
	cfg := haptic.SDKConfig{
		ConnectionKey: stored.ConnectionKey,
		ServerURL:     stored.ServerURL,
		DeviceToken:   stored.DeviceToken,
	}
	if req.Connect != nil {
		if req.Connect.ConnectionKey != "" {
			cfg.ConnectionKey = req.Connect.ConnectionKey
		}
		if req.Connect.ServerURL != "" {
			cfg.ServerURL = req.Connect.ServerURL
		}
		if req.Connect.DeviceToken != "" {
			cfg.DeviceToken = req.Connect.DeviceToken
		}
	}

	ok := a.Connect(ctx, cfg)
	if ok {
		h.settings.UpdateDevice(req.Device, func(dc *storage.DeviceConfig) {
			dc.ConnectionKey = cfg.ConnectionKey
			dc.ServerURL = cfg.ServerURL
			dc.DeviceToken = cfg.DeviceToken
		})
		if req.Device == protocol.DeviceStroker {
			// Initial full probe round; the request must not wait on it.
			go func() {
				syncCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				h.clock.Synchronize(syncCtx)
				h.Broadcast()
			}()
		}
	}
	return protocol.OKResponse(ok)
}

func (h *Hub) handleDisconnect(ctx context.Context, req protocol.Request) protocol.Response {
	a, err := h.adapterFor(req.Device)
	if err != nil {
		return errorResponse(err)
	}
	ok := a.Disconnect(ctx)
	if req.Device == protocol.DeviceStroker {
		// The clock offset is only defined for the life of the connection.
		h.scheduler.Stop()
		h.clock.Invalidate()
	}
	return protocol.OKResponse(ok)
}

func (h *Hub) handleUpdateSettings(ctx context.Context, req protocol.Request) protocol.Response {
	a, err := h.adapterFor(req.Device)
	if err != nil {
		return errorResponse(err)
	}
	if req.Settings == nil {
		return errorResponse(protocol.NewError(protocol.CodeValidation, "update_settings request has no patch", nil))
	}
	return protocol.OKResponse(a.UpdateSettings(ctx, *req.Settings))
}

func (h *Hub) handleLoadScript(ctx context.Context, req protocol.Request) protocol.Response {
	if req.Script == nil {
		return errorResponse(protocol.NewError(protocol.CodeValidation, "load_script request has no reference", nil))
	}

	payload, err := h.resolver.Resolve(ctx, req.Script.Ref, req.Script.Credential)
	if err != nil {
		return errorResponse(err)
	}

	ok := h.coord.LoadScript(ctx, payload)
	if ok {
		if req.Tab.TabID != "" {
			h.arbiter.SetActiveTab(req.Tab.TabID, req.Tab.FrameID, req.Tab.URL)
		}
		if payload.URL != "" {
			h.settings.Update(func(s *storage.Settings) { s.LastScriptURL = payload.URL })
		}
	}
	return protocol.OKResponse(ok)
}

func (h *Hub) handleGetDeviceInfo(req protocol.Request) protocol.Response {
	a, err := h.adapterFor(req.Device)
	if err != nil {
		return errorResponse(err)
	}
	info := a.Info()
	if info == nil {
		return errorResponse(protocol.NewError(protocol.CodeDeviceUnavailable,
			fmt.Sprintf("%s is not connected", req.Device), nil))
	}
	return protocol.DataResponse(info)
}

// handleAutoConnect re-establishes every device that has stored
// credentials. Per-device failures are reported in the result map, not
// as an error: auto-connect is best-effort by definition.
func (h *Hub) handleAutoConnect(ctx context.Context) protocol.Response {
	results := make(map[protocol.DeviceKind]bool)
	for _, kind := range protocol.Kinds() {
		a, ok := h.adapters[kind]
		if !ok {
			continue
		}
		dc := h.settings.Device(kind)
		if !autoConnectable(kind, dc) {
			continue
		}
		results[kind] = a.Connect(ctx, haptic.SDKConfig{
			ConnectionKey: dc.ConnectionKey,
			ServerURL:     dc.ServerURL,
			DeviceToken:   dc.DeviceToken,
		})
		if kind == protocol.DeviceStroker && results[kind] {
			h.clock.Synchronize(ctx)
		}
	}
	return protocol.DataResponse(results)
}

func autoConnectable(kind protocol.DeviceKind, dc storage.DeviceConfig) bool {
	switch kind {
	case protocol.DeviceStroker:
		return dc.ConnectionKey != ""
	case protocol.DeviceVendor2:
		return dc.DeviceToken != ""
	case protocol.DeviceHub:
		return dc.ServerURL != ""
	}
	return false
}

func (h *Hub) handleScanDevices(ctx context.Context, req protocol.Request) protocol.Response {
	kind := req.Device
	if kind == "" {
		kind = protocol.DeviceHub
	}
	a, err := h.adapterFor(kind)
	if err != nil {
		return errorResponse(err)
	}
	found, err := a.Scan(ctx)
	if err != nil {
		return errorResponse(err)
	}
	return protocol.DataResponse(found)
}

// OnTabClosed handles an observed tab closure. If the closed tab held
// the control claim, playback is torn down so devices never keep
// running for a tab that no longer exists.
func (h *Hub) OnTabClosed(ctx context.Context, tabID string) {
	if h.arbiter.ReleaseTab(tabID) {
		slog.Info("controlling tab closed, tearing playback down", "tab_id", tabID)
		h.coord.Teardown(ctx)
	}
}

// OnTabNavigated handles an externally observed URL change.
func (h *Hub) OnTabNavigated(ctx context.Context, tabID, url string) {
	if h.arbiter.NoteNavigation(tabID, url) {
		slog.Info("controlling tab navigated, tearing playback down", "tab_id", tabID, "url", url)
		h.coord.Teardown(ctx)
	}
}

// OnDeviceChange receives adapter change notifications and mirrors them
// into a broadcast. A stroker drop also ends the resync schedule: the
// offset dies with the connection.
func (h *Hub) OnDeviceChange(c haptic.Change) {
	if c.Kind == protocol.DeviceStroker {
		if a, ok := h.adapters[c.Kind]; ok {
			switch a.Status() {
			case protocol.StatusDisconnected, protocol.StatusError:
				h.scheduler.Stop()
				h.clock.Invalidate()
			}
		}
	}

	upd := h.StateSnapshot()
	upd.Error = c.Err
	h.broker.Publish(upd)
}

// StateSnapshot composes the full broadcast envelope from current state.
func (h *Hub) StateSnapshot() protocol.StateUpdate {
	upd := protocol.StateUpdate{
		Playback:       h.coord.State(),
		ScriptLoaded:   h.coord.HasScript(),
		ScriptInverted: h.coord.Inverted(),
		Devices:        make(map[protocol.DeviceKind]protocol.DeviceSnapshot, len(h.adapters)),
	}
	for kind, a := range h.adapters {
		upd.Devices[kind] = protocol.DeviceSnapshot{
			Status:   a.Status(),
			Info:     a.Info(),
			Settings: a.Settings(),
		}
	}
	if _, ok := h.clock.Offset(); ok {
		upd.ServerTimeMs = h.clock.EstimateRemoteNow()
	}
	return upd
}

// Broadcast publishes the current state envelope to every receiver.
func (h *Hub) Broadcast() {
	h.broker.Publish(h.StateSnapshot())
}

// errorResponse converts any error to the boundary's error envelope,
// unwrapping coded errors to their user-facing message.
func errorResponse(err error) protocol.Response {
	var coded *protocol.CodedError
	if errors.As(err, &coded) {
		return protocol.ErrorResponse(coded.Message)
	}
	return protocol.ErrorResponse(err.Error())
}
