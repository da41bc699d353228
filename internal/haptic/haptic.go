package haptic

import (
	"context"
	"sync"

	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

// SDKConfig carries the connection parameters handed to a vendor SDK.
type SDKConfig struct {
	ConnectionKey string
	ServerURL     string
	DeviceToken   string
}

// EventType enumerates the events a vendor SDK republishes.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventError           EventType = "error"
	EventDeviceAdded     EventType = "device_added"
	EventDeviceRemoved   EventType = "device_removed"
	EventPlaybackChanged EventType = "playback_changed"
)

// Event is a single vendor notification.
type Event struct {
	Type    EventType
	Message string
}

// LoadResult is the outcome of loading a script into a device.
// Normalized, when present, is the script as the vendor re-emitted it
// after processing (inversion applied, format normalized).
type LoadResult struct {
	Success    bool
	Normalized *protocol.ScriptPayload
}

// SDK is the uniform capability surface of a vendor SDK handle. All
// implementations are treated as opaque collaborators; calls are
// fire-and-await and are never cancelled mid-flight.
type SDK interface {
	Connect(ctx context.Context, cfg SDKConfig) (bool, error)
	Disconnect(ctx context.Context) (bool, error)
	UpdateConfig(ctx context.Context, settings protocol.DeviceSettings) error
	Play(ctx context.Context, timeMs int64, rate float64, loop bool) (bool, error)
	Stop(ctx context.Context) error
	LoadScript(ctx context.Context, payload protocol.ScriptPayload, invert bool) (LoadResult, error)
	DeviceInfo(ctx context.Context) (*protocol.DeviceInfo, error)
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Scanner is an optional SDK capability: enumerating attached devices.
// Only the local hub supports it.
type Scanner interface {
	Scan(ctx context.Context) ([]protocol.DeviceInfo, error)
}

// Emitter is a minimal subscription registry for SDK implementations.
// Subscribe returns an unsubscribe handle so teardown is deterministic.
type Emitter struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]func(Event)
}

func (e *Emitter) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int64]func(Event))
	}
	e.nextID++
	id := e.nextID
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Emitter) Emit(evt Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}
