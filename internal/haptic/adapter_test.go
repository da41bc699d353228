package haptic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

// fakeSDK is a scriptable vendor handle.
type fakeSDK struct {
	Emitter
	mu           sync.Mutex
	connectCalls int
	connectOK    bool
	connectErr   error
	playOK       bool
	playErr      error
	lastPlayTime int64
	configPushes []protocol.DeviceSettings
	info         *protocol.DeviceInfo
}

func (f *fakeSDK) Connect(_ context.Context, _ SDKConfig) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectOK, f.connectErr
}

func (f *fakeSDK) Disconnect(_ context.Context) (bool, error) { return true, nil }

func (f *fakeSDK) UpdateConfig(_ context.Context, s protocol.DeviceSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configPushes = append(f.configPushes, s)
	return nil
}

func (f *fakeSDK) Play(_ context.Context, timeMs int64, _ float64, _ bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPlayTime = timeMs
	return f.playOK, f.playErr
}

func (f *fakeSDK) Stop(_ context.Context) error { return nil }

func (f *fakeSDK) LoadScript(_ context.Context, p protocol.ScriptPayload, invert bool) (LoadResult, error) {
	norm := p
	if invert {
		norm.Content = "inverted:" + p.Content
	}
	return LoadResult{Success: true, Normalized: &norm}, nil
}

func (f *fakeSDK) DeviceInfo(_ context.Context) (*protocol.DeviceInfo, error) {
	return f.info, nil
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *changeRecorder) lastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.changes) - 1; i >= 0; i-- {
		if r.changes[i].Err != "" {
			return r.changes[i].Err
		}
	}
	return ""
}

func newTestAdapter(sdk *fakeSDK) (*Adapter, *changeRecorder) {
	rec := &changeRecorder{}
	a := NewAdapter(protocol.DeviceStroker,
		func() SDK { return sdk },
		func(protocol.DeviceKind, protocol.DeviceSettings) {},
		rec.record)
	return a, rec
}

func TestConnectReusesHandleAcrossReconnects(t *testing.T) {
	sdk := &fakeSDK{connectOK: true, info: &protocol.DeviceInfo{Model: "S2"}}
	a, _ := newTestAdapter(sdk)
	ctx := context.Background()

	if !a.Connect(ctx, SDKConfig{ConnectionKey: "k"}) {
		t.Fatal("Connect() = false; want true")
	}
	a.Disconnect(ctx)
	if !a.Connect(ctx, SDKConfig{ConnectionKey: "k"}) {
		t.Fatal("second Connect() = false; want true")
	}

	if sdk.connectCalls != 2 {
		t.Fatalf("vendor connect calls = %d; want 2", sdk.connectCalls)
	}
	// One subscription shared across both connects.
	sdk.Emitter.mu.Lock()
	subs := len(sdk.Emitter.subs)
	sdk.Emitter.mu.Unlock()
	if subs != 1 {
		t.Fatalf("vendor subscriptions = %d; want exactly 1", subs)
	}
}

func TestConnectFailureIsTaggedNotThrown(t *testing.T) {
	sdk := &fakeSDK{connectErr: errors.New("socket refused")}
	a, rec := newTestAdapter(sdk)

	if a.Connect(context.Background(), SDKConfig{}) {
		t.Fatal("Connect() = true despite vendor error")
	}
	if a.Status() != protocol.StatusError {
		t.Fatalf("status = %s; want error", a.Status())
	}
	if got := rec.lastError(); !strings.HasPrefix(got, "Stroker: ") {
		t.Fatalf("broadcast error = %q; want device-tagged message", got)
	}
}

func TestVendorEventsDriveStatus(t *testing.T) {
	sdk := &fakeSDK{connectOK: true}
	a, rec := newTestAdapter(sdk)
	a.Connect(context.Background(), SDKConfig{})

	sdk.Emit(Event{Type: EventDisconnected})
	if a.Status() != protocol.StatusDisconnected {
		t.Fatalf("status after disconnect event = %s; want disconnected", a.Status())
	}

	sdk.Emit(Event{Type: EventConnected})
	if a.Status() != protocol.StatusConnected {
		t.Fatalf("status after connect event = %s; want connected", a.Status())
	}

	sdk.Emit(Event{Type: EventError, Message: "overheated"})
	if got := rec.lastError(); got != "Stroker: overheated" {
		t.Fatalf("broadcast error = %q; want tagged vendor message", got)
	}
	// Error events report, they do not flip connectivity.
	if a.Status() != protocol.StatusConnected {
		t.Fatalf("status after error event = %s; want connected", a.Status())
	}
}

func TestPlayAppliesDeviceOffset(t *testing.T) {
	sdk := &fakeSDK{connectOK: true, playOK: true}
	a, _ := newTestAdapter(sdk)
	a.Connect(context.Background(), SDKConfig{})

	offset := -120
	a.UpdateSettings(context.Background(), protocol.SettingsPatch{OffsetMs: &offset})

	if !a.Play(context.Background(), 5000, 1.0, false) {
		t.Fatal("Play() = false; want true")
	}
	if sdk.lastPlayTime != 4880 {
		t.Fatalf("vendor play time = %d; want 4880 (offset applied)", sdk.lastPlayTime)
	}
}

func TestPlayWhileDisconnectedIsFalseNotError(t *testing.T) {
	sdk := &fakeSDK{}
	a, _ := newTestAdapter(sdk)

	if a.Play(context.Background(), 0, 1.0, false) {
		t.Fatal("Play() = true while disconnected")
	}
}

func TestDisconnectAlwaysSucceeds(t *testing.T) {
	sdk := &fakeSDK{connectOK: true}
	a, _ := newTestAdapter(sdk)
	a.Connect(context.Background(), SDKConfig{})

	if !a.Disconnect(context.Background()) {
		t.Fatal("Disconnect() = false; user-initiated disconnect must report success")
	}
	if !a.Disconnect(context.Background()) {
		t.Fatal("repeat Disconnect() = false; want true")
	}
}

func TestScanUnsupportedKind(t *testing.T) {
	sdk := &fakeSDK{}
	a, _ := newTestAdapter(sdk)

	if _, err := a.Scan(context.Background()); err == nil {
		t.Fatal("Scan() = nil error for non-scanning vendor")
	}
}
