package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/haptic_agent/internal/hub"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
	"github.com/dgnsrekt/haptic_agent/internal/script"
	"github.com/dgnsrekt/haptic_agent/internal/tabs"
)

// stubDispatcher records dispatched requests and answers from a script.
type stubDispatcher struct {
	mu        sync.Mutex
	requests  []protocol.Request
	responses map[protocol.RequestType]protocol.Response
	state     protocol.StateUpdate
}

func (s *stubDispatcher) Dispatch(_ context.Context, req protocol.Request) protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if resp, ok := s.responses[req.Type]; ok {
		return resp
	}
	return protocol.OKResponse(true)
}

func (s *stubDispatcher) StateSnapshot() protocol.StateUpdate { return s.state }

func (s *stubDispatcher) last(t *testing.T) protocol.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("no requests dispatched")
	}
	return s.requests[len(s.requests)-1]
}

func newTestServer(t *testing.T, d *stubDispatcher) (http.Handler, *script.Store) {
	t.Helper()
	scripts, err := script.NewStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("script.NewStore() = %v", err)
	}
	return NewServer(d, scripts, tabs.NewRegistry(), hub.NewBroker()), scripts
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, &stubDispatcher{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("body = %s; want ok status", w.Body.String())
	}
}

func TestGetStateReturnsSnapshot(t *testing.T) {
	d := &stubDispatcher{state: protocol.StateUpdate{
		Playback:     protocol.PlaybackState{IsPlaying: true, CurrentTime: 4200, PlaybackRate: 1},
		ScriptLoaded: true,
	}}
	h, _ := newTestServer(t, d)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got protocol.StateUpdate
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if !got.Playback.IsPlaying || got.Playback.CurrentTime != 4200 || !got.ScriptLoaded {
		t.Fatalf("state = %+v; want playing at 4200 with script", got)
	}
}

func TestConnectDeviceDispatches(t *testing.T) {
	d := &stubDispatcher{}
	h, _ := newTestServer(t, d)

	body := strings.NewReader(`{"connection_key":"abc123"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/stroker/connect", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	got := d.last(t)
	if got.Type != protocol.ReqConnect || got.Device != protocol.DeviceStroker {
		t.Fatalf("dispatched = %+v; want stroker connect", got)
	}
	if got.Connect == nil || got.Connect.ConnectionKey != "abc123" {
		t.Fatalf("connect payload = %+v; want connection key", got.Connect)
	}
}

func TestConnectUnknownKindRejected(t *testing.T) {
	h, _ := newTestServer(t, &stubDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/toaster/connect", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestDispatchErrorBecomesBadRequest(t *testing.T) {
	d := &stubDispatcher{responses: map[protocol.RequestType]protocol.Response{
		protocol.ReqLoadScript: protocol.ErrorResponse("catalogue token exchange failed"),
	}}
	h, _ := newTestServer(t, d)

	body := strings.NewReader(`{"ref":{"kind":"catalogued","container_id":"c","item_id":"i"},"credential":"shortkey1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/script/load", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "token exchange") {
		t.Fatalf("body = %s; want dispatch error surfaced", w.Body.String())
	}
}

func TestScriptLifecycle(t *testing.T) {
	h, _ := newTestServer(t, &stubDispatcher{})

	upload := strings.NewReader(`{"name":"clip one","kind":"funscript","content":"{\"actions\":[]}"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scripts", upload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", w.Code, w.Body.String())
	}
	var meta script.Meta
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scripts/"+meta.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "clip one") {
		t.Fatalf("get body = %s; want stored name", w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/scripts/"+meta.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scripts/"+meta.ID, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("get deleted status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSettingsPatchDispatches(t *testing.T) {
	d := &stubDispatcher{}
	h, _ := newTestServer(t, d)

	body := strings.NewReader(`{"offset_ms":-80}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/device/vendor2/settings", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	got := d.last(t)
	if got.Type != protocol.ReqUpdateSettings || got.Device != protocol.DeviceVendor2 {
		t.Fatalf("dispatched = %+v; want vendor2 settings update", got)
	}
	if got.Settings == nil || got.Settings.OffsetMs == nil || *got.Settings.OffsetMs != -80 {
		t.Fatalf("settings patch = %+v; want offset -80", got.Settings)
	}
}
