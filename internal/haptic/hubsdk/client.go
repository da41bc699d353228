package hubsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/haptic_agent/internal/haptic"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client speaks the local device hub's JSON-over-WebSocket protocol:
// numbered request/response pairs plus unsolicited event frames for
// device attach/detach.
type Client struct {
	haptic.Emitter

	url string

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan json.RawMessage
}

type frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// New creates a client for the hub's websocket endpoint.
func New(url string) *Client {
	return &Client{url: url, pending: make(map[int64]chan json.RawMessage)}
}

func (c *Client) Connect(ctx context.Context, cfg haptic.SDKConfig) (bool, error) {
	if cfg.ServerURL != "" {
		c.mu.Lock()
		c.url = cfg.ServerURL
		c.mu.Unlock()
	}
	if err := c.dial(ctx); err != nil {
		return false, err
	}
	var out struct {
		Ready bool `json:"ready"`
	}
	if err := c.call(ctx, "handshake", map[string]any{"client": "haptic_agent"}, &out); err != nil {
		return false, err
	}
	if out.Ready {
		c.Emit(haptic.Event{Type: haptic.EventConnected})
	}
	return out.Ready, nil
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("hubsdk: dial %s: %w", c.url, err)
	}
	c.conn = conn
	go c.readLoop()
	return nil
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("hubsdk read loop exit", "error", err)
			c.closeConn()
			c.Emit(haptic.Event{Type: haptic.EventDisconnected})
			return
		}

		var msg frame
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
			continue
		}
		c.dispatchEvent(msg)
	}
}

func (c *Client) dispatchEvent(msg frame) {
	switch msg.Method {
	case "deviceAdded":
		c.Emit(haptic.Event{Type: haptic.EventDeviceAdded})
	case "deviceRemoved":
		c.Emit(haptic.Event{Type: haptic.EventDeviceRemoved})
	case "playbackChanged":
		c.Emit(haptic.Event{Type: haptic.EventPlaybackChanged})
	case "error":
		var params struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		c.Emit(haptic.Event{Type: haptic.EventError, Message: params.Message})
	}
}

// call issues one numbered request and awaits its response frame.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("hubsdk: not connected")
	}

	id := c.seq.Add(1)
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame{ID: id, Method: method, Params: rawParams})
	if err != nil {
		return err
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := wsutil.WriteClientText(conn, data); err != nil {
		c.deletePending(id)
		return fmt.Errorf("hubsdk: write: %w", err)
	}

	select {
	case <-ctx.Done():
		c.deletePending(id)
		return ctx.Err()
	case <-time.After(10 * time.Second):
		c.deletePending(id)
		return fmt.Errorf("hubsdk: %s timed out", method)
	case data, ok := <-ch:
		if !ok {
			return fmt.Errorf("hubsdk: connection closed during %s", method)
		}
		var resp frame
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("hubsdk: %s: %s", method, resp.Error)
		}
		if out == nil || resp.Result == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	}
}

func (c *Client) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) closeConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Client) Disconnect(ctx context.Context) (bool, error) {
	_ = c.call(ctx, "release", map[string]any{}, nil)
	c.closeConn()
	c.Emit(haptic.Event{Type: haptic.EventDisconnected})
	return true, nil
}

func (c *Client) UpdateConfig(ctx context.Context, s protocol.DeviceSettings) error {
	return c.call(ctx, "configure", map[string]any{
		"stroke_min": s.StrokeMin,
		"stroke_max": s.StrokeMax,
	}, nil)
}

func (c *Client) Play(ctx context.Context, timeMs int64, rate float64, loop bool) (bool, error) {
	var out struct {
		Playing bool `json:"playing"`
	}
	err := c.call(ctx, "play", map[string]any{
		"time_ms": timeMs,
		"rate":    rate,
		"loop":    loop,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Playing, nil
}

func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, "stop", map[string]any{}, nil)
}

func (c *Client) LoadScript(ctx context.Context, p protocol.ScriptPayload, invert bool) (haptic.LoadResult, error) {
	params := map[string]any{"kind": p.Kind, "invert": invert}
	if p.URL != "" {
		params["url"] = p.URL
	} else {
		params["content"] = p.Content
	}
	var out struct {
		Success    bool   `json:"success"`
		Normalized string `json:"normalized,omitempty"`
	}
	if err := c.call(ctx, "loadScript", params, &out); err != nil {
		return haptic.LoadResult{}, err
	}
	res := haptic.LoadResult{Success: out.Success}
	if out.Normalized != "" {
		res.Normalized = &protocol.ScriptPayload{Kind: p.Kind, Content: out.Normalized}
	}
	return res, nil
}

func (c *Client) DeviceInfo(ctx context.Context) (*protocol.DeviceInfo, error) {
	var out protocol.DeviceInfo
	if err := c.call(ctx, "info", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scan asks the hub to enumerate attached devices.
func (c *Client) Scan(ctx context.Context) ([]protocol.DeviceInfo, error) {
	var out struct {
		Devices []protocol.DeviceInfo `json:"devices"`
	}
	if err := c.call(ctx, "scan", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}
