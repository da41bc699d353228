package strokersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/dgnsrekt/haptic_agent/internal/clock"
	"github.com/dgnsrekt/haptic_agent/internal/haptic"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

// Client talks to the networked stroker's cloud API. The device
// schedules playback against its server clock, so play commands carry
// an estimated server time derived from the shared synchronizer.
type Client struct {
	haptic.Emitter

	base string
	http *http.Client
	clk  *clock.Synchronizer

	mu        sync.Mutex
	key       string
	connected bool
}

// New creates a client for the given API base URL. clk supplies the
// server-clock translation for play commands; httpClient may be nil.
func New(base string, clk *clock.Synchronizer, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: httpClient, clk: clk}
}

func (c *Client) Connect(ctx context.Context, cfg haptic.SDKConfig) (bool, error) {
	c.mu.Lock()
	c.key = cfg.ConnectionKey
	if cfg.ServerURL != "" {
		c.base = strings.TrimRight(cfg.ServerURL, "/")
	}
	c.mu.Unlock()

	var out struct {
		Connected bool `json:"connected"`
	}
	err := retry.New(
		retry.Attempts(3),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		return c.getJSON(ctx, "/connected", &out)
	})
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.connected = out.Connected
	c.mu.Unlock()
	if out.Connected {
		c.Emit(haptic.Event{Type: haptic.EventConnected})
	}
	return out.Connected, nil
}

func (c *Client) Disconnect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.Emit(haptic.Event{Type: haptic.EventDisconnected})
	return true, nil
}

func (c *Client) UpdateConfig(ctx context.Context, s protocol.DeviceSettings) error {
	body := map[string]any{
		"slide_min": s.StrokeMin,
		"slide_max": s.StrokeMax,
	}
	return c.putJSON(ctx, "/slide", body, nil)
}

func (c *Client) Play(ctx context.Context, timeMs int64, rate float64, loop bool) (bool, error) {
	body := map[string]any{
		"start_time":            timeMs,
		"playback_rate":         rate,
		"loop":                  loop,
		"estimated_server_time": c.clk.EstimateRemoteNow(),
	}
	var out struct {
		Playing bool `json:"playing"`
	}
	if err := c.putJSON(ctx, "/play", body, &out); err != nil {
		return false, err
	}
	return out.Playing, nil
}

func (c *Client) Stop(ctx context.Context) error {
	return c.putJSON(ctx, "/stop", map[string]any{}, nil)
}

func (c *Client) LoadScript(ctx context.Context, p protocol.ScriptPayload, invert bool) (haptic.LoadResult, error) {
	body := map[string]any{
		"kind":   p.Kind,
		"invert": invert,
	}
	if p.URL != "" {
		body["url"] = p.URL
	} else {
		body["content"] = p.Content
	}
	var out struct {
		Success    bool   `json:"success"`
		Normalized string `json:"normalized,omitempty"`
	}
	err := retry.New(
		retry.Attempts(2),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		return c.putJSON(ctx, "/script", body, &out)
	})
	if err != nil {
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
	if err := c.getJSON(ctx, "/info", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServerTimeMs answers one round-trip clock probe. No retries: the
// synchronizer measures RTT, so each probe must be a single exchange.
func (c *Client) ServerTimeMs(ctx context.Context) (int64, error) {
	var out struct {
		ServerTime int64 `json:"server_time"`
	}
	if err := c.getJSON(ctx, "/servertime", &out); err != nil {
		return 0, err
	}
	return out.ServerTime, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) putJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()
	if key != "" {
		req.Header.Set("X-Connection-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stroker api %s: status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
