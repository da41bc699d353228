package vendor2sdk

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

	"github.com/dgnsrekt/haptic_agent/internal/haptic"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

// Client talks to the secondary vendor's REST API. Unlike the stroker,
// this device plays against the video timeline directly and needs no
// clock translation.
type Client struct {
	haptic.Emitter

	base string
	http *http.Client

	mu    sync.Mutex
	token string
}

// New creates a client for the given API base URL; httpClient may be nil.
func New(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: httpClient}
}

func (c *Client) Connect(ctx context.Context, cfg haptic.SDKConfig) (bool, error) {
	c.mu.Lock()
	c.token = cfg.DeviceToken
	if cfg.ServerURL != "" {
		c.base = strings.TrimRight(cfg.ServerURL, "/")
	}
	c.mu.Unlock()

	var out struct {
		Paired bool `json:"paired"`
	}
	if err := c.postJSON(ctx, "/pair", map[string]any{}, &out); err != nil {
		return false, err
	}
	if out.Paired {
		c.Emit(haptic.Event{Type: haptic.EventConnected})
	}
	return out.Paired, nil
}

func (c *Client) Disconnect(ctx context.Context) (bool, error) {
	_ = c.postJSON(ctx, "/unpair", map[string]any{}, nil)
	c.Emit(haptic.Event{Type: haptic.EventDisconnected})
	return true, nil
}

func (c *Client) UpdateConfig(ctx context.Context, s protocol.DeviceSettings) error {
	return c.postJSON(ctx, "/range", map[string]any{
		"min": s.StrokeMin,
		"max": s.StrokeMax,
	}, nil)
}

func (c *Client) Play(ctx context.Context, timeMs int64, rate float64, loop bool) (bool, error) {
	var out struct {
		Started bool `json:"started"`
	}
	err := c.postJSON(ctx, "/play", map[string]any{
		"position_ms": timeMs,
		"rate":        rate,
		"loop":        loop,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Started, nil
}

func (c *Client) Stop(ctx context.Context) error {
	return c.postJSON(ctx, "/stop", map[string]any{}, nil)
}

func (c *Client) LoadScript(ctx context.Context, p protocol.ScriptPayload, invert bool) (haptic.LoadResult, error) {
	body := map[string]any{"kind": p.Kind, "invert": invert}
	if p.URL != "" {
		body["url"] = p.URL
	} else {
		body["content"] = p.Content
	}
	var out struct {
		Accepted bool `json:"accepted"`
	}
	if err := c.postJSON(ctx, "/pattern", body, &out); err != nil {
		return haptic.LoadResult{}, err
	}
	return haptic.LoadResult{Success: out.Accepted}, nil
}

func (c *Client) DeviceInfo(ctx context.Context) (*protocol.DeviceInfo, error) {
	var out protocol.DeviceInfo
	if err := c.getJSON(ctx, "/device", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vendor2 api %s: status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
