package protocol

// PlaybackState is the hub's single authoritative transport state.
// Receivers hold broadcast-derived copies only.
type PlaybackState struct {
	IsPlaying    bool    `json:"is_playing"`
	CurrentTime  int64   `json:"current_time_ms"`
	PlaybackRate float64 `json:"playback_rate"`
	DurationMs   int64   `json:"duration_ms"`
	LoopEnabled  bool    `json:"loop_enabled"`
	Volume       float64 `json:"volume"`
	Muted        bool    `json:"muted"`
}

// DeviceSnapshot is the per-device slice of a state broadcast.
type DeviceSnapshot struct {
	Status   ConnStatus     `json:"status"`
	Info     *DeviceInfo    `json:"info,omitempty"`
	Settings DeviceSettings `json:"settings"`
}

// StateUpdate is the single broadcast envelope pushed to every tab and
// UI surface. Delivery is best-effort; gone receivers are ignored.
type StateUpdate struct {
	Playback       PlaybackState                 `json:"playback"`
	ScriptLoaded   bool                          `json:"script_loaded"`
	ScriptInverted bool                          `json:"script_inverted"`
	Devices        map[DeviceKind]DeviceSnapshot `json:"devices"`
	Error          string                        `json:"error,omitempty"`
	ServerTimeMs   int64                         `json:"server_time_ms"`
}
