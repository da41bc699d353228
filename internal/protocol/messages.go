package protocol

// RequestType enumerates every message a session or UI surface may send
// to the hub. The dispatcher switches over this set exhaustively; an
// unlisted value is answered with CodeUnknownRequest.
type RequestType string

const (
	ReqConnect         RequestType = "connect"
	ReqDisconnect      RequestType = "disconnect"
	ReqUpdateSettings  RequestType = "update_settings"
	ReqLoadScript      RequestType = "load_script"
	ReqToggleInvert    RequestType = "toggle_invert"
	ReqPlay            RequestType = "play"
	ReqStop            RequestType = "stop"
	ReqTimeChanged     RequestType = "time_changed"
	ReqDurationChanged RequestType = "duration_changed"
	ReqRateChanged     RequestType = "rate_changed"
	ReqVolumeChanged   RequestType = "volume_changed"
	ReqGetState        RequestType = "get_state"
	ReqGetDeviceInfo   RequestType = "get_device_info"
	ReqAutoConnect     RequestType = "auto_connect"
	ReqScanDevices     RequestType = "scan_devices"
)

// TabIdentity tags a request with the browser context it came from.
// An empty TabID means the sender is not a tab (UI surfaces).
type TabIdentity struct {
	TabID   string `json:"tab_id,omitempty"`
	FrameID int64  `json:"frame_id,omitempty"`
	URL     string `json:"url,omitempty"`
}

// ConnectPayload carries per-device connection parameters.
type ConnectPayload struct {
	ConnectionKey string `json:"connection_key,omitempty"`
	ServerURL     string `json:"server_url,omitempty"`
	DeviceToken   string `json:"device_token,omitempty"`
}

// PlayPayload carries a transport play command.
type PlayPayload struct {
	TimeMs     int64   `json:"time_ms"`
	Rate       float64 `json:"rate"`
	DurationMs int64   `json:"duration_ms"`
	Loop       bool    `json:"loop"`
}

// LoadScriptPayload carries a script reference plus the credential used
// for catalogued lookups.
type LoadScriptPayload struct {
	Ref        ScriptReference `json:"ref"`
	Credential string          `json:"credential,omitempty"`
}

// VolumePayload carries a volume transport event.
type VolumePayload struct {
	Volume float64 `json:"volume"`
	Muted  bool    `json:"muted"`
}

// Request is the tagged envelope for all hub-bound messages. Only the
// payload field matching Type is populated.
type Request struct {
	Type     RequestType        `json:"type"`
	Device   DeviceKind         `json:"device,omitempty"`
	Tab      TabIdentity        `json:"tab,omitempty"`
	Connect  *ConnectPayload    `json:"connect,omitempty"`
	Settings *SettingsPatch     `json:"settings,omitempty"`
	Script   *LoadScriptPayload `json:"script,omitempty"`
	Play     *PlayPayload       `json:"play,omitempty"`
	Volume   *VolumePayload     `json:"volume,omitempty"`
	TimeMs   *int64             `json:"time_ms,omitempty"`
	Rate     *float64           `json:"rate,omitempty"`
}

// Response is the envelope returned for every request. Exactly one of
// the three outcomes is meaningful: OK (boolean success), Data, or Error.
// Errors never cross the message boundary as anything else.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// OKResponse is the plain boolean success response.
func OKResponse(ok bool) Response { return Response{OK: ok} }

// DataResponse wraps a data value in a successful response.
func DataResponse(data any) Response { return Response{OK: true, Data: data} }

// ErrorResponse wraps an error string; the boundary never throws.
func ErrorResponse(msg string) Response { return Response{Error: msg} }
