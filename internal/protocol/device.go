package protocol

// DeviceKind identifies one of the supported haptic device integrations.
type DeviceKind string

const (
	DeviceStroker DeviceKind = "stroker"
	DeviceHub     DeviceKind = "hub"
	DeviceVendor2 DeviceKind = "vendor2"
)

// Kinds lists every supported device kind in a stable order.
func Kinds() []DeviceKind {
	return []DeviceKind{DeviceStroker, DeviceHub, DeviceVendor2}
}

// Label returns the user-facing name used when tagging device errors.
func (k DeviceKind) Label() string {
	switch k {
	case DeviceStroker:
		return "Stroker"
	case DeviceHub:
		return "Hub"
	case DeviceVendor2:
		return "Vendor2"
	}
	return string(k)
}

// ConnStatus is the connection state of a device adapter.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
	StatusError        ConnStatus = "error"
)

// DeviceInfo is the descriptor a vendor reports for a connected device.
type DeviceInfo struct {
	Model    string   `json:"model,omitempty"`
	Firmware string   `json:"firmware,omitempty"`
	Hardware string   `json:"hardware,omitempty"`
	Features []string `json:"features,omitempty"`
}

// DeviceSettings are per-device user settings applied to playback.
type DeviceSettings struct {
	OffsetMs  int     `json:"offset_ms"`
	StrokeMin float64 `json:"stroke_min"`
	StrokeMax float64 `json:"stroke_max"`
}

// DefaultDeviceSettings returns the full-range, zero-offset defaults.
func DefaultDeviceSettings() DeviceSettings {
	return DeviceSettings{OffsetMs: 0, StrokeMin: 0, StrokeMax: 1}
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	OffsetMs  *int     `json:"offset_ms,omitempty"`
	StrokeMin *float64 `json:"stroke_min,omitempty"`
	StrokeMax *float64 `json:"stroke_max,omitempty"`
}

// Apply merges the patch into settings.
func (p SettingsPatch) Apply(s *DeviceSettings) {
	if p.OffsetMs != nil {
		s.OffsetMs = *p.OffsetMs
	}
	if p.StrokeMin != nil {
		s.StrokeMin = *p.StrokeMin
	}
	if p.StrokeMax != nil {
		s.StrokeMax = *p.StrokeMax
	}
}
