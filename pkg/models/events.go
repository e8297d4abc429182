package models

// EventType discriminates registry/OTA events broadcast to subscribers.
type EventType string

const (
	EventDeviceDiscovered EventType = "device_discovered"
	EventDeviceUpdated    EventType = "device_updated"
	EventDeviceOffline    EventType = "device_offline"
	EventDeviceRemoved    EventType = "device_removed"
	EventScanStarted      EventType = "scan_started"
	EventScanCompleted    EventType = "scan_completed"
	EventOtaProgress      EventType = "ota_progress"
)

// Event is the envelope broadcast on the registry's event channel and
// relayed to WebSocket clients.
type Event struct {
	Type   EventType `json:"type"`
	Device *Device   `json:"device,omitempty"`
	ID     DeviceId  `json:"id,omitempty"`
	Found  int       `json:"found,omitempty"`
	Total  int       `json:"total,omitempty"`
	OTA    *OTAEvent `json:"ota,omitempty"`
}
