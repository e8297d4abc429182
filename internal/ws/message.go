package ws

import (
	"time"

	"github.com/CogniPilot/dendrite/pkg/models"
)

// MessageType discriminates WebSocket messages. Values mirror
// models.EventType so registry/OTA events forward without translation.
type MessageType string

const (
	MessageDeviceDiscovered MessageType = "device_discovered"
	MessageDeviceUpdated    MessageType = "device_updated"
	MessageDeviceOffline    MessageType = "device_offline"
	MessageDeviceRemoved    MessageType = "device_removed"
	MessageScanStarted      MessageType = "scan_started"
	MessageScanCompleted    MessageType = "scan_completed"
	MessageOtaProgress      MessageType = "ota_progress"
	MessagePong             MessageType = "pong"
)

// Message is the envelope for all server-to-client WebSocket frames. A
// non-nil Binary marks the message as a raw binary echo rather than a
// JSON text frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Device    *models.Device  `json:"device,omitempty"`
	DeviceID  models.DeviceId `json:"device_id,omitempty"`
	Found     int             `json:"found,omitempty"`
	Total     int             `json:"total,omitempty"`
	OTA       *models.OTAEvent `json:"ota,omitempty"`
	Binary    []byte          `json:"-"`
}

// matchesDevice reports whether msg concerns the given device. Events
// with no device association (scan started/completed) always match,
// since they are fleet-wide rather than per-device.
func (msg Message) matchesDevice(id models.DeviceId) bool {
	switch msg.Type {
	case MessageDeviceDiscovered, MessageDeviceUpdated:
		return msg.Device != nil && msg.Device.ID == id
	case MessageDeviceOffline, MessageDeviceRemoved:
		return msg.DeviceID == id
	case MessageOtaProgress:
		return msg.OTA != nil && msg.OTA.DeviceID == id
	default:
		return true
	}
}

// eventToMessage translates a registry/OTA event into its wire message.
func eventToMessage(ev models.Event) Message {
	msg := Message{Type: MessageType(ev.Type), Timestamp: time.Now()}
	switch ev.Type {
	case models.EventDeviceDiscovered, models.EventDeviceUpdated:
		msg.Device = ev.Device
	case models.EventDeviceOffline, models.EventDeviceRemoved:
		msg.DeviceID = ev.ID
	case models.EventScanCompleted:
		msg.Found = ev.Found
		msg.Total = ev.Total
	case models.EventOtaProgress:
		msg.OTA = ev.OTA
	}
	return msg
}
