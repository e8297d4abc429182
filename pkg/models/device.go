// Package models holds the wire/domain types shared by the discovery
// scanner, device registry, OTA service, and API layer.
package models

import "time"

// DeviceId is a stable device identifier. It is either a device-reported
// hardware ID or a synthesized "temp-<uuid>" placeholder until a real ID
// is learned.
type DeviceId string

// IsTemp reports whether id was synthesized rather than device-reported.
func (id DeviceId) IsTemp() bool {
	return len(id) >= 5 && id[:5] == "temp-"
}

// Status is the liveness state of a device as tracked by the registry.
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusProbing  Status = "probing"
	StatusUnknown  Status = "unknown"
)

// DiscoveryMethod records how a device was first (or most recently) found.
type DiscoveryMethod string

const (
	MethodNeighbor DiscoveryMethod = "neighbor"
	MethodSweep    DiscoveryMethod = "sweep"
	MethodProbe    DiscoveryMethod = "probe"
	MethodManual   DiscoveryMethod = "manual"
)

// Discovery holds how and where a device was found.
type Discovery struct {
	IP             string          `json:"ip"`
	Port           uint16          `json:"port"`
	SwitchPort     *uint8          `json:"switch_port,omitempty"`
	MAC            *string         `json:"mac,omitempty"`
	FirstSeen      time.Time       `json:"first_seen"`
	LastSeen       time.Time       `json:"last_seen"`
	DiscoveryMethod DiscoveryMethod `json:"discovery_method"`
}

// Info holds identity/platform fields gathered via FWMP os-info/bootloader-info.
type Info struct {
	OSName     *string `json:"os_name,omitempty"`
	Board      *string `json:"board,omitempty"`
	Processor  *string `json:"processor,omitempty"`
	Bootloader *string `json:"bootloader,omitempty"`
	BootMode   *string `json:"boot_mode,omitempty"`
}

// ImageSlot is one entry of an FWMP image-state response.
type ImageSlot struct {
	Slot      int    `json:"slot"`
	Version   string `json:"version"`
	Hash      []byte `json:"hash"`
	Bootable  bool   `json:"bootable"`
	Pending   bool   `json:"pending"`
	Confirmed bool   `json:"confirmed"`
	Active    bool   `json:"active"`
}

// Firmware summarizes the device's currently active firmware image. The
// scalar fields are derived from whichever entry in Images has Active set;
// Images itself carries the full list referenced by the "at most one
// active image" invariant.
type Firmware struct {
	Name      *string     `json:"name,omitempty"`
	Version   *string     `json:"version,omitempty"`
	ImageHash *string     `json:"image_hash,omitempty"`
	Confirmed bool        `json:"confirmed"`
	Pending   bool        `json:"pending"`
	Slot      *int        `json:"slot,omitempty"`
	Images    []ImageSlot `json:"images,omitempty"`
}

// ActiveImage returns the image slot with Active set, if any.
func (f Firmware) ActiveImage() (ImageSlot, bool) {
	for _, img := range f.Images {
		if img.Active {
			return img, true
		}
	}
	return ImageSlot{}, false
}

// Device is a single discovered/managed node.
type Device struct {
	ID        DeviceId  `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Discovery Discovery `json:"discovery"`
	Info      Info      `json:"info"`
	Firmware  Firmware  `json:"firmware"`
	ParentID  *DeviceId `json:"parent_id,omitempty"`
	ModelPath *string   `json:"model_path,omitempty"`
	Pose      *[6]float64 `json:"pose,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// registry lock (slices/pointers are not mutated in place elsewhere).
func (d Device) Clone() Device {
	clone := d
	if d.Discovery.SwitchPort != nil {
		sp := *d.Discovery.SwitchPort
		clone.Discovery.SwitchPort = &sp
	}
	if d.Discovery.MAC != nil {
		m := *d.Discovery.MAC
		clone.Discovery.MAC = &m
	}
	if d.ParentID != nil {
		p := *d.ParentID
		clone.ParentID = &p
	}
	if d.ModelPath != nil {
		m := *d.ModelPath
		clone.ModelPath = &m
	}
	if d.Pose != nil {
		p := *d.Pose
		clone.Pose = &p
	}
	if len(d.Firmware.Images) > 0 {
		imgs := make([]ImageSlot, len(d.Firmware.Images))
		copy(imgs, d.Firmware.Images)
		clone.Firmware.Images = imgs
	}
	return clone
}
