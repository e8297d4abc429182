package hdf

import (
	"time"

	"github.com/CogniPilot/dendrite/pkg/models"
)

// lastSeenLayout is the timestamp format written to <discovered><last_seen>.
const lastSeenLayout = time.RFC3339

// UpsertDevice creates or updates the <mcu> entry for device, keyed by
// its ID as hwid. If parentName is set and no matching mcu exists yet,
// the new entry's description records the switch/parent relationship;
// existing visual/frame/port/antenna/sensor children are left intact
// so re-discovery does not clobber manually authored fragment detail.
func UpsertDevice(doc *Document, device models.Device, parentName *string) {
	hwid := string(device.ID)

	for i := range doc.Mcu {
		if doc.Mcu[i].HWID == hwid {
			applyDevice(&doc.Mcu[i], device)
			return
		}
	}

	mcu := Mcu{Name: hwid, HWID: hwid}
	if parentName != nil {
		mcu.Description = "discovered behind " + *parentName
	}
	applyDevice(&mcu, device)
	doc.Mcu = append(doc.Mcu, mcu)
}

// applyDevice overwrites the discovery-derived fields of mcu from
// device, leaving the rest of the fragment (visuals, frames, ports,
// antennas, sensors) untouched.
func applyDevice(mcu *Mcu, device models.Device) {
	if device.Info.Board != nil {
		mcu.Board = *device.Info.Board
	}

	sw := mcu.Software
	if sw == nil {
		sw = &Software{}
	}
	sw.Name = device.Name
	if img, ok := device.Firmware.ActiveImage(); ok {
		sw.Version = img.Version
	} else if device.Firmware.Version != nil {
		sw.Version = *device.Firmware.Version
	}
	if device.Firmware.ImageHash != nil {
		sw.Hash = *device.Firmware.ImageHash
	}
	mcu.Software = sw

	mcu.Discovered = &Discovered{
		IP:       device.Discovery.IP,
		Port:     device.Discovery.Port,
		LastSeen: device.Discovery.LastSeen.UTC().Format(lastSeenLayout),
	}

	if device.ModelPath != nil {
		setPrimaryVisualModel(mcu, *device.ModelPath)
	}
	if device.Pose != nil {
		setPrimaryVisualPose(mcu, *device.Pose)
	}
}

// setPrimaryVisualModel points the mcu's first visual (creating one
// named "default" if none exists) at href.
func setPrimaryVisualModel(mcu *Mcu, href string) {
	if len(mcu.Visual) == 0 {
		mcu.Visual = append(mcu.Visual, Visual{Name: "default"})
	}
	mcu.Visual[0].Model = &ModelRef{Href: href}
}

// setPrimaryVisualPose writes a[0:6] = x,y,z,roll,pitch,yaw onto the
// mcu's first visual.
func setPrimaryVisualPose(mcu *Mcu, a [6]float64) {
	if len(mcu.Visual) == 0 {
		mcu.Visual = append(mcu.Visual, Visual{Name: "default"})
	}
	pose := Pose{X: a[0], Y: a[1], Z: a[2], Roll: a[3], Pitch: a[4], Yaw: a[5]}
	mcu.Visual[0].Pose = pose.String()
}

// RemoveStaleDevices drops every <mcu> entry whose discovered.last_seen
// is older than timeout relative to now, or which lacks a parseable
// last_seen altogether (never-confirmed entries are stale by
// definition). It reports how many entries were removed.
func RemoveStaleDevices(doc *Document, now time.Time, timeout time.Duration) int {
	kept := doc.Mcu[:0]
	removed := 0
	for _, mcu := range doc.Mcu {
		if isStale(mcu, now, timeout) {
			removed++
			continue
		}
		kept = append(kept, mcu)
	}
	doc.Mcu = kept
	return removed
}

func isStale(mcu Mcu, now time.Time, timeout time.Duration) bool {
	if mcu.Discovered == nil || mcu.Discovered.LastSeen == "" {
		return true
	}
	t, err := time.Parse(lastSeenLayout, mcu.Discovered.LastSeen)
	if err != nil {
		return true
	}
	return now.Sub(t) > timeout
}

// FindByHWID returns the mcu entry with the given hwid, if present.
func (d *Document) FindByHWID(hwid string) (Mcu, bool) {
	for _, mcu := range d.Mcu {
		if mcu.HWID == hwid {
			return mcu, true
		}
	}
	return Mcu{}, false
}

// RemoveByHWID removes the mcu entry with the given hwid, reporting
// whether one was found.
func (d *Document) RemoveByHWID(hwid string) bool {
	for i, mcu := range d.Mcu {
		if mcu.HWID == hwid {
			d.Mcu = append(d.Mcu[:i], d.Mcu[i+1:]...)
			return true
		}
	}
	return false
}
