// Package registry holds the in-memory device table: CRUD over
// DeviceId, an IP index for conflict detection during reconciliation,
// and a lossy broadcast channel for the discovery/OTA event stream.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/pkg/models"
)

// eventCapacity is the lossy broadcast channel's buffer size per
// subscriber.
const eventCapacity = 100

// Registry is the daemon's single source of truth for known devices.
type Registry struct {
	mu      sync.RWMutex
	devices map[models.DeviceId]models.Device
	ipIndex map[string]models.DeviceId

	subMu sync.Mutex
	subs  map[chan models.Event]struct{}

	logger *zap.Logger
}

// New builds an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		devices: make(map[models.DeviceId]models.Device),
		ipIndex: make(map[string]models.DeviceId),
		subs:    make(map[chan models.Event]struct{}),
		logger:  logger,
	}
}

// Subscribe returns a channel of future events. The channel is buffered
// to eventCapacity; a slow subscriber drops events rather than blocking
// the registry (lossy broadcast).
func (r *Registry) Subscribe() chan models.Event {
	ch := make(chan models.Event, eventCapacity)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel previously returned by
// Subscribe.
func (r *Registry) Unsubscribe(ch chan models.Event) {
	r.subMu.Lock()
	if _, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(ch)
	}
	r.subMu.Unlock()
}

func (r *Registry) publish(ev models.Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
			if r.logger != nil {
				r.logger.Warn("registry event subscriber buffer full, dropping event", zap.String("type", string(ev.Type)))
			}
		}
	}
}

// Get returns a copy of the device with id, if present.
func (r *Registry) Get(id models.DeviceId) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// List returns a copy of every tracked device.
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Len returns the total number of tracked devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// ConflictAt returns the id of whatever device currently occupies ip,
// if any, other than excludeID.
func (r *Registry) ConflictAt(ip string, excludeID models.DeviceId) (models.DeviceId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ipIndex[ip]
	if !ok || id == excludeID {
		return "", false
	}
	return id, true
}

// Upsert inserts or replaces device, updating the IP index, and emits
// device_discovered on insert or device_updated on replace.
func (r *Registry) Upsert(device models.Device) {
	r.mu.Lock()
	_, existed := r.devices[device.ID]
	r.devices[device.ID] = device
	r.ipIndex[device.Discovery.IP] = device.ID
	r.mu.Unlock()

	if existed {
		r.publish(models.Event{Type: models.EventDeviceUpdated, Device: &device})
	} else {
		r.publish(models.Event{Type: models.EventDeviceDiscovered, Device: &device})
	}
}

// UpdateSilent inserts or replaces device without emitting an event.
// Used for enrichment (e.g. fragment matching) that must not appear as
// a discovery/update in the event stream.
func (r *Registry) UpdateSilent(device models.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[device.ID] = device
	r.ipIndex[device.Discovery.IP] = device.ID
}

// Remove deletes id from the registry and emits device_removed if it
// was present.
func (r *Registry) Remove(id models.DeviceId) bool {
	r.mu.Lock()
	d, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
		if r.ipIndex[d.Discovery.IP] == id {
			delete(r.ipIndex, d.Discovery.IP)
		}
	}
	r.mu.Unlock()

	if ok {
		r.publish(models.Event{Type: models.EventDeviceRemoved, ID: id})
	}
	return ok
}

// MarkOffline sets a device's status to offline if it is currently
// online, emitting device_offline. No-op (and returns false) if the
// device is unknown or already offline.
func (r *Registry) MarkOffline(id models.DeviceId) bool {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok || d.Status != models.StatusOnline {
		r.mu.Unlock()
		return false
	}
	d.Status = models.StatusOffline
	r.devices[id] = d
	r.mu.Unlock()

	r.publish(models.Event{Type: models.EventDeviceOffline, ID: id})
	return true
}

// MarkOnline sets a device's status to online if it is currently
// offline, emitting device_updated. No-op (and returns false) if the
// device is unknown or already online.
func (r *Registry) MarkOnline(id models.DeviceId) bool {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok || d.Status == models.StatusOnline {
		r.mu.Unlock()
		return false
	}
	d.Status = models.StatusOnline
	r.devices[id] = d
	r.mu.Unlock()

	r.publish(models.Event{Type: models.EventDeviceUpdated, Device: &d})
	return true
}

// KnownIDs returns every currently tracked DeviceId.
func (r *Registry) KnownIDs() []models.DeviceId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]models.DeviceId, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}

// PublishScanStarted emits scan_started.
func (r *Registry) PublishScanStarted() {
	r.publish(models.Event{Type: models.EventScanStarted})
}

// PublishScanCompleted emits scan_completed{found,total}.
func (r *Registry) PublishScanCompleted(found int) {
	r.publish(models.Event{Type: models.EventScanCompleted, Found: found, Total: r.Len()})
}

// PublishOTA emits ota_progress.
func (r *Registry) PublishOTA(ev models.OTAEvent) {
	r.publish(models.Event{Type: models.EventOtaProgress, OTA: &ev})
}
