package demux

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Device is one entry from the bridge device-list topic.
type Device struct {
	FriendlyName string `json:"friendly_name"`
	IEEEAddress  string `json:"ieee_address"`
	Type         string `json:"type"`
	Vendor       string `json:"vendor,omitempty"`
	Model        string `json:"model,omitempty"`
}

// DeviceSaver persists the raw device-list payload for resume after
// restart. Implemented by broker.StateCache.
type DeviceSaver interface {
	SaveDeviceList(payload []byte) error
}

// DeviceRegistry holds the devices announced by the bridge. It is a side
// channel updated directly by the topic router, not per-session state.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]Device
	saver   DeviceSaver // optional
	log     *zap.Logger
}

// NewDeviceRegistry creates an empty registry. saver may be nil.
func NewDeviceRegistry(saver DeviceSaver, log *zap.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]Device),
		saver:   saver,
		log:     log,
	}
}

// UpdateFromPayload replaces the registry from a bridge device-list message
// and persists the raw payload.
func (r *DeviceRegistry) UpdateFromPayload(payload []byte) error {
	var list []Device
	if err := json.Unmarshal(payload, &list); err != nil {
		return err
	}
	r.mu.Lock()
	r.devices = make(map[string]Device, len(list))
	for _, d := range list {
		if d.FriendlyName != "" {
			r.devices[d.FriendlyName] = d
		}
	}
	r.mu.Unlock()
	if r.saver != nil {
		if err := r.saver.SaveDeviceList(payload); err != nil {
			r.log.Warn("device list persist failed", zap.Error(err))
		}
	}
	return nil
}

// Restore loads a previously persisted device-list payload (best effort).
func (r *DeviceRegistry) Restore(payload []byte) {
	if len(payload) == 0 {
		return
	}
	var list []Device
	if err := json.Unmarshal(payload, &list); err != nil {
		r.log.Warn("cached device list unreadable", zap.Error(err))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range list {
		if d.FriendlyName != "" {
			r.devices[d.FriendlyName] = d
		}
	}
}

// List returns a copy of the known devices.
func (r *DeviceRegistry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Known reports whether a friendly name is registered.
func (r *DeviceRegistry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[name]
	return ok
}
