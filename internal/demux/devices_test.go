package demux

import (
	"testing"

	"go.uber.org/zap"
)

type fakeSaver struct {
	saved []byte
}

func (f *fakeSaver) SaveDeviceList(payload []byte) error {
	f.saved = append([]byte(nil), payload...)
	return nil
}

func TestDeviceRegistryUpdateAndPersist(t *testing.T) {
	saver := &fakeSaver{}
	r := NewDeviceRegistry(saver, zap.NewNop())

	payload := []byte(`[
		{"friendly_name":"TEMP-1","ieee_address":"0x01","type":"EndDevice","vendor":"Aqara"},
		{"friendly_name":"","ieee_address":"0x02","type":"Coordinator"}
	]`)
	if err := r.UpdateFromPayload(payload); err != nil {
		t.Fatalf("UpdateFromPayload: %v", err)
	}

	if !r.Known("TEMP-1") {
		t.Error("TEMP-1 not registered")
	}
	if len(r.List()) != 1 {
		t.Errorf("List = %d devices, want 1 (nameless entry skipped)", len(r.List()))
	}
	if len(saver.saved) == 0 {
		t.Error("raw payload not handed to saver")
	}
}

func TestDeviceRegistryRejectsBadPayload(t *testing.T) {
	r := NewDeviceRegistry(nil, zap.NewNop())
	if err := r.UpdateFromPayload([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDeviceRegistryRestore(t *testing.T) {
	r := NewDeviceRegistry(nil, zap.NewNop())
	r.Restore([]byte(`[{"friendly_name":"HUM-1","ieee_address":"0x03","type":"EndDevice"}]`))
	if !r.Known("HUM-1") {
		t.Error("restored device not registered")
	}
	// Garbage and empty payloads are ignored.
	r.Restore([]byte("???"))
	r.Restore(nil)
	if !r.Known("HUM-1") {
		t.Error("restore of bad payload clobbered registry")
	}
}
