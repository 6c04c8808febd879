package export

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/model"
)

func buildArchive(t *testing.T, meta SessionMeta, arts []Artifact, omissions []Omission) map[string][]byte {
	t.Helper()
	var buf bytes.Buffer
	a := NewArchiver(zap.NewNop())
	if err := a.Build(&buf, meta, arts, omissions, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip open: %v", err)
	}
	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("zip entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("zip entry read %s: %v", f.Name, err)
		}
		entries[f.Name] = data
	}
	return entries
}

func TestArchiverLaysOutEntriesByKind(t *testing.T) {
	dir := t.TempDir()
	rec := filepath.Join(dir, "lab-cam-1.mp4")
	sensorJSON := filepath.Join(dir, "TEMP-1.json")
	traffic := filepath.Join(dir, "messages.csv")
	if err := os.WriteFile(rec, []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sensorJSON, []byte(`{"sensorId":"TEMP-1","data":[]}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(traffic, []byte("timestamp,topic\n"), 0644); err != nil {
		t.Fatal(err)
	}

	entries := buildArchive(t, SessionMeta{ID: "abc", StartedAt: time.Now()}, []Artifact{
		{Path: rec, Kind: KindRecording, CameraID: "cam-1"},
		{Path: sensorJSON, Kind: KindSensorData, SensorID: "TEMP-1"},
		{Path: traffic, Kind: KindTrafficLog},
	}, nil)

	for _, want := range []string{
		"recordings/lab-cam-1.mp4",
		"sensors/TEMP-1.json",
		"sensors/raw/messages.csv",
		"AllData.json",
		"README.txt",
	} {
		if _, ok := entries[want]; !ok {
			t.Errorf("entry %s missing, have %v", want, keys(entries))
		}
	}
	if string(entries["recordings/lab-cam-1.mp4"]) != "video" {
		t.Error("recording content mangled")
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(entries["AllData.json"], &all); err != nil {
		t.Fatalf("AllData.json: %v", err)
	}
	if _, ok := all["TEMP-1"]; !ok {
		t.Errorf("AllData.json keys = %v", all)
	}
}

func TestArchiverZeroArtifactsStillValid(t *testing.T) {
	ended := time.Now()
	entries := buildArchive(t, SessionMeta{
		ID:        "abc",
		Name:      "trial run",
		Sensors:   []string{"TEMP-1"},
		StartedAt: ended.Add(-time.Hour),
		EndedAt:   &ended,
	}, nil, nil)

	manifest, ok := entries["README.txt"]
	if !ok {
		t.Fatalf("README.txt missing, have %v", keys(entries))
	}
	text := string(manifest)
	if !strings.Contains(text, "Session ID:   abc") || !strings.Contains(text, "trial run") {
		t.Errorf("manifest missing metadata:\n%s", text)
	}
	if !strings.Contains(text, "0 archived") {
		t.Errorf("manifest missing artifact count:\n%s", text)
	}
}

func TestArchiverSkipsUnreadableAndNotesOmissions(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "ok.mp4")
	if err := os.WriteFile(good, []byte("v"), 0644); err != nil {
		t.Fatal(err)
	}

	var archived int
	var buf bytes.Buffer
	a := NewArchiver(zap.NewNop())
	err := a.Build(&buf, SessionMeta{ID: "abc", StartedAt: time.Now()},
		[]Artifact{
			{Path: good, Kind: KindRecording, CameraID: "cam-1"},
			{Path: filepath.Join(dir, "missing.mp4"), Kind: KindRecording, CameraID: "cam-2"},
		},
		[]Omission{{CameraID: "cam-3", Expected: "never-found.mp4", Reason: "recording file not found under any known root"}},
		func(n int) { archived = n })
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if archived != 1 {
		t.Errorf("progress callback archived = %d, want 1", archived)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip open: %v", err)
	}
	var manifest string
	for _, f := range zr.File {
		if f.Name != "README.txt" {
			continue
		}
		rc, _ := f.Open()
		data, _ := io.ReadAll(rc)
		rc.Close()
		manifest = string(data)
	}
	if !strings.Contains(manifest, "1 archived, 2 missing/skipped") {
		t.Errorf("manifest counts wrong:\n%s", manifest)
	}
	if !strings.Contains(manifest, "cam-2") || !strings.Contains(manifest, "cam-3") {
		t.Errorf("manifest omissions incomplete:\n%s", manifest)
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	if got := tr.Get("abc"); got.Phase != PhaseIdle || got.SessionID != "abc" {
		t.Fatalf("fresh progress = %+v", got)
	}

	tr.Update("abc", func(p *model.ExportProgress) {
		p.Phase = PhaseArchiving
		p.Archived = 3
		p.Located = 5
	})
	got := tr.Get("abc")
	if got.Phase != PhaseArchiving || got.Archived != 3 || got.Located != 5 {
		t.Fatalf("progress = %+v", got)
	}
	// Sessions are tracked independently.
	if other := tr.Get("other"); other.Phase != PhaseIdle {
		t.Fatalf("other session progress = %+v", other)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
