package export

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/storage"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLocatorFindsByExactStoredPath(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	stored := filepath.Join(t.TempDir(), "lab-cam-1_sessionabc-2026-01-01T00-00-00.mp4")
	touch(t, stored)

	l := NewLocator(layout, nil, zap.NewNop())
	arts, omissions := l.Locate(SessionMeta{
		ID:         "abc",
		Recordings: []RecordingMeta{{CameraID: "cam-1", OutputFile: stored}},
	})
	if len(omissions) != 0 {
		t.Fatalf("omissions = %v", omissions)
	}
	if len(arts) != 1 || arts[0].Path != stored || arts[0].Kind != KindRecording {
		t.Fatalf("artifacts = %v", arts)
	}
}

func TestLocatorFallsBackToBasenamePerRoot(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	legacy := t.TempDir()
	// The stored absolute path is stale; only the basename survives under a
	// legacy root.
	touch(t, filepath.Join(legacy, "lab-cam-1_sessionabc-2026-01-01T00-00-00.mp4"))

	l := NewLocator(layout, []string{legacy}, zap.NewNop())
	arts, omissions := l.Locate(SessionMeta{
		ID: "abc",
		Recordings: []RecordingMeta{{
			CameraID:   "cam-1",
			OutputFile: "/moved/elsewhere/lab-cam-1_sessionabc-2026-01-01T00-00-00.mp4",
		}},
	})
	if len(omissions) != 0 {
		t.Fatalf("omissions = %v", omissions)
	}
	want := filepath.Join(legacy, "lab-cam-1_sessionabc-2026-01-01T00-00-00.mp4")
	if len(arts) != 1 || arts[0].Path != want {
		t.Fatalf("artifacts = %v, want %s", arts, want)
	}
}

func TestLocatorPatternMatchesSeparatorVariants(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	legacy := t.TempDir()
	// The camera id is cam-1 but the legacy writer used underscores.
	touch(t, filepath.Join(legacy, "old_cam_1_capture.mp4"))
	touch(t, filepath.Join(legacy, "unrelated.txt"))

	l := NewLocator(layout, []string{legacy}, zap.NewNop())
	arts, omissions := l.Locate(SessionMeta{
		ID:         "abc",
		Recordings: []RecordingMeta{{CameraID: "cam-1", OutputFile: "gone.mp4"}},
	})
	if len(omissions) != 0 {
		t.Fatalf("omissions = %v", omissions)
	}
	if len(arts) != 1 || filepath.Base(arts[0].Path) != "old_cam_1_capture.mp4" {
		t.Fatalf("artifacts = %v", arts)
	}
}

func TestLocatorScoredWalkPrefersBestMatch(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	legacy := t.TempDir()
	// Both nested files mention the camera; only one also mentions the
	// session id, so it must win.
	touch(t, filepath.Join(legacy, "2026", "01", "cam-1-other.mp4"))
	touch(t, filepath.Join(legacy, "2026", "02", "cam-1-sessabc.mp4"))

	l := NewLocator(layout, []string{legacy}, zap.NewNop())
	arts, omissions := l.Locate(SessionMeta{
		ID:         "sessabc",
		Recordings: []RecordingMeta{{CameraID: "cam-1", OutputFile: "gone.mp4"}},
	})
	if len(omissions) != 0 {
		t.Fatalf("omissions = %v", omissions)
	}
	if len(arts) != 1 || filepath.Base(arts[0].Path) != "cam-1-sessabc.mp4" {
		t.Fatalf("artifacts = %v", arts)
	}
}

func TestLocatorWalkDepthBound(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	legacy := t.TempDir()
	deep := filepath.Join(legacy, "a", "b", "c", "d", "e")
	touch(t, filepath.Join(deep, "cam-1-sessabc.mp4"))

	l := NewLocator(layout, []string{legacy}, zap.NewNop())
	_, omissions := l.Locate(SessionMeta{
		ID:         "sessabc",
		Recordings: []RecordingMeta{{CameraID: "cam-1", OutputFile: "gone.mp4"}},
	})
	if len(omissions) != 1 {
		t.Fatalf("file beyond the walk depth was found, omissions = %v", omissions)
	}
}

func TestLocatorReportsOmission(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	l := NewLocator(layout, nil, zap.NewNop())
	_, omissions := l.Locate(SessionMeta{
		ID:         "abc",
		Recordings: []RecordingMeta{{CameraID: "cam-1", OutputFile: "/nowhere/x.mp4"}},
	})
	if len(omissions) != 1 || omissions[0].CameraID != "cam-1" {
		t.Fatalf("omissions = %v", omissions)
	}
	if omissions[0].Expected != "/nowhere/x.mp4" {
		t.Errorf("expected path = %q", omissions[0].Expected)
	}
}

func TestLocatorEnumeratesSensorAndTrafficFiles(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	if err := layout.Provision("abc"); err != nil {
		t.Fatalf("provision: %v", err)
	}
	touch(t, filepath.Join(layout.SensorDataDir("abc"), "TEMP-1.json"))
	touch(t, filepath.Join(layout.SensorDataDir("abc"), "TEMP-1.csv"))
	touch(t, filepath.Join(layout.SensorDataDir("abc"), "notes.txt")) // ignored
	touch(t, filepath.Join(layout.MQTTDataDir("abc"), "messages.json"))

	l := NewLocator(layout, nil, zap.NewNop())
	arts, _ := l.Locate(SessionMeta{ID: "abc"})

	var sensors, traffic int
	for _, a := range arts {
		switch a.Kind {
		case KindSensorData:
			sensors++
			if a.SensorID != "TEMP-1" {
				t.Errorf("sensor id = %q", a.SensorID)
			}
		case KindTrafficLog:
			traffic++
		}
	}
	if sensors != 2 || traffic != 1 {
		t.Fatalf("sensors = %d, traffic = %d, want 2/1", sensors, traffic)
	}
}

func TestContainsToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"lab-cam-1-x.mp4", "cam-1", true},
		{"lab_cam_1_x.mp4", "cam-1", true},
		{"labcam1x.mp4", "cam-1", true},
		{"other.mp4", "cam-1", false},
		{"anything.mp4", "", false},
	}
	for _, tt := range tests {
		if got := containsToken(tt.name, tt.token); got != tt.want {
			t.Errorf("containsToken(%q, %q) = %v, want %v", tt.name, tt.token, got, tt.want)
		}
	}
}
