package recording

import (
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeHub struct {
	mu      sync.Mutex
	samples []Sample
}

func (f *fakeHub) BroadcastRecording(s Sample) {
	f.mu.Lock()
	f.samples = append(f.samples, s)
	f.mu.Unlock()
}

func (f *fakeHub) last() (Sample, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) == 0 {
		return Sample{}, false
	}
	return f.samples[len(f.samples)-1], true
}

func newTestSupervisor(t *testing.T, hub Broadcaster, script string) *Supervisor {
	t.Helper()
	s := NewSupervisor("ffmpeg", 200*time.Millisecond, hub, zap.NewNop())
	s.newCmd = func(spec StartSpec, outPath string) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
	return s
}

func TestOutputFileName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		prefix    string
		sessionID string
		want      string
	}{
		{"lab-cam-1", "abc123", "lab-cam-1_sessionabc123-2026-03-04T10-30-00.mp4"},
		{"lab-cam-1", "", "lab-cam-1-2026-03-04T10-30-00.mp4"},
	}
	for _, tt := range tests {
		if got := OutputFileName(tt.prefix, tt.sessionID, ts); got != tt.want {
			t.Errorf("OutputFileName(%q, %q) = %q, want %q", tt.prefix, tt.sessionID, got, tt.want)
		}
	}
}

func TestEncoderArgs(t *testing.T) {
	args := strings.Join(encoderArgs("rtsp://cam/stream", "/out/a.mp4"), " ")
	if !strings.Contains(args, "-rtsp_transport tcp") {
		t.Error("rtsp input missing tcp transport")
	}
	if !strings.Contains(args, "-progress pipe:1") {
		t.Error("progress stream not requested")
	}
	if !strings.Contains(args, "-an") {
		t.Error("audio not disabled")
	}

	httpArgs := strings.Join(encoderArgs("http://cam/stream.m3u8", "/out/a.mp4"), " ")
	if strings.Contains(httpArgs, "rtsp_transport") {
		t.Error("non-rtsp input got rtsp transport flag")
	}
}

func TestSupervisorLifecycleCompleted(t *testing.T) {
	hub := &fakeHub{}
	// The pause keeps the process alive long enough for the progress reader
	// to consume both lines before exit.
	s := newTestSupervisor(t, hub, `echo "total_size=4096"; echo "fps=25.0"; sleep 0.3; exit 0`)

	rec, err := s.Start(StartSpec{
		CameraID:   "cam-1",
		FilePrefix: "lab-cam-1",
		SessionID:  "sess-1",
		OutputDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-rec.Done()

	if got := rec.Status(); got != StatusCompleted {
		t.Errorf("status = %s, want %s", got, StatusCompleted)
	}
	if rec.EndedAt() == nil {
		t.Error("EndedAt not set")
	}
	if _, active := s.Active("cam-1"); active {
		t.Error("exited recording still registered")
	}
	sample, ok := hub.last()
	if !ok || sample.Status != StatusCompleted {
		t.Errorf("final broadcast = %+v, %v", sample, ok)
	}
	if sample.Metrics.BytesWritten != 4096 {
		t.Errorf("bytes written = %d, want 4096", sample.Metrics.BytesWritten)
	}
	if sample.Metrics.FrameRate != 25.0 {
		t.Errorf("frame rate = %v, want 25", sample.Metrics.FrameRate)
	}
}

func TestSupervisorEncoderFailure(t *testing.T) {
	var exited []*Recording
	var mu sync.Mutex
	s := newTestSupervisor(t, nil, `exit 1`)
	s.SetExitFunc(func(rec *Recording) {
		mu.Lock()
		exited = append(exited, rec)
		mu.Unlock()
	})

	rec, err := s.Start(StartSpec{CameraID: "cam-1", FilePrefix: "p", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-rec.Done()

	if got := rec.Status(); got != StatusError {
		t.Errorf("status = %s, want %s", got, StatusError)
	}
	if rec.ExitError() == "" {
		t.Error("exit error not recorded")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(exited) != 1 || exited[0] != rec {
		t.Errorf("exit callback calls = %d", len(exited))
	}
}

func TestSupervisorRejectsBusyCamera(t *testing.T) {
	s := newTestSupervisor(t, nil, `sleep 5`)
	rec, err := s.Start(StartSpec{CameraID: "cam-1", FilePrefix: "p", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		_ = s.Stop("cam-1")
		<-rec.Done()
	}()

	if _, err := s.Start(StartSpec{CameraID: "cam-1", FilePrefix: "p", OutputDir: t.TempDir()}); err == nil {
		t.Fatal("second start for the same camera should fail")
	}
	// Other cameras are unaffected by one camera being busy.
	rec2, err := s.Start(StartSpec{CameraID: "cam-2", FilePrefix: "q", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start for cam-2: %v", err)
	}
	_ = s.Stop("cam-2")
	<-rec2.Done()
}

func TestSupervisorStopKillsAfterGrace(t *testing.T) {
	// The encoder ignores the graceful signal; Stop must fall through to a
	// hard kill after the grace period.
	s := newTestSupervisor(t, nil, `trap "" INT; sleep 30`)
	rec, err := s.Start(StartSpec{CameraID: "cam-1", FilePrefix: "p", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if err := s.Stop("cam-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-rec.Done()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("stop took %v, kill fallback did not fire", elapsed)
	}
	// Stop delivered a signal, so the non-zero exit still counts completed.
	if got := rec.Status(); got != StatusCompleted {
		t.Errorf("status = %s, want %s", got, StatusCompleted)
	}
	if err := s.Stop("cam-1"); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSupervisorStopDuringStartWindow(t *testing.T) {
	release := make(chan struct{})
	s := NewSupervisor("ffmpeg", 200*time.Millisecond, nil, zap.NewNop())
	s.newCmd = func(spec StartSpec, outPath string) *exec.Cmd {
		<-release
		return exec.Command("sh", "-c", "sleep 30")
	}

	outDir := t.TempDir()
	startDone := make(chan error, 1)
	go func() {
		_, err := s.Start(StartSpec{CameraID: "cam-1", FilePrefix: "p", OutputDir: outDir})
		startDone <- err
	}()
	// The camera is registered before the encoder launches; stop it inside
	// that window.
	for {
		if _, ok := s.Active("cam-1"); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	stopDone := make(chan error, 1)
	go func() { stopDone <- s.Stop("cam-1") }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-startDone; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := <-stopDone; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, active := s.Active("cam-1"); active {
		t.Error("camera still registered after stop")
	}
}

func TestSupervisorStopToleratesFailedLaunch(t *testing.T) {
	release := make(chan struct{})
	s := NewSupervisor("ffmpeg", 200*time.Millisecond, nil, zap.NewNop())
	s.newCmd = func(spec StartSpec, outPath string) *exec.Cmd {
		<-release
		return exec.Command("/nonexistent/encoder")
	}

	outDir := t.TempDir()
	startDone := make(chan error, 1)
	go func() {
		_, err := s.Start(StartSpec{CameraID: "cam-1", FilePrefix: "p", OutputDir: outDir})
		startDone <- err
	}()
	for {
		if _, ok := s.Active("cam-1"); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	stopDone := make(chan error, 1)
	go func() { stopDone <- s.Stop("cam-1") }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-startDone; err == nil {
		t.Fatal("Start with an unlaunchable encoder should fail")
	}
	// The stopper caught in the window must return, not hang or panic.
	select {
	case err := <-stopDone:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung on a failed launch")
	}
	if _, active := s.Active("cam-1"); active {
		t.Error("failed launch left the camera registered")
	}
}

func TestSupervisorStopSessionScoping(t *testing.T) {
	s := newTestSupervisor(t, nil, `sleep 30`)
	recA, err := s.Start(StartSpec{CameraID: "cam-a", FilePrefix: "a", SessionID: "sess-1", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start cam-a: %v", err)
	}
	recB, err := s.Start(StartSpec{CameraID: "cam-b", FilePrefix: "b", SessionID: "sess-2", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start cam-b: %v", err)
	}

	s.StopSession("sess-1")
	<-recA.Done()
	if _, active := s.Active("cam-b"); !active {
		t.Error("recording from another session was stopped")
	}

	s.StopAll()
	<-recB.Done()
	if len(s.Samples()) != 0 {
		t.Errorf("samples after StopAll = %d, want 0", len(s.Samples()))
	}
}
