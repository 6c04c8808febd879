// Package recording supervises one external encoder process per
// camera-recording: spawn, observe, terminate, and report metrics.
package recording

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the recording state machine: starting -> recording ->
// {completed | error}.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Metrics are periodic throughput samples from the encoder.
type Metrics struct {
	BytesWritten      int64         `json:"bytes_written"`
	BitrateKbps       float64       `json:"bitrate_kbps"`
	FrameRate         float64       `json:"frame_rate"`
	Uptime            time.Duration `json:"uptime"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
}

// Sample is the observer-facing snapshot broadcast every ~5s and on state
// transitions.
type Sample struct {
	CameraID   string  `json:"camera_id"`
	SessionID  string  `json:"session_id,omitempty"`
	Status     Status  `json:"status"`
	OutputFile string  `json:"output_file"`
	Metrics    Metrics `json:"metrics"`
}

// Broadcaster receives metric samples (the monitor hub). May be nil.
type Broadcaster interface {
	BroadcastRecording(Sample)
}

// ExitFunc is called after a recording's process has exited and its
// terminal status is set. Used by the session layer to persist the row and
// let a pending session stop proceed.
type ExitFunc func(rec *Recording)

// StartSpec describes one recording to launch.
type StartSpec struct {
	CameraID   string
	CameraName string
	StreamURL  string
	FilePrefix string
	SessionID  string // empty for standalone recordings
	OutputDir  string
}

// Recording tracks one encoder subprocess.
type Recording struct {
	CameraID   string
	CameraName string
	SessionID  string
	OutputFile string

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	endedAt   *time.Time
	exitErr   string
	stopping  bool
	metrics   Metrics

	cmd     *exec.Cmd
	started chan struct{} // closed once the launch attempt finished, cmd set on success
	done    chan struct{}
}

// Supervisor owns the map of running encoder processes. The map is the
// only shared mutable state; the mutex guards map access only, never I/O.
type Supervisor struct {
	ffmpeg string
	grace  time.Duration
	log    *zap.Logger
	hub    Broadcaster
	onExit ExitFunc

	mu    sync.Mutex
	procs map[string]*Recording // camera id -> running recording

	// newCmd builds the encoder command; replaced in tests.
	newCmd func(spec StartSpec, outPath string) *exec.Cmd
}

// NewSupervisor creates a supervisor. hub and onExit may be nil.
func NewSupervisor(ffmpegPath string, stopGrace time.Duration, hub Broadcaster, log *zap.Logger) *Supervisor {
	s := &Supervisor{
		ffmpeg: ffmpegPath,
		grace:  stopGrace,
		log:    log,
		hub:    hub,
		procs:  make(map[string]*Recording),
	}
	s.newCmd = func(spec StartSpec, outPath string) *exec.Cmd {
		return exec.Command(s.ffmpeg, encoderArgs(spec.StreamURL, outPath)...)
	}
	return s
}

// SetExitFunc installs the exit callback. Call before Start.
func (s *Supervisor) SetExitFunc(fn ExitFunc) { s.onExit = fn }

// OutputFileName computes the deterministic encoder output name:
// <camera-prefix>[_session<id>]-<iso-timestamp>.mp4.
func OutputFileName(prefix, sessionID string, t time.Time) string {
	name := prefix
	if sessionID != "" {
		name += "_session" + sessionID
	}
	return name + "-" + t.UTC().Format("2006-01-02T15-04-05") + ".mp4"
}

// encoderArgs favors capture robustness over quality: stable H.264 profile,
// forced keyframe interval, no audio.
func encoderArgs(streamURL, outPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	if strings.HasPrefix(streamURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", streamURL,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "main",
		"-g", "50",
		"-an",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-y", outPath,
	)
	return args
}

// Start launches an encoder for the camera and registers its process
// handle. Fails if the camera is already recording.
func (s *Supervisor) Start(spec StartSpec) (*Recording, error) {
	outFile := OutputFileName(spec.FilePrefix, spec.SessionID, time.Now())
	outPath := filepath.Join(spec.OutputDir, outFile)

	s.mu.Lock()
	if _, busy := s.procs[spec.CameraID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("camera %s: recording already running", spec.CameraID)
	}
	rec := &Recording{
		CameraID:   spec.CameraID,
		CameraName: spec.CameraName,
		SessionID:  spec.SessionID,
		OutputFile: outPath,
		status:     StatusStarting,
		startedAt:  time.Now(),
		started:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.procs[spec.CameraID] = rec
	s.mu.Unlock()

	cmd := s.newCmd(spec, outPath)
	stdout, err := cmd.StdoutPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		// A stopper may already hold this rec; release it before discarding.
		rec.mu.Lock()
		now := time.Now()
		rec.status = StatusError
		rec.exitErr = err.Error()
		rec.endedAt = &now
		rec.mu.Unlock()
		close(rec.started)
		close(rec.done)
		s.mu.Lock()
		delete(s.procs, spec.CameraID)
		s.mu.Unlock()
		return nil, fmt.Errorf("start encoder for camera %s: %w", spec.CameraID, err)
	}
	rec.mu.Lock()
	rec.cmd = cmd
	rec.mu.Unlock()
	close(rec.started)

	s.log.Info("recording started",
		zap.String("camera_id", spec.CameraID),
		zap.String("session_id", spec.SessionID),
		zap.String("output", outPath))

	go s.watchProgress(rec, stdout)
	go s.waitExit(rec)
	return rec, nil
}

// watchProgress consumes the encoder's key=value progress stream. The
// first output flips the status to recording; throughput samples are
// aggregated and broadcast every ~5s.
func (s *Supervisor) watchProgress(rec *Recording, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	lastSample := time.Now()
	for scanner.Scan() {
		line := scanner.Text()
		rec.mu.Lock()
		if rec.status == StatusStarting {
			rec.status = StatusRecording
			s.log.Info("encoder producing output",
				zap.String("camera_id", rec.CameraID))
		}
		key, val, found := strings.Cut(line, "=")
		if found {
			switch key {
			case "total_size":
				if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
					prev := rec.metrics.BytesWritten
					rec.metrics.BytesWritten = n
					elapsed := time.Since(lastSample).Seconds()
					if elapsed > 0 && n > prev {
						rec.metrics.BitrateKbps = float64(n-prev) * 8 / 1000 / elapsed
					}
				}
			case "fps":
				if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
					rec.metrics.FrameRate = f
				}
			}
		}
		rec.metrics.Uptime = time.Since(rec.startedAt)
		rec.metrics.ConsecutiveErrors = 0
		sample, due := rec.sampleLocked(), time.Since(lastSample) >= 5*time.Second
		rec.mu.Unlock()
		if due {
			lastSample = time.Now()
			s.broadcast(sample)
		}
	}
}

// waitExit observes process exit, sets terminal state and notifies.
func (s *Supervisor) waitExit(rec *Recording) {
	err := rec.cmd.Wait()

	rec.mu.Lock()
	now := time.Now()
	rec.endedAt = &now
	// Graceful stop delivers a signal, so a non-zero exit after Stop still
	// counts as completed.
	if err == nil || rec.stopping {
		rec.status = StatusCompleted
	} else {
		rec.status = StatusError
		rec.exitErr = err.Error()
		rec.metrics.ConsecutiveErrors++
	}
	sample := rec.sampleLocked()
	rec.mu.Unlock()
	close(rec.done)

	s.mu.Lock()
	if cur, ok := s.procs[rec.CameraID]; ok && cur == rec {
		delete(s.procs, rec.CameraID)
	}
	s.mu.Unlock()

	if sample.Status == StatusError {
		s.log.Warn("recording failed",
			zap.String("camera_id", rec.CameraID),
			zap.String("session_id", rec.SessionID),
			zap.String("error", rec.exitErr))
	} else {
		s.log.Info("recording finished",
			zap.String("camera_id", rec.CameraID),
			zap.String("output", rec.OutputFile))
	}
	s.broadcast(sample)
	if s.onExit != nil {
		s.onExit(rec)
	}
}

// Stop terminates the camera's recording: graceful signal first, hard kill
// after the grace period. Stopping an already stopped camera is a no-op.
func (s *Supervisor) Stop(cameraID string) error {
	s.mu.Lock()
	rec, ok := s.procs[cameraID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	rec.mu.Lock()
	alreadyStopping := rec.stopping
	rec.stopping = true
	rec.mu.Unlock()
	if alreadyStopping {
		<-rec.done
		return nil
	}

	// The launch may still be in flight for a rec already visible in the
	// map; wait until it has either produced a process or failed.
	<-rec.started
	rec.mu.Lock()
	cmd := rec.cmd
	rec.mu.Unlock()
	if cmd == nil {
		<-rec.done
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		// Process may have just exited on its own.
		s.log.Debug("stop signal failed", zap.String("camera_id", cameraID), zap.Error(err))
	}
	select {
	case <-rec.done:
	case <-time.After(s.grace):
		s.log.Warn("encoder did not exit in grace period, killing",
			zap.String("camera_id", cameraID),
			zap.Duration("grace", s.grace))
		_ = cmd.Process.Kill()
		<-rec.done
	}
	return nil
}

// StopSession stops every recording owned by the session, best effort.
func (s *Supervisor) StopSession(sessionID string) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id, rec := range s.procs {
		if rec.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.Stop(id); err != nil {
			s.log.Warn("session cascade stop failed",
				zap.String("camera_id", id),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
}

// StopAll stops every running recording (shutdown path).
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		_ = s.Stop(id)
	}
}

// Active returns the running recording for a camera, if any.
func (s *Supervisor) Active(cameraID string) (*Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.procs[cameraID]
	return rec, ok
}

// Samples returns a snapshot of every running recording.
func (s *Supervisor) Samples() []Sample {
	s.mu.Lock()
	recs := make([]*Recording, 0, len(s.procs))
	for _, rec := range s.procs {
		recs = append(recs, rec)
	}
	s.mu.Unlock()
	out := make([]Sample, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Sample())
	}
	return out
}

func (s *Supervisor) broadcast(sample Sample) {
	if s.hub != nil {
		s.hub.BroadcastRecording(sample)
	}
}

// Status returns the recording's current status.
func (r *Recording) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// StartedAt returns the launch time.
func (r *Recording) StartedAt() time.Time { return r.startedAt }

// EndedAt returns the exit time, nil while running.
func (r *Recording) EndedAt() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endedAt
}

// ExitError returns the encoder error string for failed recordings.
func (r *Recording) ExitError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitErr
}

// Sample returns an observer snapshot.
func (r *Recording) Sample() Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sampleLocked()
}

func (r *Recording) sampleLocked() Sample {
	return Sample{
		CameraID:   r.CameraID,
		SessionID:  r.SessionID,
		Status:     r.status,
		OutputFile: r.OutputFile,
		Metrics:    r.metrics,
	}
}

// Done is closed once the process has exited.
func (r *Recording) Done() <-chan struct{} { return r.done }
