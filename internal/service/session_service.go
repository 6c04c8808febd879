package service

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/errs"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/model"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/recording"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/registry"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/storage"
)

// SessionService manages capture session lifecycle: metadata rows in the
// store, live orchestration through the registry.
type SessionService struct {
	db        *gorm.DB
	reg       *registry.Registry
	sup       *recording.Supervisor
	layout    storage.Layout
	baseTopic string
	log       *zap.Logger
}

// NewSessionService creates a session service.
func NewSessionService(db *gorm.DB, reg *registry.Registry, sup *recording.Supervisor, layout storage.Layout, baseTopic string, log *zap.Logger) *SessionService {
	return &SessionService{db: db, reg: reg, sup: sup, layout: layout, baseTopic: baseTopic, log: log}
}

// Start creates a new capture session. Returns ErrSessionActive when one is
// already running; per-camera start failures are reported in the response,
// they do not abort the session.
func (s *SessionService) Start(req model.StartSessionRequest) (*model.StartSessionResponse, error) {
	cams, err := s.loadCameras(req.Cameras)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	specs := make([]registry.CameraSpec, 0, len(cams))
	for _, c := range cams {
		specs = append(specs, registry.CameraSpec{
			ID:         c.ID,
			Name:       c.Name,
			StreamURL:  c.StreamURL,
			FilePrefix: c.FilePrefix,
		})
	}

	failures, err := s.reg.Start(registry.StartParams{
		SessionID: id,
		Name:      req.Name,
		Sensors:   req.Sensors,
		Topics:    s.sensorTopics(req.Sensors),
		Cameras:   specs,
	})
	if err != nil {
		return nil, err
	}

	storageDir := s.layout.SessionDir(id)
	row := &model.CaptureSession{
		ID:         id,
		Name:       req.Name,
		Status:     string(model.SessionStatusActive),
		Sensors:    strings.Join(req.Sensors, ","),
		Tags:       strings.Join(req.Tags, ","),
		StorageDir: storageDir,
		StartedAt:  time.Now(),
	}
	if err := s.db.Create(row).Error; err != nil {
		// The live session exists but we cannot track it; tear it down so
		// the caller sees one consistent failure.
		s.reg.Stop(id)
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.persistRecordingRows(id, specs, failures)

	return &model.StartSessionResponse{
		SessionID:      id,
		Status:         string(model.SessionStatusActive),
		StorageDir:     storageDir,
		CameraFailures: failures,
	}, nil
}

// Stop finishes a session: cascading stop through the registry, then the
// metadata row transitions to completed. Idempotent: a second stop finds
// the row already terminal and changes nothing.
func (s *SessionService) Stop(sessionID string) error {
	var row model.CaptureSession
	if err := s.db.Where("id = ?", sessionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrSessionNotFound
		}
		return err
	}

	s.reg.Stop(sessionID)

	if row.Status != string(model.SessionStatusActive) {
		return nil
	}
	now := time.Now()
	if err := s.db.Model(&row).Updates(map[string]interface{}{
		"status":   string(model.SessionStatusCompleted),
		"ended_at": now,
	}).Error; err != nil {
		return err
	}
	return nil
}

// Get returns one session with its recording list.
func (s *SessionService) Get(sessionID string) (*model.Session, error) {
	var row model.CaptureSession
	if err := s.db.Preload("Recordings").Where("id = ?", sessionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrSessionNotFound
		}
		return nil, err
	}
	return s.rowToSession(&row), nil
}

// List returns every session, newest first.
func (s *SessionService) List() ([]model.Session, error) {
	var rows []model.CaptureSession
	if err := s.db.Preload("Recordings").Order("started_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(rows))
	for i := range rows {
		out = append(out, *s.rowToSession(&rows[i]))
	}
	return out, nil
}

// StartStandaloneRecording records one camera outside any session.
func (s *SessionService) StartStandaloneRecording(cameraID string) (*model.RecordingStatus, error) {
	cams, err := s.loadCameras([]string{cameraID})
	if err != nil {
		return nil, err
	}
	cam := cams[0]
	rec, err := s.sup.Start(recording.StartSpec{
		CameraID:   cam.ID,
		CameraName: cam.Name,
		StreamURL:  cam.StreamURL,
		FilePrefix: cam.FilePrefix,
		OutputDir:  s.standaloneDir(),
	})
	if err != nil {
		return nil, err
	}
	row := &model.RecordingRow{
		ID:         uuid.New().String(),
		CameraID:   cam.ID,
		Status:     string(recording.StatusStarting),
		OutputFile: rec.OutputFile,
		StartedAt:  rec.StartedAt(),
	}
	if err := s.db.Create(row).Error; err != nil {
		s.log.Warn("recording row persist failed", zap.String("camera_id", cam.ID), zap.Error(err))
	}
	status := recStatus(rec)
	return &status, nil
}

// StopStandaloneRecording stops a camera's recording. No-op if already
// stopped.
func (s *SessionService) StopStandaloneRecording(cameraID string) error {
	if _, err := s.loadCameras([]string{cameraID}); err != nil {
		return err
	}
	return s.sup.Stop(cameraID)
}

// HandleRecordingExit is the supervisor's exit callback: it persists the
// terminal status of the matching recording row.
func (s *SessionService) HandleRecordingExit(rec *recording.Recording) {
	updates := map[string]interface{}{
		"status":   string(rec.Status()),
		"ended_at": rec.EndedAt(),
	}
	q := s.db.Model(&model.RecordingRow{}).
		Where("camera_id = ? AND output_file = ?", rec.CameraID, rec.OutputFile)
	if err := q.Updates(updates).Error; err != nil {
		s.log.Warn("recording exit persist failed",
			zap.String("camera_id", rec.CameraID), zap.Error(err))
	}
}

func (s *SessionService) loadCameras(ids []string) ([]model.Camera, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var cams []model.Camera
	if err := s.db.Where("id IN ?", ids).Find(&cams).Error; err != nil {
		return nil, err
	}
	if len(cams) != len(ids) {
		return nil, errs.ErrCameraNotFound
	}
	return cams, nil
}

// sensorTopics maps sensor identities to broker subscriptions replayed on
// reconnect. The base wildcard already covers the bridge root; this adds
// direct topics for sensors addressed outside it.
func (s *SessionService) sensorTopics(sensors []string) []string {
	out := make([]string, 0, len(sensors))
	for _, sensor := range sensors {
		if sensor == "" {
			continue
		}
		out = append(out, s.baseTopic+"/"+sensor)
	}
	return out
}

func (s *SessionService) standaloneDir() string {
	return filepath.Join(s.layout.Root, "recordings")
}

func (s *SessionService) persistRecordingRows(sessionID string, specs []registry.CameraSpec, failures []model.CameraFailure) {
	failed := make(map[string]string, len(failures))
	for _, f := range failures {
		failed[f.CameraID] = f.Error
	}
	for _, spec := range specs {
		if _, ok := failed[spec.ID]; ok {
			continue
		}
		rec, ok := s.sup.Active(spec.ID)
		if !ok {
			continue
		}
		row := &model.RecordingRow{
			ID:         uuid.New().String(),
			SessionID:  &sessionID,
			CameraID:   spec.ID,
			Status:     string(rec.Status()),
			OutputFile: rec.OutputFile,
			StartedAt:  rec.StartedAt(),
		}
		if err := s.db.Create(row).Error; err != nil {
			s.log.Warn("recording row persist failed",
				zap.String("session_id", sessionID),
				zap.String("camera_id", spec.ID),
				zap.Error(err))
		}
	}
}

func (s *SessionService) rowToSession(row *model.CaptureSession) *model.Session {
	sess := &model.Session{
		ID:         row.ID,
		Name:       row.Name,
		Status:     model.SessionStatus(row.Status),
		Sensors:    splitCSV(row.Sensors),
		Tags:       splitCSV(row.Tags),
		StorageDir: row.StorageDir,
		StartedAt:  row.StartedAt,
		EndedAt:    row.EndedAt,
	}
	for _, rec := range row.Recordings {
		status := model.RecordingStatus{
			CameraID:   rec.CameraID,
			Status:     rec.Status,
			OutputFile: rec.OutputFile,
			StartedAt:  rec.StartedAt,
			EndedAt:    rec.EndedAt,
		}
		// Live recordings override the persisted snapshot.
		if live, ok := s.sup.Active(rec.CameraID); ok && live.OutputFile == rec.OutputFile {
			status.Status = string(live.Status())
		}
		sess.Recordings = append(sess.Recordings, status)
		sess.Cameras = append(sess.Cameras, rec.CameraID)
	}
	return sess
}

func recStatus(rec *recording.Recording) model.RecordingStatus {
	return model.RecordingStatus{
		CameraID:   rec.CameraID,
		Status:     string(rec.Status()),
		OutputFile: rec.OutputFile,
		StartedAt:  rec.StartedAt(),
		EndedAt:    rec.EndedAt(),
		Error:      rec.ExitError(),
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
