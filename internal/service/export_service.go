package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/errs"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/export"
	"github.com/yulithalta/lisa-research-platform-sub000/internal/model"
)

// ExportService builds session archives. It runs independently of the live
// registry, operating purely on the filesystem plus stored metadata.
type ExportService struct {
	db       *gorm.DB
	locator  *export.Locator
	archiver *export.Archiver
	tracker  *export.Tracker
	log      *zap.Logger
}

// NewExportService creates an export service.
func NewExportService(db *gorm.DB, locator *export.Locator, archiver *export.Archiver, tracker *export.Tracker, log *zap.Logger) *ExportService {
	return &ExportService{db: db, locator: locator, archiver: archiver, tracker: tracker, log: log}
}

// Progress returns the last known export progress for a session.
func (s *ExportService) Progress(sessionID string) model.ExportProgress {
	return s.tracker.Get(sessionID)
}

// Stream locates the session's artifacts and streams the archive to w.
// Missing artifacts become manifest omissions, never errors; only an
// unknown session or a write failure on w aborts.
func (s *ExportService) Stream(ctx context.Context, w io.Writer, sessionID string) error {
	meta, err := s.sessionMeta(sessionID)
	if err != nil {
		return err
	}

	s.tracker.Update(sessionID, func(p *model.ExportProgress) {
		*p = model.ExportProgress{SessionID: sessionID, Phase: export.PhaseLocating}
	})
	artifacts, omissions := s.locator.Locate(*meta)
	s.tracker.Update(sessionID, func(p *model.ExportProgress) {
		p.Phase = export.PhaseArchiving
		p.Located = len(artifacts)
		p.Omitted = len(omissions)
	})
	s.log.Info("export started",
		zap.String("session_id", sessionID),
		zap.Int("artifacts", len(artifacts)),
		zap.Int("omissions", len(omissions)))

	if err := ctx.Err(); err != nil {
		s.trackError(sessionID, err)
		return err
	}
	err = s.archiver.Build(w, *meta, artifacts, omissions, func(archived int) {
		s.tracker.Update(sessionID, func(p *model.ExportProgress) { p.Archived = archived })
	})
	if err != nil {
		s.trackError(sessionID, err)
		return fmt.Errorf("build archive: %w", err)
	}
	s.tracker.Update(sessionID, func(p *model.ExportProgress) { p.Phase = export.PhaseDone })
	return nil
}

func (s *ExportService) trackError(sessionID string, err error) {
	s.tracker.Update(sessionID, func(p *model.ExportProgress) {
		p.Phase = export.PhaseError
		p.Error = err.Error()
	})
}

// sessionMeta assembles locator input from the stored session, recording
// and camera rows.
func (s *ExportService) sessionMeta(sessionID string) (*export.SessionMeta, error) {
	var row model.CaptureSession
	if err := s.db.Preload("Recordings").Where("id = ?", sessionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrSessionNotFound
		}
		return nil, err
	}

	camIDs := make([]string, 0, len(row.Recordings))
	for _, rec := range row.Recordings {
		camIDs = append(camIDs, rec.CameraID)
	}
	prefixes := make(map[string]model.Camera)
	if len(camIDs) > 0 {
		var cams []model.Camera
		if err := s.db.Where("id IN ?", camIDs).Find(&cams).Error; err == nil {
			for _, c := range cams {
				prefixes[c.ID] = c
			}
		}
	}

	meta := &export.SessionMeta{
		ID:        row.ID,
		Name:      row.Name,
		StartedAt: row.StartedAt,
		EndedAt:   row.EndedAt,
	}
	if row.Sensors != "" {
		meta.Sensors = strings.Split(row.Sensors, ",")
	}
	if row.Tags != "" {
		meta.Tags = strings.Split(row.Tags, ",")
	}
	for _, rec := range row.Recordings {
		rm := export.RecordingMeta{
			CameraID:   rec.CameraID,
			OutputFile: rec.OutputFile,
		}
		if cam, ok := prefixes[rec.CameraID]; ok {
			rm.CameraName = cam.Name
			rm.FilePrefix = cam.FilePrefix
		}
		meta.Recordings = append(meta.Recordings, rm)
	}
	return meta, nil
}
