package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// Archiver streams located artifacts plus generated manifests into one zip.
// It only reads from disk, so a cancelled export (client disconnect) cannot
// corrupt artifacts.
type Archiver struct {
	log *zap.Logger
}

// NewArchiver creates an archiver.
func NewArchiver(log *zap.Logger) *Archiver {
	return &Archiver{log: log}
}

// Build writes the archive to w. Unreadable artifacts are skipped and noted
// in the manifest; an archive with zero artifacts is still valid and
// contains the manifest. onEntry (may be nil) is called after each archived
// artifact.
func (a *Archiver) Build(w io.Writer, meta SessionMeta, artifacts []Artifact, omissions []Omission, onEntry func(archived int)) error {
	zw := zip.NewWriter(w)

	skipped := append([]Omission(nil), omissions...)
	archived := 0
	var sensorDocs []Artifact

	for _, art := range artifacts {
		entry := archivePath(art)
		if err := a.copyEntry(zw, entry, art.Path); err != nil {
			a.log.Warn("artifact unreadable, skipping",
				zap.String("path", art.Path), zap.Error(err))
			skipped = append(skipped, Omission{
				CameraID: art.CameraID,
				Expected: art.Path,
				Reason:   "unreadable: " + err.Error(),
			})
			continue
		}
		archived++
		if onEntry != nil {
			onEntry(archived)
		}
		if art.Kind == KindSensorData && strings.HasSuffix(art.Path, ".json") {
			sensorDocs = append(sensorDocs, art)
		}
	}

	if err := a.writeAllData(zw, sensorDocs); err != nil {
		// Best effort: the consolidation is a convenience, not a reason to
		// fail the export.
		a.log.Warn("AllData.json consolidation failed", zap.Error(err))
	}
	if err := a.writeManifest(zw, meta, artifacts, skipped, archived); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return zw.Close()
}

func archivePath(art Artifact) string {
	base := filepath.Base(art.Path)
	switch art.Kind {
	case KindRecording:
		return "recordings/" + base
	case KindSensorData:
		return "sensors/" + base
	default:
		return "sensors/raw/" + base
	}
}

func (a *Archiver) copyEntry(zw *zip.Writer, entry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dst, err := zw.Create(entry)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}

// writeAllData consolidates every sensor's full JSON document into a single
// AllData.json for programmatic reuse.
func (a *Archiver) writeAllData(zw *zip.Writer, sensorDocs []Artifact) error {
	all := make(map[string]json.RawMessage, len(sensorDocs))
	for _, art := range sensorDocs {
		data, err := os.ReadFile(art.Path)
		if err != nil {
			a.log.Warn("sensor doc unreadable for AllData",
				zap.String("path", art.Path), zap.Error(err))
			continue
		}
		all[art.SensorID] = json.RawMessage(data)
	}
	dst, err := zw.Create("AllData.json")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(dst)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}

// writeManifest appends the human-readable README with session metadata,
// the per-artifact inventory and every omission.
func (a *Archiver) writeManifest(zw *zip.Writer, meta SessionMeta, artifacts []Artifact, skipped []Omission, archived int) error {
	dst, err := zw.Create("README.txt")
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Session export\n==============\n\n")
	fmt.Fprintf(&b, "Session ID:   %s\n", meta.ID)
	if meta.Name != "" {
		fmt.Fprintf(&b, "Name:         %s\n", meta.Name)
	}
	fmt.Fprintf(&b, "Started:      %s\n", meta.StartedAt.Format(time.RFC3339))
	if meta.EndedAt != nil {
		fmt.Fprintf(&b, "Ended:        %s\n", meta.EndedAt.Format(time.RFC3339))
	}
	if len(meta.Sensors) > 0 {
		fmt.Fprintf(&b, "Sensors:      %s\n", strings.Join(meta.Sensors, ", "))
	}
	if len(meta.Tags) > 0 {
		fmt.Fprintf(&b, "Tags:         %s\n", strings.Join(meta.Tags, ", "))
	}
	fmt.Fprintf(&b, "Exported:     %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Artifacts:    %d archived, %d missing/skipped\n\n", archived, len(skipped))

	fmt.Fprintf(&b, "Inventory\n---------\n")
	for _, art := range artifacts {
		fmt.Fprintf(&b, "  [%s] %s\n", art.Kind, filepath.Base(art.Path))
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "\nOmissions\n---------\n")
		for _, om := range skipped {
			fmt.Fprintf(&b, "  camera=%s expected=%s: %s\n", om.CameraID, om.Expected, om.Reason)
		}
	}
	_, err = io.WriteString(dst, b.String())
	return err
}
