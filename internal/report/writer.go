package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

var unsafeNameRE = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Writer persists report artifacts under one directory.
type Writer struct {
	dir string
	log *zap.Logger
}

// NewWriter builds a Writer rooted at dir. The directory is created on
// first write, not here, so constructing a Writer never touches disk.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	return &Writer{dir: dir, log: logger.Named("report")}
}

// WriteJSON persists one report as <mission>_<run>.json and returns the
// path written.
func (w *Writer) WriteJSON(r schemas.ExecutionReport) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", w.dir, err)
	}

	base := sanitizeName(r.MissionID)
	if base == "" {
		base = "mission"
	}
	name := base + ".json"
	if r.RunID != "" {
		name = fmt.Sprintf("%s_%s.json", base, sanitizeName(r.RunID))
	}
	path := filepath.Join(w.dir, name)

	data, err := Encode(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode report for %s: %w", r.MissionID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}

	w.log.Info("report written",
		zap.String("mission_id", r.MissionID),
		zap.Bool("overall_success", r.OverallSuccess),
		zap.String("path", path),
	)
	return path, nil
}

// sanitizeName squashes anything that does not belong in a file name.
func sanitizeName(s string) string {
	return unsafeNameRE.ReplaceAllString(s, "_")
}
