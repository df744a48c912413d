package seal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileSink writes a range's exported envelopes as a single JSON array file
// under dir, named by stream and range so re-exporting the same range
// overwrites the same file with byte-identical content rather than
// accumulating duplicates.
type FileSink struct {
	dir string
}

// NewFileSink ensures dir exists and returns a FileSink rooted there.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("seal: create worm dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// WriteRange writes envelopes to <dir>/<project>/<environment>/<start>_<end>.json.
func (f *FileSink) WriteRange(ctx context.Context, projectID, environmentID string, start, end time.Time, envelopes []ExportEnvelope) error {
	b, err := json.Marshal(envelopes)
	if err != nil {
		return fmt.Errorf("seal: marshal export range: %w", err)
	}
	streamDir := filepath.Join(f.dir, projectID, environmentID)
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		return fmt.Errorf("seal: create stream dir: %w", err)
	}
	name := rangeFilename(start, end)
	path := filepath.Join(streamDir, name)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("seal: write %s: %w", path, err)
	}
	return nil
}

// rangeFilename formats start/end without colons so the name is safe across
// filesystems.
func rangeFilename(start, end time.Time) string {
	const layout = "20060102T150405.000000000Z"
	return fmt.Sprintf("%s_%s.json", start.UTC().Format(layout), end.UTC().Format(layout))
}
