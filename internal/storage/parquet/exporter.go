package parquet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/retention"
	"github.com/xtxerr/vitals/internal/storage/types"
)

// Exporter writes batches of archive rows to files in one directory.
// It implements retention.Exporter.
type Exporter struct {
	dir    string
	opts   Options
	logger *slog.Logger

	filesWritten atomic.Int64
	rowsWritten  atomic.Int64
}

var _ retention.Exporter = (*Exporter)(nil)

// NewExporter creates an exporter writing into dir.
func NewExporter(dir string, opts Options) *Exporter {
	return &Exporter{
		dir:    dir,
		opts:   opts,
		logger: logging.Component("parquet"),
	}
}

// ExportFileName returns the file name of one export batch.
func ExportFileName(cutoff time.Time, batch int) string {
	return fmt.Sprintf("%s%s-%04d.parquet", retention.ExportPrefix, cutoff.UTC().Format(time.DateOnly), batch)
}

// Export writes rows to dir/ExportFileName(cutoff, batch). The file is
// written under a temporary name and renamed once complete, so a crash
// never leaves a truncated export behind. An existing file of the same
// name is replaced.
func (e *Exporter) Export(ctx context.Context, cutoff time.Time, batch int, rows []*types.ArchiveAggregate) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(e.dir, ExportFileName(cutoff, batch))
	tmp := path + ".tmp"

	w, err := NewArchiveWriter(tmp, e.opts)
	if err != nil {
		return "", err
	}
	if err := w.Write(rows); err != nil {
		w.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename export: %w", err)
	}

	e.filesWritten.Add(1)
	e.rowsWritten.Add(int64(len(rows)))
	e.logger.Debug("archive batch exported",
		"path", path,
		"rows", len(rows),
		"compression", e.opts.Compression.String())
	return path, nil
}

// Dir returns the export directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// Stats returns the files and rows written so far.
func (e *Exporter) Stats() (files, rows int64) {
	return e.filesWritten.Load(), e.rowsWritten.Load()
}
