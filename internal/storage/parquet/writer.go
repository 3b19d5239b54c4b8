package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/shopspring/decimal"

	"github.com/xtxerr/vitals/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the maximum number of rows per row group
	RowGroupSize int64

	// PageSize is the target page buffer size in bytes
	PageSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
		PageSize:     1024 * 1024, // 1MB
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// ArchiveRow is an archive aggregate in Parquet format.
type ArchiveRow struct {
	ID           string `parquet:"id,zstd"`
	DataSourceID string `parquet:"data_source_id,dict,zstd"`
	SeriesTypeID int32  `parquet:"series_type_id"`
	SeriesType   string `parquet:"series_type,dict"`
	Date         string `parquet:"date,dict"`
	Value        string `parquet:"value"`
	SampleCount  int64  `parquet:"sample_count"`
	UpdatedAtMs  int64  `parquet:"updated_at_ms"`
}

// ArchiveToRow converts an ArchiveAggregate to an ArchiveRow.
func ArchiveToRow(a *types.ArchiveAggregate) ArchiveRow {
	row := ArchiveRow{
		ID:           a.ID.String(),
		DataSourceID: a.DataSourceID.String(),
		SeriesTypeID: int32(a.SeriesType),
		SeriesType:   a.SeriesType.String(),
		Date:         a.Date.UTC().Format(time.DateOnly),
		Value:        a.Value.String(),
		SampleCount:  a.SampleCount,
	}
	if !a.UpdatedAt.IsZero() {
		row.UpdatedAtMs = a.UpdatedAt.UnixMilli()
	}
	return row
}

// RowToArchive converts an ArchiveRow back to an ArchiveAggregate.
func RowToArchive(r *ArchiveRow) (types.ArchiveAggregate, error) {
	var (
		a   types.ArchiveAggregate
		err error
	)
	if a.ID, err = uuid.Parse(r.ID); err != nil {
		return a, fmt.Errorf("parse id %q: %w", r.ID, err)
	}
	if a.DataSourceID, err = uuid.Parse(r.DataSourceID); err != nil {
		return a, fmt.Errorf("parse data source id %q: %w", r.DataSourceID, err)
	}
	if a.Date, err = time.Parse(time.DateOnly, r.Date); err != nil {
		return a, fmt.Errorf("parse date %q: %w", r.Date, err)
	}
	if a.Value, err = decimal.NewFromString(r.Value); err != nil {
		return a, fmt.Errorf("parse value %q: %w", r.Value, err)
	}
	a.SeriesType = types.SeriesType(r.SeriesTypeID)
	a.SampleCount = r.SampleCount
	if r.UpdatedAtMs != 0 {
		a.UpdatedAt = time.UnixMilli(r.UpdatedAtMs).UTC()
	}
	return a, nil
}

// ArchiveWriter writes archive rows to a Parquet file.
type ArchiveWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ArchiveRow]
	rowCount int64
	closed   bool
}

// NewArchiveWriter creates a new archive Parquet writer.
func NewArchiveWriter(path string, opts Options) (*ArchiveWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
		parquet.CreatedBy("vitals", "", ""),
	}
	if opts.RowGroupSize > 0 {
		writerOpts = append(writerOpts, parquet.MaxRowsPerRowGroup(opts.RowGroupSize))
	}
	if opts.PageSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageSize))
	}

	writer := parquet.NewGenericWriter[ArchiveRow](f, writerOpts...)

	return &ArchiveWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes archive rows to the Parquet file.
func (w *ArchiveWriter) Write(aggs []*types.ArchiveAggregate) error {
	if len(aggs) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]ArchiveRow, len(aggs))
	for i, a := range aggs {
		rows[i] = ArchiveToRow(a)
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes and closes the writer.
func (w *ArchiveWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *ArchiveWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *ArchiveWriter) Path() string {
	return w.path
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
