package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/vitals/internal/storage/types"
)

// ArchiveReader reads archive rows from a Parquet file.
type ArchiveReader struct {
	file   *os.File
	reader *parquet.GenericReader[ArchiveRow]
	path   string
}

// NewArchiveReader creates a new archive Parquet reader.
func NewArchiveReader(path string) (*ArchiveReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[ArchiveRow](f)

	return &ArchiveReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n rows. It returns io.EOF once the file is exhausted.
func (r *ArchiveReader) Read(n int) ([]types.ArchiveAggregate, error) {
	rows := make([]ArchiveRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}
	return toArchives(rows[:count])
}

// ReadAll reads every row of the file.
func (r *ArchiveReader) ReadAll() ([]types.ArchiveAggregate, error) {
	rows := make([]ArchiveRow, r.reader.NumRows())

	var read int
	for read < len(rows) {
		n, err := r.reader.Read(rows[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return toArchives(rows[:read])
}

func toArchives(rows []ArchiveRow) ([]types.ArchiveAggregate, error) {
	out := make([]types.ArchiveAggregate, len(rows))
	for i := range rows {
		a, err := RowToArchive(&rows[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

// NumRows returns the total number of rows in the file.
func (r *ArchiveReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *ArchiveReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *ArchiveReader) Path() string {
	return r.path
}

// FileInfo holds information about an exported file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
	NumCols int
}

// GetFileInfo returns information about an exported file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
		NumCols: len(pf.Schema().Fields()),
	}, nil
}
