package retention

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/vitals/internal/logging"
)

// ExportPrefix starts the name of every exported archive file:
// archive-<cutoff date>-<batch>.parquet.
const ExportPrefix = "archive-"

// ExportJanitor removes exported archive files older than a maximum age.
type ExportJanitor struct {
	mu     sync.Mutex
	dir    string
	maxAge time.Duration
	logger *slog.Logger
	stats  JanitorStats
}

// JanitorStats holds janitor statistics.
type JanitorStats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// NewExportJanitor creates a janitor for dir. maxAge <= 0 keeps every file.
func NewExportJanitor(dir string, maxAge time.Duration) *ExportJanitor {
	return &ExportJanitor{
		dir:    dir,
		maxAge: maxAge,
		logger: logging.Component("retention"),
	}
}

// Run deletes expired files.
func (j *ExportJanitor) Run(now time.Time) CleanupResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stats.LastRunTime = now
	result := j.cleanup(now, false)

	j.stats.FilesDeleted += int64(result.FilesDeleted)
	j.stats.BytesFreed += result.BytesFreed
	j.stats.FilesSkipped += int64(result.FilesSkipped)
	j.stats.Errors += int64(len(result.Errors))

	if result.FilesDeleted > 0 || len(result.Errors) > 0 {
		j.logger.Info("exported files pruned",
			"dir", j.dir,
			"deleted", result.FilesDeleted,
			"freed", formatBytes(result.BytesFreed),
			"errors", len(result.Errors))
	}
	return result
}

// DryRun reports what Run would delete without deleting.
func (j *ExportJanitor) DryRun(now time.Time) CleanupResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cleanup(now, true)
}

func (j *ExportJanitor) cleanup(now time.Time, dryRun bool) CleanupResult {
	var result CleanupResult
	if j.maxAge <= 0 {
		return result
	}

	files, err := listExports(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		}
		return result
	}

	cutoff := now.Add(-j.maxAge)
	for _, file := range files {
		fileTime, err := parseExportTime(file.name)
		if err != nil {
			result.FilesSkipped++
			continue
		}
		if !fileTime.Before(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.size
	}

	return result
}

// Stats returns current statistics.
func (j *ExportJanitor) Stats() JanitorStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// String formats the usage for the CLI.
func (u DiskUsage) String() string {
	return fmt.Sprintf("%d files, %s", u.FileCount, formatBytes(u.TotalSize))
}

// Usage returns the number and total size of exported files.
func (j *ExportJanitor) Usage() (DiskUsage, error) {
	files, err := listExports(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return DiskUsage{}, nil
		}
		return DiskUsage{}, err
	}

	var usage DiskUsage
	for _, f := range files {
		usage.FileCount++
		usage.TotalSize += f.size
	}
	return usage, nil
}

// fileInfo holds information about a file.
type fileInfo struct {
	name string
	path string
	size int64
}

// listExports lists exported Parquet files, oldest name first.
func listExports(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) != ".parquet" || !strings.HasPrefix(name, ExportPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			name: name,
			path: filepath.Join(dir, name),
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})
	return files, nil
}

// parseExportTime extracts the cutoff date from an export file name.
func parseExportTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(strings.TrimPrefix(name, ExportPrefix), filepath.Ext(name))
	if len(base) < len(time.DateOnly) {
		return time.Time{}, fmt.Errorf("unexpected export name %q", name)
	}
	return time.Parse(time.DateOnly, base[:len(time.DateOnly)])
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
