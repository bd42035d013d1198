// Package source discovers newly arrived record files in the watched
// directory and reads them with bounded timeouts. The monitor never mutates
// ledger state; quarantine decisions belong to the scheduler.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/sluice/pkg/ledger"
	"github.com/Sumatoshi-tech/sluice/pkg/textutil"
)

// Sentinel source errors.
var (
	ErrReadTimeout = errors.New("file read timed out")
	ErrEmptyFile   = errors.New("file has no header row")
	ErrBinaryFile  = errors.New("file is not text")
)

// DefaultPattern matches the record files the monitor considers.
const DefaultPattern = "*.csv"

// File is a discovered source file awaiting processing.
type File struct {
	Path         string
	Size         int64
	DiscoveredAt time.Time
}

// Monitor lists the watched directory and diffs it against the ledger.
type Monitor struct {
	// Dir is the watched directory path.
	Dir string
	// Pattern filters file names (glob against the base name).
	Pattern string
	// ReadTimeout bounds a single file read. Zero disables the bound.
	ReadTimeout time.Duration
}

// NewMonitor creates a monitor for the given directory.
func NewMonitor(dir string, readTimeout time.Duration) *Monitor {
	return &Monitor{
		Dir:         dir,
		Pattern:     DefaultPattern,
		ReadTimeout: readTimeout,
	}
}

// Discover lists the watched directory, excludes paths the ledger already
// settled, and returns the remainder sorted by path. Identical directory
// contents always produce the identical ordering.
func (m *Monitor) Discover(led *ledger.Ledger) ([]File, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, fmt.Errorf("list watch dir %s: %w", m.Dir, err)
	}

	now := time.Now()
	files := make([]File, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matched, matchErr := filepath.Match(m.Pattern, entry.Name())
		if matchErr != nil || !matched {
			continue
		}

		path := filepath.Join(m.Dir, entry.Name())
		if led.Excluded(path) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			// Raced with a delete; the next tick sees the final state.
			continue
		}

		files = append(files, File{
			Path:         path,
			Size:         info.Size(),
			DiscoveredAt: now,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// readResult carries a file read outcome across the timeout boundary.
type readResult struct {
	rows [][]string
	err  error
}

// ReadRows reads one file's data rows, skipping the header row. The read
// is bounded by the configured per-file timeout; a stuck read is reported
// as ErrReadTimeout and retried on a later tick.
func (m *Monitor) ReadRows(ctx context.Context, f File) ([][]string, error) {
	if m.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.ReadTimeout)

		defer cancel()
	}

	done := make(chan readResult, 1)

	go func() {
		rows, err := readCSV(f.Path)
		done <- readResult{rows: rows, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Path, res.err)
		}

		return res.rows, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("read %s: %w", f.Path, ErrReadTimeout)
		}

		return nil, fmt.Errorf("read %s: %w", f.Path, ctx.Err())
	}
}

// readCSV parses a newline-delimited, comma-separated file with a header
// row. Column-count validation happens at the schema layer, so the reader
// accepts ragged rows here. Binary files are rejected before parsing.
func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if textutil.IsBinary(data) {
		return nil, ErrBinaryFile
	}

	reader := csv.NewReader(textutil.BytesReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	all, readErr := reader.ReadAll()
	if readErr != nil {
		return nil, readErr
	}

	if len(all) == 0 {
		return nil, ErrEmptyFile
	}

	// First row is always the header.
	rows := all[1:]

	// Drop fully blank trailing lines.
	out := rows[:0]

	for _, row := range rows {
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		out = append(out, row)
	}

	return out, nil
}
