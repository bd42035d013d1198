package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sumatoshi-tech/sluice/pkg/query"
)

// csvFilePerm is the permission mode for sink output files.
const csvFilePerm = 0o644

// CSVDir writes each query's output to <dir>/<query id>.csv. Append-mode
// destinations grow by the new rows each tick; complete-mode destinations
// are rewritten whole via tmp+rename so readers never see a partial table.
type CSVDir struct {
	dir string
}

// NewCSVDir creates a CSV directory sink.
func NewCSVDir(dir string) (*CSVDir, error) {
	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}

	return &CSVDir{dir: dir}, nil
}

// Write implements Writer.
func (s *CSVDir) Write(_ context.Context, res query.Result, _ uint64) error {
	path := filepath.Join(s.dir, res.QueryID+".csv")

	if res.Mode == query.ModeComplete {
		return s.rewrite(path, res.Output)
	}

	return s.append(path, res.Output)
}

// rewrite replaces the whole destination file atomically.
func (s *CSVDir) rewrite(path string, out query.Rowset) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create sink temp: %w", err)
	}

	writeErr := writeCSV(tmp, out.Columns, out.Rows)
	if writeErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return writeErr
	}

	closeErr := tmp.Close()
	if closeErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close sink temp: %w", closeErr)
	}

	chmodErr := os.Chmod(tmp.Name(), csvFilePerm)
	if chmodErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("chmod sink file: %w", chmodErr)
	}

	renameErr := os.Rename(tmp.Name(), path)
	if renameErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("rename sink file: %w", renameErr)
	}

	return nil
}

// append adds the tick's new rows, writing a header for a fresh file.
func (s *CSVDir) append(path string, out query.Rowset) error {
	if out.Empty() {
		return nil
	}

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, csvFilePerm)
	if err != nil {
		return fmt.Errorf("open sink file: %w", err)
	}
	defer file.Close()

	var header []string
	if fresh {
		header = out.Columns
	}

	return writeCSV(file, header, out.Rows)
}

// writeCSV writes an optional header and the rows to w.
func writeCSV(w *os.File, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)

	if len(header) > 0 {
		err := cw.Write(header)
		if err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}

	for _, row := range rows {
		err := cw.Write(row)
		if err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()

	flushErr := cw.Error()
	if flushErr != nil {
		return fmt.Errorf("flush csv: %w", flushErr)
	}

	return nil
}
