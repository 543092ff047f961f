// Package csvsink writes CSV files atomically: rows go to a hidden temp file next to
// the destination, which is renamed into place by Finalize or deleted by Abort.
package csvsink

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrClosed is returned when writing to a sink after Finalize or Abort.
	ErrClosed = errors.New("csv sink already closed")
	// ErrNoHeader is returned by WriteRow before WriteHeader.
	ErrNoHeader = errors.New("csv header not written")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options controls output details.
type Options struct {
	// BOM prefixes the file with a UTF-8 byte order mark so spreadsheet tools
	// detect the encoding.
	BOM bool
}

// Sink is a CSV file being written.
type Sink struct {
	path    string
	tmp     *os.File
	buf     *bufio.Writer
	w       *csv.Writer
	columns int
	rows    int64
	done    bool
}

// Open creates ".<name>.tmp-*" in the destination directory.
func Open(path string, opts Options) (*Sink, error) {
	if path == "" {
		return nil, errors.New("csv sink: empty output path")
	}
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("csv sink: output directory: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("csv sink: %s is not a directory", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("csv sink: create temp file: %w", err)
	}

	buf := bufio.NewWriterSize(tmp, 64<<10)
	if opts.BOM {
		if _, err := buf.Write(utf8BOM); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return nil, fmt.Errorf("csv sink: write BOM: %w", err)
		}
	}

	return &Sink{path: path, tmp: tmp, buf: buf, w: csv.NewWriter(buf)}, nil
}

// Path returns the final destination.
func (s *Sink) Path() string { return s.path }

// TempPath returns the file currently being written.
func (s *Sink) TempPath() string { return s.tmp.Name() }

// Rows returns how many data rows were written.
func (s *Sink) Rows() int64 { return s.rows }

// WriteHeader writes the column names. It must be called exactly once, first.
func (s *Sink) WriteHeader(columns []string) error {
	if s.done {
		return ErrClosed
	}
	if s.columns != 0 {
		return errors.New("csv sink: header already written")
	}
	if len(columns) == 0 {
		return errors.New("csv sink: header has no columns")
	}
	if err := s.w.Write(columns); err != nil {
		return fmt.Errorf("csv sink: write header: %w", err)
	}
	s.columns = len(columns)
	return nil
}

// WriteRow writes one record. Its length must match the header.
func (s *Sink) WriteRow(record []string) error {
	if s.done {
		return ErrClosed
	}
	if s.columns == 0 {
		return ErrNoHeader
	}
	if len(record) != s.columns {
		return fmt.Errorf("csv sink: row has %d fields, header has %d", len(record), s.columns)
	}
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("csv sink: write row %d: %w", s.rows+1, err)
	}
	s.rows++
	return nil
}

// Finalize flushes, syncs and renames the temp file over the destination.
// On failure the temp file is removed.
func (s *Sink) Finalize() error {
	if s.done {
		return ErrClosed
	}
	s.done = true

	err := s.flush()
	if err == nil {
		err = s.tmp.Sync()
	}
	if cerr := s.tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(s.tmp.Name(), s.path)
	}
	if err != nil {
		_ = os.Remove(s.tmp.Name())
		return fmt.Errorf("csv sink: finalize %s: %w", s.path, err)
	}
	return nil
}

// Abort discards everything written. It is a no-op after Finalize or a prior Abort.
func (s *Sink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.tmp.Close()
	if err := os.Remove(s.tmp.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("csv sink: remove temp file: %w", err)
	}
	return nil
}

func (s *Sink) flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.buf.Flush()
}

// DefaultFileName builds "<prefix>_20060102_150405.csv" from now.
func DefaultFileName(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = "query_result"
	}
	return prefix + "_" + now.Format("20060102_150405") + ".csv"
}
