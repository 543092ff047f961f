package csvsink

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("re-parse %s: %v", path, err)
	}
	return records
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSink_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")

	header := []string{"local_timestamp", "METER001_note", "METER001_active_power"}
	rows := [][]string{
		{"2024-01-01 08:46:40", "north, east", "120.5"},
		{"2024-01-01 08:46:41", `say "hi"`, ""},
		{"2024-01-01 08:46:42", "line\nbreak", "-3"},
	}

	s, err := Open(out, Options{})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.WriteHeader(header); err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if err := s.WriteRow(r); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatal("destination must not exist before Finalize")
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if s.Rows() != 3 {
		t.Fatalf("expected 3 rows, got %d", s.Rows())
	}

	got := readCSV(t, out)
	want := append([][]string{header}, rows...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %q\nwant %q", got, want)
	}

	raw, _ := os.ReadFile(out)
	if !strings.Contains(string(raw), `"north, east"`) || !strings.Contains(string(raw), `"say ""hi"""`) {
		t.Fatalf("expected RFC 4180 quoting, got %s", raw)
	}

	if names := listDir(t, dir); !reflect.DeepEqual(names, []string{"out.csv"}) {
		t.Fatalf("unexpected directory contents %v", names)
	}
}

func TestSink_Abort(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")

	s, err := Open(out, Options{})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.WriteHeader([]string{"a"})
	_ = s.WriteRow([]string{"1"})

	if !strings.HasPrefix(filepath.Base(s.TempPath()), ".out.csv.tmp-") {
		t.Fatalf("unexpected temp name %s", s.TempPath())
	}

	if err := s.Abort(); err != nil {
		t.Fatalf("Abort() error: %v", err)
	}
	if err := s.Abort(); err != nil {
		t.Fatalf("second Abort() error: %v", err)
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Fatalf("expected empty directory after Abort, got %v", names)
	}
	if err := s.WriteRow([]string{"2"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Finalize(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Finalize after Abort, got %v", err)
	}
}

func TestSink_DoesNotClobberOnAbort(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(out, []byte("previous\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(out, Options{})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.WriteHeader([]string{"a"})
	_ = s.Abort()

	raw, _ := os.ReadFile(out)
	if string(raw) != "previous\n" {
		t.Fatalf("existing file was modified: %q", raw)
	}
}

func TestSink_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Open(filepath.Join(dir, "missing", "out.csv"), Options{}); err == nil {
		t.Fatal("expected error for missing directory")
	}
	if _, err := Open("", Options{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	s, err := Open(filepath.Join(dir, "out.csv"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Abort()

	if err := s.WriteRow([]string{"x"}); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
	if err := s.WriteHeader(nil); err == nil {
		t.Fatal("expected error for empty header")
	}
	if err := s.WriteHeader([]string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteHeader([]string{"a", "b"}); err == nil {
		t.Fatal("expected error for second header")
	}
	if err := s.WriteRow([]string{"1"}); err == nil {
		t.Fatal("expected error for short row")
	}
}

func TestSink_BOM(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bom.csv")

	s, err := Open(out, Options{BOM: true})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.WriteHeader([]string{"a"})
	if err := s.Finalize(); err != nil {
		t.Fatal(err)
	}

	raw, _ := os.ReadFile(out)
	if !bytes.HasPrefix(raw, utf8BOM) {
		t.Fatalf("expected BOM prefix, got %q", raw[:3])
	}
}

func TestFormatter(t *testing.T) {
	gmt8 := time.FixedZone("GMT+8", 8*3600)
	f := Formatter{TimestampColumn: "local_timestamp", Location: gmt8}

	tests := []struct {
		name   string
		column string
		value  any
		want   string
	}{
		{"nil", "x", nil, ""},
		{"timestamp json number", "local_timestamp", json.Number("1704070000000"), "2024-01-01 08:46:40"},
		{"timestamp int64", "local_timestamp", int64(1704067200000), "2024-01-01 08:00:00"},
		{"timestamp float", "local_timestamp", float64(1704070000000), "2024-01-01 08:46:40"},
		{"timestamp unparseable", "local_timestamp", "n/a", "n/a"},
		{"json number", "x", json.Number("120.5"), "120.5"},
		{"float shortest", "x", 0.1 + 0.2, "0.30000000000000004"},
		{"float integral", "x", float64(42), "42"},
		{"int", "x", 7, "7"},
		{"bool", "x", true, "true"},
		{"string verbatim", "x", "a,b", "a,b"},
		{"bytes", "x", []byte("raw"), "raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Format(tt.column, tt.value); got != tt.want {
				t.Fatalf("Format(%q, %v) = %q, want %q", tt.column, tt.value, got, tt.want)
			}
		})
	}

	rec := f.Record([]string{"local_timestamp", "a", "b"}, []any{json.Number("1704070000000"), json.Number("120.5"), nil})
	if !reflect.DeepEqual(rec, []string{"2024-01-01 08:46:40", "120.5", ""}) {
		t.Fatalf("Record() = %q", rec)
	}
}

func TestFormatTimestamp_IndependentOfLocalZone(t *testing.T) {
	if got := FormatTimestamp(1704070000000, nil); got != "2024-01-01 00:46:40" {
		t.Fatalf("UTC rendering = %s", got)
	}
}

func TestDefaultFileName(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 46, 40, 0, time.UTC)
	if got := DefaultFileName("wide_table", now); got != "wide_table_20240101_084640.csv" {
		t.Fatalf("DefaultFileName() = %s", got)
	}
	if got := DefaultFileName("", now); got != "query_result_20240101_084640.csv" {
		t.Fatalf("DefaultFileName() = %s", got)
	}
}
