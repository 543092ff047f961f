package query

import (
	"context"
	"errors"
	"fmt"

	"analysisops/internal/csvsink"
	"analysisops/internal/schema"
	"analysisops/internal/transport"
)

const (
	OpExportWideTable     = "export_wide_table"
	OpExportDemandResults = "export_demand_results"
)

// ExportWideTable streams the time window of the wide table into a CSV file at
// outputPath. With a device serial only that device's columns are written and
// rows where all of them are empty are skipped.
func (e *Engine) ExportWideTable(ctx context.Context, req Request, outputPath string) (int64, error) {
	req.Kind = schema.KindWideTable
	return e.export(ctx, OpExportWideTable, req, outputPath)
}

// ExportDemandResults writes the timestamp plus every command column, keeping
// only rows where at least one command column has a value.
func (e *Engine) ExportDemandResults(ctx context.Context, req Request, outputPath string) (int64, error) {
	req.Kind = schema.KindDemand
	return e.export(ctx, OpExportDemandResults, req, outputPath)
}

func (e *Engine) export(ctx context.Context, op string, req Request, outputPath string) (rows int64, err error) {
	cols, problems := e.validate(req)
	if outputPath == "" {
		problems = append(problems, "output_path is required")
	}
	if len(problems) > 0 {
		return 0, &ValidationError{Entries: problems}
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	sink, err := csvsink.Open(outputPath, csvsink.Options{BOM: e.cfg.WriteBOM})
	if err != nil {
		return 0, &Error{Kind: KindOutput, Message: "open output", Err: err}
	}
	defer func() {
		if err != nil {
			_ = sink.Abort()
			e.emit.Warnf(op, "export aborted after %d rows, %s not written: %v", rows, outputPath, err)
		}
	}()

	e.emit.Logf(op, "exporting %s from %d to %d into %s", req.DBPath, req.Start, req.End, outputPath)

	split, err := e.plan(ctx, op, req, cols)
	if err != nil {
		return 0, err
	}

	ts := e.cfg.TimestampColumn
	header := append([]string{ts}, cols...)
	if err = sink.WriteHeader(header); err != nil {
		return 0, &Error{Kind: KindOutput, Message: "write header", Err: err}
	}

	var filter []string
	if needsFilter(req) {
		if len(split.Present) == 0 {
			e.emit.Logf(op, "none of the requested columns exist; writing header only")
			return e.finish(op, sink, 0)
		}
		filter = split.Present
	}

	start, end := req.RangeMillis()
	args := []any{start, end}

	total, err := e.count(ctx, op, req.DBPath, buildCount(e.cfg.WideTable, ts, filter), args)
	if err != nil {
		return 0, err
	}

	// Present columns land at their header position, missing ones stay empty.
	pos := make(map[string]int, len(header))
	for i, c := range header {
		pos[c] = i
	}
	index := make([]int, len(split.Present)+1)
	for i, c := range split.Present {
		index[i+1] = pos[c]
	}

	format := csvsink.Formatter{TimestampColumn: ts, Location: e.cfg.DisplayLocation()}
	selected := append([]string{ts}, split.Present...)
	record := make([]string, len(header))
	every := int64(max(e.cfg.ProgressEvery, 1))

	sql := buildSelect(e.cfg.WideTable, ts, split.Present, filter, 0)
	rows, err = e.runHelper(ctx, op, req.DBPath, sql, args, func(values []any) error {
		clear(record)
		for i, field := range format.Record(selected, values) {
			record[index[i]] = field
		}
		if err := sink.WriteRow(record); err != nil {
			return &Error{Kind: KindOutput, Message: "write row", Err: err}
		}
		if n := sink.Rows(); n%every == 0 {
			e.emit.Progress(op, percent(n, total), n)
		}
		return nil
	})
	if err != nil {
		return rows, err
	}
	return e.finish(op, sink, total)
}

func (e *Engine) finish(op string, sink *csvsink.Sink, total int64) (int64, error) {
	rows := sink.Rows()
	if err := sink.Finalize(); err != nil {
		return rows, &Error{Kind: KindOutput, Message: "finalize output", Rows: rows, Err: err}
	}
	if total >= 0 && rows != total {
		e.emit.Warnf(op, "expected %d rows, wrote %d (table changed during export)", total, rows)
	}
	e.emit.Progress(op, 100, rows)
	e.emit.Logf(op, "wrote %d rows to %s", rows, sink.Path())
	return rows, nil
}

// count runs the COUNT(*) pre-pass. Failures other than a lost connection or
// cancellation only cost the percentage, so -1 is returned with a warning.
func (e *Engine) count(ctx context.Context, op, dbPath, sql string, args []any) (int64, error) {
	total := int64(-1)
	_, err := e.runHelper(ctx, op, dbPath, sql, args, func(values []any) error {
		if v, ok := asInt64(values[0]); ok {
			total = v
		}
		return nil
	})
	if err == nil {
		e.emit.Logf(op, "%d rows to export", total)
		return total, nil
	}
	if IsKind(err, KindConnectionLost) || IsKind(err, KindCanceled) || IsKind(err, KindTimeout) ||
		IsKind(err, KindRemoteToolMissing) || errors.Is(err, transport.ErrConnectionLost) {
		return 0, err
	}
	e.emit.Warnf(op, "row count unavailable, reporting progress by rows: %v", err)
	return -1, nil
}

// percent returns -1 when the total is unknown.
func percent(n, total int64) float64 {
	if total <= 0 {
		return -1
	}
	p := float64(n) * 100 / float64(total)
	if p > 100 {
		p = 100
	}
	return p
}

// Describe renders a one-line summary used in job records.
func (r Request) Describe() string {
	s := fmt.Sprintf("%s %s [%d, %d]", r.Kind, r.DBPath, r.Start, r.End)
	if r.DeviceSerial != "" {
		s += " device=" + r.DeviceSerial
	}
	return s
}
