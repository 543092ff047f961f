// Package query builds time-bounded queries against the remote wide table, runs them
// through a Python/sqlite3 helper over the transport session and either collects the
// rows (interactive queries) or streams them into a CSV sink (exports).
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"analysisops/internal/config"
	"analysisops/internal/csvsink"
	"analysisops/internal/events"
	"analysisops/internal/schema"
)

const (
	opQuery     = "query"
	opTableInfo = "table_info"
)

// maxEndTime is the largest end second whose millisecond range fits in int64.
const maxEndTime int64 = math.MaxInt64/1000 - 1

// Engine runs queries and exports. It holds no per-request state and can be
// reused, but the underlying session only runs one command stream at a time.
type Engine struct {
	exec    Executor
	mapping *schema.FieldMapping
	topo    *schema.Topology
	cfg     config.QueryConfig
	emit    events.Emitter
}

// NewEngine creates an engine. cfg is expected to have passed config.Validate.
func NewEngine(exec Executor, mapping *schema.FieldMapping, topo *schema.Topology, cfg config.QueryConfig, emit events.Emitter) *Engine {
	if emit == nil {
		emit = events.Discard
	}
	return &Engine{exec: exec, mapping: mapping, topo: topo, cfg: cfg, emit: emit}
}

// validate checks the request locally and resolves the wanted columns.
// Nothing here touches the network.
func (e *Engine) validate(req Request) ([]string, []string) {
	var problems []string
	if req.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if req.Start < 0 {
		problems = append(problems, "start_time must not be negative")
	}
	if req.End > maxEndTime {
		problems = append(problems, fmt.Sprintf("end_time %d is out of range (max %d)", req.End, maxEndTime))
	}
	if req.Start > req.End {
		problems = append(problems, fmt.Sprintf("start_time %d is after end_time %d", req.Start, req.End))
	}
	if _, err := schema.ParseKind(string(req.Kind)); err != nil {
		problems = append(problems, err.Error())
		return nil, problems
	}

	cols, err := schema.ResolveColumns(e.topo, e.mapping, req.DeviceSerial, req.Kind, req.IncludeExtended)
	if err != nil {
		problems = append(problems, err.Error())
		return nil, problems
	}
	if len(cols)+1 > e.cfg.MaxColumns {
		problems = append(problems, fmt.Sprintf("request resolves to %d columns, above the limit of %d; narrow it with device_serial", len(cols)+1, e.cfg.MaxColumns))
	}
	return cols, problems
}

// Validate reports whether req would be accepted, without any remote call.
func (e *Engine) Validate(req Request) error {
	if _, problems := e.validate(req); len(problems) > 0 {
		return &ValidationError{Entries: problems}
	}
	return nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// needsFilter reports whether rows must carry a value in at least one wanted column.
// Only the unfiltered wide table returns every timestamp in the window.
func needsFilter(req Request) bool {
	return req.DeviceSerial != "" || req.Kind != schema.KindWideTable
}

// remoteColumns lists the wide table's current columns.
func (e *Engine) remoteColumns(ctx context.Context, op, dbPath string) ([]string, error) {
	var names []string
	_, err := e.runHelper(ctx, op, dbPath, buildTableInfo(e.cfg.WideTable), nil, func(values []any) error {
		if len(values) > 1 {
			if name, ok := values[1].(string); ok {
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, &Error{Kind: KindMalformedSchema, Message: fmt.Sprintf("table %q not found in %s", e.cfg.WideTable, dbPath)}
	}
	for _, n := range names {
		if n == e.cfg.TimestampColumn {
			return names, nil
		}
	}
	return nil, &Error{Kind: KindMalformedSchema, Message: fmt.Sprintf("table %q has no %q column", e.cfg.WideTable, e.cfg.TimestampColumn)}
}

// plan probes the remote schema and splits the wanted columns.
func (e *Engine) plan(ctx context.Context, op string, req Request, cols []string) (schema.Split, error) {
	available, err := e.remoteColumns(ctx, op, req.DBPath)
	if err != nil {
		return schema.Split{}, err
	}
	split := schema.ValidateAgainstRemote(cols, available)
	if n := len(split.Missing); n > 0 {
		e.emit.Logf(op, "%d of %d requested columns do not exist yet and will be empty", n, len(cols))
	}
	return split, nil
}

// Execute runs an interactive query. At most RowLimit rows are kept; Truncated is
// set when more matched.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	cols, problems := e.validate(req)
	if len(problems) > 0 {
		return nil, &ValidationError{Entries: problems}
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	e.emit.Logf(opQuery, "%s query on %s from %d to %d (%d columns)", req.Kind, req.DBPath, req.Start, req.End, len(cols)+1)

	split, err := e.plan(ctx, opQuery, req, cols)
	if err != nil {
		return nil, err
	}

	ts := e.cfg.TimestampColumn
	res := &Result{
		Columns: append([]string{ts}, cols...),
		Rows:    []Row{},
		Missing: split.Missing,
	}

	var filter []string
	if needsFilter(req) {
		if len(split.Present) == 0 {
			e.emit.Logf(opQuery, "none of the requested columns exist; 0 rows")
			return res, nil
		}
		filter = split.Present
	}

	start, end := req.RangeMillis()
	sql := buildSelect(e.cfg.WideTable, ts, split.Present, filter, e.cfg.RowLimit+1)

	_, err = e.runHelper(ctx, opQuery, req.DBPath, sql, []any{start, end}, func(values []any) error {
		if len(res.Rows) >= e.cfg.RowLimit {
			res.Truncated = true
			return nil
		}
		row := make(Row, len(res.Columns))
		for _, c := range split.Missing {
			row[c] = nil
		}
		row[ts] = normalize(values[0])
		for i, c := range split.Present {
			row[c] = normalize(values[i+1])
		}
		res.Rows = append(res.Rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.TotalRows = len(res.Rows)
	if res.Truncated {
		total, err := e.matchCount(ctx, req.DBPath, buildCount(e.cfg.WideTable, ts, filter), []any{start, end})
		if err != nil {
			return nil, err
		}
		if total > 0 {
			res.TotalRows = int(total)
		}
		e.emit.Warnf(opQuery, "result truncated to %d of %d rows; use an export for the full range", len(res.Rows), res.TotalRows)
	}
	e.emit.Logf(opQuery, "query returned %d rows", len(res.Rows))
	return res, nil
}

// matchCount counts every row a truncated query matched. Only a lost
// connection, cancellation or timeout is fatal; otherwise -1 is returned.
func (e *Engine) matchCount(ctx context.Context, dbPath, sql string, args []any) (int64, error) {
	total := int64(-1)
	_, err := e.runHelper(ctx, opQuery, dbPath, sql, args, func(values []any) error {
		if v, ok := asInt64(values[0]); ok {
			total = v
		}
		return nil
	})
	if err != nil {
		if IsKind(err, KindConnectionLost) || IsKind(err, KindCanceled) || IsKind(err, KindTimeout) {
			return 0, err
		}
		e.emit.Warnf(opQuery, "row count unavailable, totalRows is the returned count: %v", err)
		return -1, nil
	}
	return total, nil
}

// normalize turns json.Number into int64 or float64 for in-memory results.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func asInt64(v any) (int64, bool) {
	switch x := normalize(v).(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	}
	return 0, false
}

// TableInfo lists the database's tables with row counts and the wide table's
// timestamp range.
func (e *Engine) TableInfo(ctx context.Context, dbPath string) (*TableInfo, error) {
	if dbPath == "" {
		return nil, &ValidationError{Entries: []string{"db_path is required"}}
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	info := &TableInfo{Tables: []TableStat{}}
	var names []string
	_, err := e.runHelper(ctx, opTableInfo, dbPath, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name", nil, func(values []any) error {
		if name, ok := values[0].(string); ok {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	hasWide := false
	for _, name := range names {
		stat := TableStat{Name: name}
		_, err := e.runHelper(ctx, opTableInfo, dbPath, "SELECT COUNT(*) FROM "+quoteIdent(name), nil, func(values []any) error {
			stat.Rows, _ = asInt64(values[0])
			return nil
		})
		if err != nil {
			return nil, err
		}
		info.Tables = append(info.Tables, stat)
		if name == e.cfg.WideTable {
			hasWide = true
		}
	}
	if !hasWide {
		return info, nil
	}

	cols, err := e.remoteColumns(ctx, opTableInfo, dbPath)
	if err != nil {
		return nil, err
	}
	info.Columns = len(cols)

	ts := quoteIdent(e.cfg.TimestampColumn)
	_, err = e.runHelper(ctx, opTableInfo, dbPath, "SELECT MIN("+ts+"), MAX("+ts+") FROM "+quoteIdent(e.cfg.WideTable), nil, func(values []any) error {
		if v, ok := asInt64(values[0]); ok {
			info.MinTime = &v
		}
		if v, ok := asInt64(values[1]); ok {
			info.MaxTime = &v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// FormatTime renders a millisecond timestamp in the configured display zone.
func (e *Engine) FormatTime(ms int64) string {
	return csvsink.FormatTimestamp(ms, e.cfg.DisplayLocation())
}
