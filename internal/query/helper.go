package query

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"analysisops/internal/transport"
)

// Executor runs a shell command on the remote host with live output.
// *transport.Session satisfies it.
type Executor interface {
	Execute(ctx context.Context, command string) (transport.Stream, error)
}

// helperParams is what the remote helper receives, base64-encoded JSON.
type helperParams struct {
	DB    string `json:"db"`
	SQL   string `json:"sql"`
	Args  []any  `json:"args"`
	Batch int    `json:"batch"`
}

// helperScript runs one statement against a read-only SQLite connection and streams
// NDJSON: {"columns":[...]} first, then one JSON array per row, then {"done":n}.
// It must stay compatible with Python 2.7 for hosts that only ship "python".
const helperScript = `import base64, json, sqlite3, sys
try:
    from urllib.parse import quote
except ImportError:
    from urllib import quote

def out(obj):
    sys.stdout.write(json.dumps(obj, separators=(",", ":")) + "\n")

def enc(v):
    if isinstance(v, float) and (v != v or v in (float("inf"), float("-inf"))):
        return None
    if isinstance(v, (bytes, bytearray)) and not isinstance(v, str):
        return base64.b64encode(bytes(v)).decode("ascii")
    return v

p = json.loads(base64.b64decode("__PARAMS__").decode("utf-8"))
try:
    try:
        conn = sqlite3.connect("file:%s?mode=ro" % quote(p["db"]), uri=True, timeout=10)
    except TypeError:
        conn = sqlite3.connect(p["db"], timeout=10)
    cur = conn.cursor()
    cur.execute(p["sql"], p.get("args") or [])
    out({"columns": [d[0] for d in (cur.description or [])]})
    n = 0
    while True:
        rows = cur.fetchmany(p["batch"])
        if not rows:
            break
        for r in rows:
            out([enc(v) for v in r])
        n += len(rows)
        sys.stdout.flush()
    out({"done": n})
    conn.close()
except Exception as e:
    sys.stdout.flush()
    sys.stderr.write(json.dumps({"error": str(e), "type": type(e).__name__}) + "\n")
    sys.exit(3)`

// helperCommand wraps the script in a quoted heredoc so nothing in it is expanded by the shell.
func helperCommand(python string, p helperParams) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode helper params: %w", err)
	}
	script := strings.Replace(helperScript, "__PARAMS__", base64.StdEncoding.EncodeToString(raw), 1)
	marker := "ANALYSISOPS_EOF_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return python + " - <<'" + marker + "'\n" + script + "\n" + marker + "\n", nil
}

// rowHandler receives each row's values positionally.
type rowHandler func(values []any) error

// runHelper executes sql remotely, trying each configured interpreter in turn.
func (e *Engine) runHelper(ctx context.Context, op, dbPath, sql string, args []any, onRow rowHandler) (int64, error) {
	p := helperParams{DB: dbPath, SQL: sql, Args: args, Batch: e.cfg.BatchSize}

	for _, python := range e.cfg.PythonBinaries {
		rows, missing, err := e.runWith(ctx, python, p, onRow)
		if missing {
			e.emit.Logf(op, "%s not found on remote host", python)
			continue
		}
		return rows, err
	}
	return 0, &Error{
		Kind:    KindRemoteToolMissing,
		Message: "no python interpreter found on remote host (tried " + strings.Join(e.cfg.PythonBinaries, ", ") + ")",
	}
}

func (e *Engine) runWith(ctx context.Context, python string, p helperParams, onRow rowHandler) (rows int64, missing bool, err error) {
	cmd, err := helperCommand(python, p)
	if err != nil {
		return 0, false, err
	}

	st, err := e.exec.Execute(ctx, cmd)
	if err != nil {
		return 0, false, classify(ctx, err, 0, "start remote helper")
	}

	stderr := &limitedBuffer{max: 64 << 10}
	stderrDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(stderr, st.Stderr())
		close(stderrDone)
	}()

	rows, done, decErr := decodeStream(st.Stdout(), onRow)
	if decErr != nil {
		_ = st.Close()
	}
	code, waitErr := st.Wait()
	<-stderrDone

	if decErr != nil {
		return rows, false, classify(ctx, decErr, rows, "read helper output")
	}
	if waitErr != nil {
		return rows, false, classify(ctx, waitErr, rows, "remote helper")
	}

	errText := strings.TrimSpace(stderr.String())
	if code != 0 {
		if rows == 0 && (code == 127 || strings.Contains(strings.ToLower(errText), "command not found")) {
			return 0, true, nil
		}
		f := parseFailure(errText)
		return rows, false, &Error{
			Kind:    classifyRemote(f),
			Message: f.Error,
			Rows:    rows,
			Err:     fmt.Errorf("exit status %d: %s", code, errText),
		}
	}
	if !done {
		return rows, false, &Error{Kind: KindRemote, Message: "helper output ended before completion", Rows: rows}
	}
	return rows, false, nil
}

func parseFailure(stderr string) remoteFailure {
	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		var f remoteFailure
		if json.Unmarshal([]byte(strings.TrimSpace(lines[i])), &f) == nil && f.Error != "" {
			return f
		}
	}
	if stderr == "" {
		stderr = "remote helper failed"
	}
	return remoteFailure{Error: stderr}
}

// decodeStream reads the helper's NDJSON from r. Numbers are kept as json.Number.
func decodeStream(r io.Reader, onRow rowHandler) (rows int64, done bool, err error) {
	br := bufio.NewReaderSize(r, 256<<10)
	width := -1

	for {
		line, readErr := br.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if done {
				return rows, done, errors.New("data after trailer")
			}
			switch line[0] {
			case '[':
				if width < 0 {
					return rows, done, errors.New("row before column header")
				}
				values, err := decodeRow(line)
				if err != nil {
					return rows, done, err
				}
				if len(values) != width {
					return rows, done, fmt.Errorf("row %d has %d values, header has %d", rows+1, len(values), width)
				}
				if err := onRow(values); err != nil {
					return rows, done, err
				}
				rows++
			case '{':
				var msg struct {
					Columns []string `json:"columns"`
					Done    *int64   `json:"done"`
				}
				if err := json.Unmarshal(line, &msg); err != nil {
					return rows, done, fmt.Errorf("decode control line: %w", err)
				}
				switch {
				case msg.Columns != nil:
					width = len(msg.Columns)
				case msg.Done != nil:
					if *msg.Done != rows {
						return rows, done, fmt.Errorf("helper reported %d rows, received %d", *msg.Done, rows)
					}
					done = true
				}
			default:
				return rows, done, fmt.Errorf("unexpected helper output %q", truncate(line, 80))
			}
		}

		if readErr == io.EOF {
			return rows, done, nil
		}
		if readErr != nil {
			return rows, done, readErr
		}
	}
}

func decodeRow(line []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var values []any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return values, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// limitedBuffer keeps the first max bytes and silently drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}

func (l *limitedBuffer) String() string { return l.buf.String() }
