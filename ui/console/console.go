// Package console renders operation results as compact, colored terminal text
// for the one-shot CLI commands.
package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"analysisops/internal/csvsink"
	"analysisops/internal/deploy"
	"analysisops/internal/query"
	"analysisops/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// ParseTime accepts unix seconds or a local date-time in loc
// ("2006-01-02 15:04:05", "2006-01-02 15:04" or "2006-01-02").
func ParseTime(s string, loc *time.Location) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("time is required")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{csvsink.TimeLayout, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("cannot parse %q as unix seconds or %s", s, csvsink.TimeLayout)
}

func header(w io.Writer, title string) {
	fmt.Fprintf(w, "%s■ %s%s\n", colorCyan, title, colorReset)
}

// leader prints "  label······ value" with the label cut to 20 characters.
func leader(w io.Writer, label, value string) {
	if len(label) > 20 {
		label = label[:17] + "..."
	}
	dots := strings.Repeat("·", 22-len(label))
	fmt.Fprintf(w, "  %s%s %s\n", label, colorCyan+dots+colorReset, value)
}

// PrintResult renders up to limit rows of a query result as a table.
func PrintResult(w io.Writer, r *query.Result, f csvsink.Formatter, limit int) {
	header(w, fmt.Sprintf("QUERY RESULT (%d rows, %d columns)", r.TotalRows, len(r.Columns)))
	if len(r.Missing) > 0 {
		fmt.Fprintf(w, "%s  missing columns: %s%s\n", colorYellow, strings.Join(r.Missing, ", "), colorReset)
	}

	widths := make([]int, len(r.Columns))
	for i, c := range r.Columns {
		widths[i] = len(c)
	}
	shown := r.Rows
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	cells := make([][]string, len(shown))
	for i, row := range shown {
		cells[i] = make([]string, len(r.Columns))
		for j, c := range r.Columns {
			v := f.Format(c, row[c])
			cells[i][j] = v
			if len(v) > widths[j] {
				widths[j] = len(v)
			}
		}
	}

	line := func(vals []string) {
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = fmt.Sprintf("%-*s", widths[i], v)
		}
		fmt.Fprintf(w, "  %s\n", strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	line(r.Columns)
	for _, c := range cells {
		line(c)
	}
	if len(shown) < len(r.Rows) {
		fmt.Fprintf(w, "%s  … %d more rows not shown%s\n", colorYellow, len(r.Rows)-len(shown), colorReset)
	}
	if r.Truncated {
		fmt.Fprintf(w, "%s  result truncated at the row limit%s\n", colorYellow, colorReset)
	}
	fmt.Fprintln(w)
}

// PrintJob renders an export job.
func PrintJob(w io.Writer, j query.ExportJob) {
	header(w, "EXPORT "+strings.ToUpper(j.Kind))
	leader(w, "Job", j.ID)
	leader(w, "Status", colorFor(string(j.Status))+string(j.Status)+colorReset)
	leader(w, "Rows", strconv.FormatInt(j.RowCount, 10))
	leader(w, "Output", j.OutputPath)
	if j.CompletedAt != nil {
		leader(w, "Duration", j.CompletedAt.Sub(j.StartedAt).Round(time.Millisecond).String())
	}
	if j.Err != "" {
		leader(w, "Error", colorRed+j.Err+colorReset)
	}
	fmt.Fprintln(w)
}

// PrintStatus renders the installation probes.
func PrintStatus(w io.Writer, s deploy.Status) {
	header(w, "DEPLOYMENT STATUS")
	probe := func(label string, p deploy.Probe) {
		leader(w, label, colorFor(p.String())+p.String()+colorReset)
	}
	probe("Installed", s.Installed)
	probe("Unit file", s.ServiceExists)
	probe("Service active", s.ServiceRunning)
	probe("Service enabled", s.ServiceEnabled)
	fmt.Fprintln(w)
}

// PrintDeploy renders a deployment result with its log.
func PrintDeploy(w io.Writer, r deploy.Result) {
	header(w, "DEPLOYMENT")
	leader(w, "State", colorFor(string(r.State))+string(r.State)+colorReset)
	leader(w, "Files", strconv.Itoa(r.FilesTransferred))
	leader(w, "Bytes", strconv.FormatInt(r.BytesTransferred, 10))
	if r.Error != "" {
		leader(w, "Error", colorRed+r.Error+colorReset)
	}
	fmt.Fprintf(w, "%s─ Log%s\n", colorCyan, colorReset)
	for _, l := range r.Logs {
		fmt.Fprintf(w, "  %s\n", l)
	}
	if r.Status != nil {
		fmt.Fprintln(w)
		PrintStatus(w, *r.Status)
		return
	}
	fmt.Fprintln(w)
}

// PrintJobs renders ledger entries, newest first.
func PrintJobs(w io.Writer, jobs []store.Job, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	header(w, fmt.Sprintf("JOB HISTORY (%d)", len(jobs)))
	for _, j := range jobs {
		fmt.Fprintf(w, "  %s  %-22s %s%-9s%s %8d  %s\n",
			j.StartedAt.In(loc).Format(csvsink.TimeLayout), j.Kind,
			colorFor(j.Status), j.Status, colorReset, j.Rows, j.Detail)
	}
	fmt.Fprintln(w)
}

func colorFor(status string) string {
	switch status {
	case "running", "unknown", "":
		return colorYellow
	case "failed", "canceled", "no":
		return colorRed
	default:
		return colorGreen
	}
}
