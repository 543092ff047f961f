package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"analysisops/internal/deploy"
	"analysisops/internal/query"
	"analysisops/internal/schema"
	"analysisops/internal/store"
	"analysisops/internal/transport"
	"analysisops/ui/console"
	"analysisops/ui/tui/components"
	"analysisops/ui/tui/state"
)

func newForms() map[state.Page]*components.Form {
	return map[state.Page]*components.Form{
		state.PageSession: components.NewForm("Connect",
			components.FieldSpec{Key: "host", Label: "Host", Placeholder: "10.0.0.5"},
			components.FieldSpec{Key: "port", Label: "Port", Value: "22"},
			components.FieldSpec{Key: "user", Label: "Username", Placeholder: "ops"},
			components.FieldSpec{Key: "password", Label: "Password", Secret: true},
			components.FieldSpec{Key: "key", Label: "Key file", Placeholder: "~/.ssh/id_ed25519"},
		),
		state.PageQuery: components.NewForm("Query",
			components.FieldSpec{Key: "db", Label: "Database", Placeholder: "/data/analysis.db"},
			components.FieldSpec{Key: "start", Label: "Start", Placeholder: "2024-01-01 08:00:00 or unix seconds"},
			components.FieldSpec{Key: "end", Label: "End", Placeholder: "2024-01-01 09:00:00 or unix seconds"},
			components.FieldSpec{Key: "serial", Label: "Device", Placeholder: "all devices"},
			components.FieldSpec{Key: "kind", Label: "Kind", Value: string(schema.KindDevice)},
			components.FieldSpec{Key: "ext", Label: "Extended", Value: "n"},
		),
		state.PageExport: components.NewForm("Export",
			components.FieldSpec{Key: "kind", Label: "Kind", Value: "wide", Placeholder: "wide or demand"},
			components.FieldSpec{Key: "db", Label: "Database", Placeholder: "/data/analysis.db"},
			components.FieldSpec{Key: "start", Label: "Start", Placeholder: "2024-01-01 08:00:00 or unix seconds"},
			components.FieldSpec{Key: "end", Label: "End", Placeholder: "2024-01-01 09:00:00 or unix seconds"},
			components.FieldSpec{Key: "serial", Label: "Device", Placeholder: "all devices"},
			components.FieldSpec{Key: "ext", Label: "Extended", Value: "n"},
			components.FieldSpec{Key: "output", Label: "Output", Placeholder: "./export.csv"},
		),
		state.PageDeploy: components.NewForm("Deploy",
			components.FieldSpec{Key: "local", Label: "Local file", Placeholder: "./analysis-collector"},
			components.FieldSpec{Key: "remote", Label: "Remote path", Placeholder: "/opt/analysis/bin/analysis-collector"},
			components.FieldSpec{Key: "download", Label: "Download to", Placeholder: "optional, fetch remote path instead"},
			components.FieldSpec{Key: "root", Label: "Use root", Value: "y"},
			components.FieldSpec{Key: "restart", Label: "Restart", Value: "y"},
			components.FieldSpec{Key: "unit", Label: "Install unit", Value: "n"},
		),
	}
}

func yes(v string) bool {
	switch strings.ToLower(v) {
	case "y", "yes", "true", "1":
		return true
	}
	return false
}

func targetFromForm(f *components.Form) (transport.Target, error) {
	t := transport.Target{
		Host:     f.Value("host"),
		Username: f.Value("user"),
		Password: f.Value("password"),
		KeyFile:  f.Value("key"),
	}
	if t.Host == "" || t.Username == "" {
		return t, fmt.Errorf("host and username are required")
	}
	if p := f.Value("port"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return t, fmt.Errorf("invalid port %q", p)
		}
		t.Port = port
	}
	return t, nil
}

// requestFromForm reads the fields shared by the query and export forms.
func requestFromForm(f *components.Form, loc *time.Location) (query.Request, error) {
	req := query.Request{
		DBPath:          f.Value("db"),
		DeviceSerial:    f.Value("serial"),
		IncludeExtended: yes(f.Value("ext")),
	}
	var err error
	if req.Start, err = console.ParseTime(f.Value("start"), loc); err != nil {
		return req, fmt.Errorf("start: %w", err)
	}
	if req.End, err = console.ParseTime(f.Value("end"), loc); err != nil {
		return req, fmt.Errorf("end: %w", err)
	}
	return req, nil
}

func queryFromForm(f *components.Form, loc *time.Location) (query.Request, error) {
	req, err := requestFromForm(f, loc)
	if err != nil {
		return req, err
	}
	req.Kind, err = schema.ParseKind(f.Value("kind"))
	return req, err
}

// exportKind maps the form's kind field to a ledger kind.
func exportKind(v string) (string, error) {
	switch strings.ToLower(v) {
	case "", "wide", "wide_table":
		return store.KindExportWideTable, nil
	case "demand":
		return store.KindExportDemandResults, nil
	}
	return "", fmt.Errorf("unknown export kind %q (want wide or demand)", v)
}

func deployFromForm(f *components.Form) deploy.Request {
	file := deploy.File{
		LocalPath:    f.Value("local"),
		RemotePath:   f.Value("remote"),
		DownloadPath: f.Value("download"),
	}
	if file.DownloadPath != "" {
		file.LocalPath = ""
	}
	return deploy.Request{
		Files:          []deploy.File{file},
		UseRoot:        yes(f.Value("root")),
		RestartService: yes(f.Value("restart")),
		InstallUnit:    yes(f.Value("unit")),
	}
}
