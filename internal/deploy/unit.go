package deploy

import (
	"bytes"
	"fmt"
	"text/template"

	"analysisops/internal/config"
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Analysis Data Collector
After=network.target

[Service]
Type=simple
{{- if .User}}
User={{.User}}
{{- end}}
WorkingDirectory={{.InstallDir}}
ExecStart={{.InstallDir}}/bin/{{.Binary}} --config {{.InstallDir}}/config.toml
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`))

// RenderUnit builds the systemd unit. With useRoot the service runs as root,
// otherwise as the configured service user.
func RenderUnit(c config.DeployConfig, useRoot bool) ([]byte, error) {
	data := struct {
		User, InstallDir, Binary string
	}{InstallDir: c.InstallDir, Binary: c.BinaryName}
	if !useRoot {
		data.User = c.ServiceUser
	}

	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render unit: %w", err)
	}
	return buf.Bytes(), nil
}
