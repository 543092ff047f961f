package deploy

import (
	"fmt"
	"strings"
)

// File is one transfer. Upload when LocalPath and RemotePath are set, download
// when RemotePath and DownloadPath are set. Asking for both is invalid.
type File struct {
	LocalPath    string `json:"localPath,omitempty"`
	RemotePath   string `json:"remotePath"`
	DownloadPath string `json:"downloadPath,omitempty"`
}

// Direction of a validated transfer.
type Direction int

const (
	Upload Direction = iota + 1
	Download
)

func (d Direction) String() string {
	if d == Download {
		return "download"
	}
	return "upload"
}

// Direction reports which way f goes, or an explanation of why it is invalid.
func (f File) Direction() (Direction, string) {
	up := f.LocalPath != ""
	down := f.DownloadPath != ""
	switch {
	case f.RemotePath == "":
		return 0, "remote path is required"
	case up && down:
		return 0, "both local path and download path set; pick one direction"
	case up:
		return Upload, ""
	case down:
		return Download, ""
	default:
		return 0, "needs a local path (upload) or a download path (download)"
	}
}

func (f File) label(i int) string {
	if f.RemotePath != "" {
		return fmt.Sprintf("file %d (%s)", i+1, f.RemotePath)
	}
	if f.LocalPath != "" {
		return fmt.Sprintf("file %d (local %s)", i+1, f.LocalPath)
	}
	return fmt.Sprintf("file %d", i+1)
}

// ValidationError lists every invalid entry of a deployment request.
type ValidationError struct {
	Entries []string
}

func (e *ValidationError) Error() string {
	return "invalid deployment request: " + strings.Join(e.Entries, "; ")
}

// transfer is a validated File.
type transfer struct {
	File
	dir Direction
}

// validateFiles checks every entry and reports all problems at once.
func validateFiles(files []File) ([]transfer, error) {
	var problems []string
	out := make([]transfer, 0, len(files))
	for i, f := range files {
		dir, why := f.Direction()
		if why != "" {
			problems = append(problems, f.label(i)+": "+why)
			continue
		}
		if dir == Upload && !strings.HasPrefix(f.RemotePath, "/") {
			problems = append(problems, f.label(i)+": remote path must be absolute")
			continue
		}
		out = append(out, transfer{File: f, dir: dir})
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Entries: problems}
	}
	return out, nil
}
