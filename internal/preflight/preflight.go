// Package preflight checks the local export destination before a long export starts.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// usage is swapped in tests.
var usage = disk.UsageWithContext

// Report describes the filesystem holding an export destination.
type Report struct {
	Dir         string  `json:"dir"`
	Fstype      string  `json:"fstype,omitempty"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
	Low         bool    `json:"low"` // Free is below the requested minimum
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %s free of %s (%.1f%% used)", r.Dir, humanBytes(r.Free), humanBytes(r.Total), r.UsedPercent)
}

// CheckDestination verifies the directory of outputPath exists and reports its free
// space. Low space is reported in the Report, not as an error.
func CheckDestination(ctx context.Context, outputPath string, minFree uint64) (Report, error) {
	dir := filepath.Dir(outputPath)
	info, err := os.Stat(dir)
	if err != nil {
		return Report{}, fmt.Errorf("export directory: %w", err)
	}
	if !info.IsDir() {
		return Report{}, fmt.Errorf("export directory: %s is not a directory", dir)
	}

	u, err := usage(ctx, dir)
	if err != nil {
		return Report{}, fmt.Errorf("disk usage for %s: %w", dir, err)
	}
	return Report{
		Dir:         dir,
		Fstype:      u.Fstype,
		Total:       u.Total,
		Free:        u.Free,
		UsedPercent: u.UsedPercent,
		Low:         minFree > 0 && u.Free < minFree,
	}, nil
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
