package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v4/disk"
)

func stubUsage(t *testing.T, stat *disk.UsageStat, err error) {
	t.Helper()
	orig := usage
	usage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		if err != nil {
			return nil, err
		}
		s := *stat
		s.Path = path
		return &s, nil
	}
	t.Cleanup(func() { usage = orig })
}

func TestCheckDestination(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "export.csv")

	tests := []struct {
		name    string
		free    uint64
		minFree uint64
		wantLow bool
	}{
		{"plenty", 10 << 30, 512 << 20, false},
		{"low", 100 << 20, 512 << 20, true},
		{"no minimum", 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubUsage(t, &disk.UsageStat{Total: 20 << 30, Free: tt.free, UsedPercent: 50, Fstype: "ext4"}, nil)
			r, err := CheckDestination(context.Background(), out, tt.minFree)
			if err != nil {
				t.Fatalf("CheckDestination() error: %v", err)
			}
			if r.Low != tt.wantLow {
				t.Errorf("Low = %v, want %v", r.Low, tt.wantLow)
			}
			if r.Dir != dir || r.Fstype != "ext4" {
				t.Errorf("report = %+v", r)
			}
		})
	}
}

func TestCheckDestination_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := CheckDestination(context.Background(), filepath.Join(dir, "missing", "x.csv"), 0); err == nil {
		t.Error("missing directory accepted")
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CheckDestination(context.Background(), filepath.Join(file, "x.csv"), 0); err == nil {
		t.Error("file used as directory accepted")
	}

	boom := errors.New("statfs failed")
	stubUsage(t, nil, boom)
	if _, err := CheckDestination(context.Background(), filepath.Join(dir, "x.csv"), 0); !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped usage error", err)
	}
}

func TestCheckDestination_RealDisk(t *testing.T) {
	r, err := CheckDestination(context.Background(), filepath.Join(t.TempDir(), "x.csv"), 0)
	if err != nil {
		t.Skipf("disk usage unavailable here: %v", err)
	}
	if r.Total == 0 {
		t.Errorf("report = %+v", r)
	}
}

func TestReport_String(t *testing.T) {
	r := Report{Dir: "/data", Total: 2 << 30, Free: 512 << 20, UsedPercent: 75}
	got := r.String()
	if !strings.Contains(got, "512.0 MiB free of 2.0 GiB") {
		t.Errorf("String() = %q", got)
	}
	if humanBytes(10) != "10 B" {
		t.Errorf("humanBytes(10) = %q", humanBytes(10))
	}
}
