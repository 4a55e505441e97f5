package space

import (
	"errors"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-mirror/pkg/pathdiff"
)

func TestSimulate(t *testing.T) {
	tests := []struct {
		name          string
		free          int64
		plan          *pathdiff.Plan
		wantFits      bool
		wantRemaining int64
	}{
		{
			name:          "empty plan always fits",
			free:          1000,
			plan:          &pathdiff.Plan{},
			wantFits:      true,
			wantRemaining: 1000,
		},
		{
			name: "growing overwrite exceeds free space",
			free: 1000,
			plan: &pathdiff.Plan{
				Changed: []pathdiff.ChangedFile{{SrcSize: 1300, DstSize: 200}},
			},
			wantFits:      false,
			wantRemaining: -100,
		},
		{
			name: "delete-only plan wins space back",
			free: 1000,
			plan: &pathdiff.Plan{
				Delete: []pathdiff.DeleteTarget{{Size: 500, FileCount: 1}},
			},
			wantFits:      true,
			wantRemaining: 1500,
		},
		{
			name: "deletes pay for new files",
			free: 100,
			plan: &pathdiff.Plan{
				New:    []pathdiff.NewFile{{Size: 400}},
				Delete: []pathdiff.DeleteTarget{{Size: 350, FileCount: 1}},
			},
			wantFits:      true,
			wantRemaining: 50,
		},
		{
			name: "exactly zero remaining does not fit",
			free: 100,
			plan: &pathdiff.Plan{
				New: []pathdiff.NewFile{{Size: 100}},
			},
			wantFits:      false,
			wantRemaining: 0,
		},
		{
			name: "shrinking overwrites recover a mid-plan deficit",
			free: 100,
			plan: &pathdiff.Plan{
				Changed: []pathdiff.ChangedFile{
					{SrcSize: 300, DstSize: 100}, // balance dips to -100
					{SrcSize: 100, DstSize: 400}, // and recovers to +200
				},
			},
			wantFits:      true,
			wantRemaining: 200,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := simulate(tt.plan, "/mnt/test", tt.free)
			if report.Fits != tt.wantFits {
				t.Errorf("Fits = %v, want %v", report.Fits, tt.wantFits)
			}
			if report.RemainingBytes != tt.wantRemaining {
				t.Errorf("RemainingBytes = %d, want %d", report.RemainingBytes, tt.wantRemaining)
			}
			if report.FreeBytes != tt.free {
				t.Errorf("FreeBytes = %d, want %d", report.FreeBytes, tt.free)
			}
			if report.NetDeltaBytes != tt.plan.NetDeltaBytes() {
				t.Errorf("NetDeltaBytes = %d, want %d", report.NetDeltaBytes, tt.plan.NetDeltaBytes())
			}
		})
	}
}

func TestReportErr(t *testing.T) {
	fits := Report{Fits: true, VolumePath: "/mnt/a"}
	if err := fits.Err(); err != nil {
		t.Errorf("Err() = %v for a fitting report, want nil", err)
	}

	full := Report{
		Fits:           false,
		FreeBytes:      1000,
		RemainingBytes: -100,
		NetDeltaBytes:  1100,
		VolumePath:     "/mnt/backup",
	}
	err := full.Err()
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Fatalf("Err() = %v, want ErrInsufficientSpace", err)
	}
	if !strings.Contains(err.Error(), "/mnt/backup") {
		t.Errorf("error %q does not name the volume", err)
	}
}

func TestCheckOnRealVolume(t *testing.T) {
	dir := t.TempDir()
	report, err := Check(&pathdiff.Plan{}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Fits {
		t.Error("an empty plan must fit on any volume with free space")
	}
	if report.FreeBytes <= 0 {
		t.Errorf("FreeBytes = %d, want > 0", report.FreeBytes)
	}
	if report.VolumePath == "" {
		t.Error("VolumePath is empty")
	}
}

func TestVolumeRootOfMissingPath(t *testing.T) {
	// The deepest existing ancestor decides the volume, so a destination
	// that is yet to be created still resolves.
	root, err := VolumeRoot(t.TempDir() + "/not/created/yet")
	if err != nil {
		t.Fatal(err)
	}
	if root == "" {
		t.Error("VolumeRoot returned an empty mount point")
	}
}
