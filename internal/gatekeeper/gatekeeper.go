package gatekeeper

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"cloudstash/internal/config"
	"cloudstash/internal/interfaces"
)

// Gatekeeper refuses download batches that would not fit on the destination
// filesystem.
type Gatekeeper struct {
	config *config.Config
	disk   interfaces.DiskChecker
}

// ResourceStatus is the free-space view of one destination.
type ResourceStatus struct {
	Enabled      bool   `json:"enabled"`
	Path         string `json:"path"`
	FreeBytes    uint64 `json:"free_bytes"`
	ReserveBytes uint64 `json:"reserve_bytes"`
}

func New(cfg *config.Config, disk interfaces.DiskChecker) *Gatekeeper {
	if disk == nil {
		disk = StatfsChecker{}
	}
	return &Gatekeeper{
		config: cfg,
		disk:   disk,
	}
}

// CanStartDownload checks whether size bytes plus the configured reserve fit
// on the filesystem holding destDir.
func (g *Gatekeeper) CanStartDownload(destDir string, size int64) interfaces.GateDecision {
	gatekeeperCfg := g.config.GetGatekeeper()

	if !gatekeeperCfg.Enabled || size <= 0 {
		return interfaces.GateDecision{
			Allowed: true,
			Reason:  "All checks passed",
		}
	}

	free, err := g.disk.FreeBytes(destDir)
	if err != nil {
		slog.Error("failed to check free disk space", "path", destDir, "error", err)
		return interfaces.GateDecision{
			Allowed: false,
			Reason:  "Unable to verify disk space",
		}
	}

	required := uint64(size) + gatekeeperCfg.ReserveBytes
	if free < required {
		return interfaces.GateDecision{
			Allowed: false,
			Reason:  "Insufficient disk space",
			Details: map[string]interface{}{
				"required_bytes": required,
				"free_bytes":     free,
				"reserve_bytes":  gatekeeperCfg.ReserveBytes,
				"required":       humanize.IBytes(required),
				"free":           humanize.IBytes(free),
			},
		}
	}

	return interfaces.GateDecision{
		Allowed: true,
		Reason:  "All checks passed",
	}
}

// GetResourceStatus returns current resource status
func (g *Gatekeeper) GetResourceStatus(path string) ResourceStatus {
	gatekeeperCfg := g.config.GetGatekeeper()

	status := ResourceStatus{
		Enabled:      gatekeeperCfg.Enabled,
		Path:         path,
		ReserveBytes: gatekeeperCfg.ReserveBytes,
	}
	if free, err := g.disk.FreeBytes(path); err == nil {
		status.FreeBytes = free
	}
	return status
}

// StatfsChecker reads free space with statfs(2). A path that does not exist
// yet is measured at its closest existing ancestor.
type StatfsChecker struct{}

func (StatfsChecker) FreeBytes(path string) (uint64, error) {
	dir := filepath.Clean(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem at %s: %w", dir, err)
	}

	return stat.Bavail * uint64(stat.Bsize), nil
}
