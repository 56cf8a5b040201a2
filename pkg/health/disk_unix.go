//go:build unix

package health

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskCheck checks free space where tools write their output.
type DiskCheck struct {
	Path string

	// MinFreePercent is the minimum percentage of free space (0-100).
	MinFreePercent float64
}

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{Metadata: make(map[string]any)}

	path := c.Path
	if path == "" {
		path = "/"
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("failed to get disk stats: %v", err)
		return result
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize) //nolint:gosec // Bsize is positive
	freeBytes := stat.Bavail * uint64(stat.Bsize)  //nolint:gosec // Bsize is positive
	freePercent := 100.0
	if totalBytes > 0 {
		freePercent = float64(freeBytes) / float64(totalBytes) * 100
	}

	result.Metadata["path"] = path
	result.Metadata["free_bytes"] = freeBytes
	result.Metadata["free_percent"] = fmt.Sprintf("%.2f%%", freePercent)

	if c.MinFreePercent > 0 && freePercent < c.MinFreePercent {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("disk free space %.2f%% is below threshold %.2f%%", freePercent, c.MinFreePercent)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("disk has %.2f%% free space", freePercent)
	return result
}
