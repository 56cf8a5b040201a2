//go:build !unix

package health

import "context"

// DiskCheck is not supported on this platform and always reports unknown.
type DiskCheck struct {
	Path           string
	MinFreePercent float64
}

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusUnknown, Message: "disk check not supported"}
}
