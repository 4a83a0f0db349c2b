package device

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Collector builds the opaque telemetry object carried on mutating license
// calls. Fields that cannot be collected are omitted rather than sent as
// nulls, and collection errors never fail the caller.
type Collector struct {
	appVersion string
	startTime  time.Time
}

// NewCollector creates a collector reporting appVersion.
func NewCollector(appVersion string) *Collector {
	return &Collector{
		appVersion: appVersion,
		startTime:  time.Now(),
	}
}

// Collect gathers a telemetry snapshot.
func (c *Collector) Collect(ctx context.Context) map[string]any {
	t := map[string]any{
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"uptime_seconds": int64(time.Since(c.startTime).Seconds()),
	}
	if c.appVersion != "" {
		t["app_version"] = c.appVersion
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		t["hostname"] = info.Hostname
		if info.Platform != "" {
			t["platform"] = info.Platform
		}
		if info.PlatformVersion != "" {
			t["platform_version"] = info.PlatformVersion
		}
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		t["cpu_usage"] = pct[0]
	}
	if stat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		t["memory_usage"] = stat.UsedPercent
	}

	diskPath := "/"
	if runtime.GOOS == "windows" {
		diskPath = "C:\\"
	}
	if stat, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		t["disk_usage"] = stat.UsedPercent
	}

	return t
}
