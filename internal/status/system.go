package status

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// thermalZonePath exposes the SoC temperature in millidegrees on
// Raspberry Pi and most ARM boards.
const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// collectSystem gathers host-level metrics for the stats endpoint.
// Each probe degrades independently; a failed one leaves its zero value.
func collectSystem(ctx context.Context, logger *slog.Logger) SystemInfo {
	info := SystemInfo{Temperature: readTemperature(thermalZonePath, logger)}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	} else if err != nil {
		logger.Warn("Failed to read CPU usage", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryPercent = vm.UsedPercent
	} else {
		logger.Warn("Failed to read memory usage", "error", err)
	}

	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		info.DiskUsage = usage.UsedPercent
	} else {
		logger.Warn("Failed to read disk usage", "error", err)
	}

	return info
}

// readTemperature formats the thermal zone reading as "NN.N°C", or
// "Unknown" when the zone is absent or unreadable.
func readTemperature(path string, logger *slog.Logger) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "Unknown"
	}

	millis, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		logger.Warn("Unparseable thermal zone reading", "raw", string(raw))
		return "Unknown"
	}

	return fmt.Sprintf("%.1f°C", millis/1000)
}
