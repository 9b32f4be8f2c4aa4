package progress

import (
	"fmt"
	"strings"
	"time"
)

// RenderLine formats a snapshot as
// "progress [#####-----]  50.0%  1.23 MB/s  ETA 0:42 (5/10)".
func RenderLine(snap Snapshot, width int, now time.Time) string {
	line := "progress " + RenderProgress(snap.Percent(), width)

	speed := snap.Fields[FieldSpeed]
	if strings.TrimSpace(speed) == "" {
		speed = "0.00"
	}
	line += fmt.Sprintf("   %s MB/s", speed)

	if eta, ok := snap.ETA(now); ok {
		line += "   ETA " + FormatDuration(eta)
	} else {
		line += "   ETA --:--"
	}
	return line + fmt.Sprintf(" (%d/%d)", snap.Completed, snap.Total)
}

func RenderProgress(percent float64, width int) string {
	clamped := ClampPercent(percent)
	if width <= 0 {
		width = 16
	}
	filled := int((clamped / 100) * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
	return fmt.Sprintf("[%s] %5.1f%%", bar, clamped)
}

func ClampPercent(percent float64) float64 {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
