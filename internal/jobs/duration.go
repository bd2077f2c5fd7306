package jobs

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatDuration renders d as "1 Days 2 Hours 3 Minutes 4.5 Seconds",
// leaving out zero parts. Seconds are rounded to two decimals.
func FormatDuration(d time.Duration) string {
	total := d.Seconds()
	if total <= 0 {
		return ""
	}

	rest, secs := math.Floor(total/60), math.Mod(total, 60)
	rest, mins := math.Floor(rest/60), math.Mod(rest, 60)
	days, hours := math.Floor(rest/24), math.Mod(rest, 24)

	var parts []string
	if days > 0 {
		parts = append(parts, strconv.FormatFloat(days, 'f', 0, 64)+" Days")
	}
	if hours > 0 {
		parts = append(parts, strconv.FormatFloat(hours, 'f', 0, 64)+" Hours")
	}
	if mins > 0 {
		parts = append(parts, strconv.FormatFloat(mins, 'f', 0, 64)+" Minutes")
	}
	if secs = math.Round(secs*100) / 100; secs > 0 {
		parts = append(parts, strconv.FormatFloat(secs, 'f', -1, 64)+" Seconds")
	}
	return strings.Join(parts, " ")
}
