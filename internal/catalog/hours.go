package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
)

// IsOpen reports whether the shop accepts orders at now. Shops without both
// opening and closing times are always open. A closing time earlier than the
// opening time spans midnight.
func IsOpen(shop models.Shop, now time.Time) bool {
	if shop.OpensAt == nil || shop.ClosesAt == nil {
		return true
	}
	opens, err := parseClock(*shop.OpensAt)
	if err != nil {
		return true
	}
	closes, err := parseClock(*shop.ClosesAt)
	if err != nil {
		return true
	}

	loc := time.UTC
	if tz := strings.TrimSpace(shop.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	switch {
	case opens == closes:
		return true
	case opens < closes:
		return minute >= opens && minute < closes
	default:
		return minute >= opens || minute < closes
	}
}

// parseClock converts "HH:MM" into minutes after midnight.
func parseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return h*60 + m, nil
}
