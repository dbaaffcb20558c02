package cli

import (
	"fmt"
	"time"

	"github.com/storeops/storeops/internal/util"
)

// nearestEventDate returns the business date whose instant at hour lies
// closest to now. PRE_COLLECT for a midnight event runs the evening before,
// so "today" alone would pick the wrong day.
func nearestEventDate(now time.Time, hour int, loc *time.Location) time.Time {
	today := util.DateIn(now.In(loc), loc)

	best := today
	var bestDist time.Duration = -1
	for _, offset := range []int{-1, 0, 1} {
		day := util.AddDays(today, offset)
		dist := util.AtHour(day, hour).Sub(now)
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = day, dist
		}
	}
	return best
}

// parseDate parses a --date style flag. Empty returns def.
func parseDate(flag, value string, loc *time.Location, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}
	t, err := util.ParseDateIn(value, loc)
	if err != nil {
		return time.Time{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid --%s %q: want YYYY-MM-DD", flag, value))
	}
	return t, nil
}

func validateHour(hour int) error {
	if hour < 0 || hour > 23 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --hour %d: must be between 0 and 23", hour))
	}
	return nil
}

// maxRangeDays bounds --from/--to spans.
const maxRangeDays = 366

func validateRange(start, end time.Time) error {
	days := util.DaysBetween(start, end)
	if days < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--from %s is after --to %s", util.FormatDate(start), util.FormatDate(end)))
	}
	if days >= maxRangeDays {
		return NewExitError(ExitCommandError, fmt.Sprintf("date range of %d days exceeds %d", days+1, maxRangeDays))
	}
	return nil
}
