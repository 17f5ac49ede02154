package normalize

import (
	"time"

	"tdx-datafeed/internal/domain"
)

// startTolerance is how far past the latest available row a start bound may
// sit and still be snapped back to it. It absorbs weekends and holidays.
const startTolerance = 3 * 24 * time.Hour

// FilterRange applies lenient calendar bounds to an ascending table. The
// protocol can only ever return historical rows, so an end bound on or after
// today means no upper bound at all. A start bound slightly past the latest
// available row (within the multi-day tolerance) snaps to that row; a start
// bound clearly beyond it asks for data that cannot exist yet and yields an
// empty table. Zero bounds are unbounded on that side.
func FilterRange(bars []domain.KlineBar, start, end, today time.Time) []domain.KlineBar {
	if len(bars) == 0 {
		return bars
	}

	latest := bars[len(bars)-1].Timestamp

	if !start.IsZero() && start.After(latest) {
		if start.Sub(latest) > startTolerance {
			return nil
		}
		start = latest
	}

	upperBounded := !end.IsZero() && end.Before(dayStart(today))
	var upper time.Time
	if upperBounded {
		// Inclusive through the whole end date.
		upper = dayStart(end).Add(24 * time.Hour)
	}

	var out []domain.KlineBar
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if upperBounded && !b.Timestamp.Before(upper) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
