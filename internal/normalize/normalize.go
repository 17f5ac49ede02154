// Package normalize validates and repairs raw wire-protocol rows into clean,
// time-ordered kline tables. All functions are pure; no I/O.
package normalize

import (
	"sort"
	"strconv"
	"time"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/tdx"
)

// Sanity bounds on parsed values.
const (
	minYear   = 1990
	maxYear   = 2030
	maxPrice  = 1e4  // currency units; beyond this the value is noise
	maxVolume = 1e12 // shares
	maxAmount = 1e15 // currency units
)

// timeFormats are tried in order of likelihood. The first format that parses
// a majority of the batch wins; a batch where no format clears that bar is
// unparseable as a whole.
var timeFormats = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
	"2006-01-02T15:04:05",
	"200601021504",
}

// Normalize cleans one raw batch for a symbol: it drops empty and
// unparseable rows, clips implausible magnitudes, repairs OHLC relationship
// violations from open/close, removes duplicate timestamps keeping the last
// occurrence, and returns the table sorted ascending by timestamp.
// Normalizing already-clean data is a no-op.
func Normalize(raw []tdx.RawBar, symbol string) []domain.KlineBar {
	rows := dropEmpty(raw)
	if len(rows) == 0 {
		return nil
	}

	parse := electTimeFormat(rows)
	if parse == nil {
		// No format parses a majority: the batch is garbled, and partially
		// parsed timestamps would be worse than nothing.
		return nil
	}

	byTimestamp := make(map[int64]domain.KlineBar, len(rows))
	order := make([]int64, 0, len(rows))
	for _, r := range rows {
		ts, ok := parse(r.Datetime)
		if !ok {
			continue
		}
		if ts.Year() < minYear || ts.Year() > maxYear {
			continue
		}

		bar := domain.KlineBar{
			Timestamp: ts,
			Open:      clip(r.Open, maxPrice),
			High:      clip(r.High, maxPrice),
			Low:       clip(r.Low, maxPrice),
			Close:     clip(r.Close, maxPrice),
			Volume:    clip(r.Volume, maxVolume),
			Amount:    clip(r.Amount, maxAmount),
		}
		repairOHLC(&bar)
		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			continue
		}

		key := ts.Unix()
		if _, seen := byTimestamp[key]; !seen {
			order = append(order, key)
		}
		byTimestamp[key] = bar // duplicate timestamps keep the last occurrence
	}

	out := make([]domain.KlineBar, 0, len(order))
	for _, key := range order {
		out = append(out, byTimestamp[key])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	return out
}

// dropEmpty removes rows carrying no information at all.
func dropEmpty(raw []tdx.RawBar) []tdx.RawBar {
	var out []tdx.RawBar
	for _, r := range raw {
		if r.Datetime == "" {
			continue
		}
		if r.Open == 0 && r.High == 0 && r.Low == 0 && r.Close == 0 && r.Volume == 0 && r.Amount == 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}

// electTimeFormat returns a parser for the first format that converts more
// than half the batch, or nil when none does. Plain unix-seconds strings are
// tried after the textual formats.
func electTimeFormat(rows []tdx.RawBar) func(string) (time.Time, bool) {
	total := len(rows)
	for _, layout := range timeFormats {
		hits := 0
		for _, r := range rows {
			if _, err := time.Parse(layout, r.Datetime); err == nil {
				hits++
			}
		}
		if hits*2 > total {
			l := layout
			return func(s string) (time.Time, bool) {
				t, err := time.Parse(l, s)
				return t, err == nil
			}
		}
	}

	hits := 0
	for _, r := range rows {
		if _, err := strconv.ParseInt(r.Datetime, 10, 64); err == nil {
			hits++
		}
	}
	if hits*2 > total {
		return func(s string) (time.Time, bool) {
			sec, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return time.Time{}, false
			}
			return time.Unix(sec, 0).UTC(), true
		}
	}
	return nil
}

// clip zeroes physically implausible magnitudes instead of keeping outliers.
// Negative values are also zeroed; the caller drops rows that end up without
// a usable price.
func clip(v, max float64) float64 {
	if v < 0 || v > max {
		return 0
	}
	return v
}

// repairOHLC recomputes high/low from open/close where the relationship is
// violated, rather than dropping the row.
func repairOHLC(b *domain.KlineBar) {
	maxOC := b.Open
	if b.Close > maxOC {
		maxOC = b.Close
	}
	minOC := b.Open
	if b.Close < minOC {
		minOC = b.Close
	}
	if b.High < maxOC {
		b.High = maxOC
	}
	if b.Low > minOC {
		b.Low = minOC
	}
}
