package domain

import "time"

// Period identifies the bar aggregation interval, mirroring the wire
// protocol's category codes.
type Period int

const (
	Period5Min  Period = 0
	Period15Min Period = 1
	Period30Min Period = 2
	Period1Hour Period = 3
	PeriodDay   Period = 4
	PeriodWeek  Period = 5
	PeriodMonth Period = 6
	Period1Min  Period = 8
)

// String returns the conventional short name for the period.
func (p Period) String() string {
	switch p {
	case Period1Min:
		return "1m"
	case Period5Min:
		return "5m"
	case Period15Min:
		return "15m"
	case Period30Min:
		return "30m"
	case Period1Hour:
		return "1h"
	case PeriodDay:
		return "1d"
	case PeriodWeek:
		return "1w"
	case PeriodMonth:
		return "1M"
	default:
		return "1d"
	}
}

// KlineBar is one validated OHLCV candle.
// Invariants after normalization: High >= max(Open, Close),
// Low <= min(Open, Close), High >= Low, all prices > 0, timestamps strictly
// increasing within a table.
type KlineBar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Amount    float64
}

// Quote is one live snapshot for a symbol.
type Quote struct {
	Symbol    string
	Price     float64
	Open      float64
	High      float64
	Low       float64
	PrevClose float64
	Volume    float64
	Amount    float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Security is one listed instrument returned by the security-list pages.
type Security struct {
	Market int // 0 = Shenzhen, 1 = Shanghai
	Code   string
	Name   string
}
