package normalize

import (
	"testing"
	"time"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/tdx"
)

func bar(dt string, o, h, l, c float64) tdx.RawBar {
	return tdx.RawBar{Datetime: dt, Open: o, High: h, Low: l, Close: c, Volume: 1000, Amount: 10000}
}

func TestNormalize_CleanDataPassesThrough(t *testing.T) {
	raw := []tdx.RawBar{
		bar("2023-05-10 15:00", 10.0, 10.5, 9.8, 10.2),
		bar("2023-05-11 15:00", 10.2, 10.6, 10.1, 10.4),
		bar("2023-05-12 15:00", 10.4, 10.8, 10.3, 10.7),
	}

	out := Normalize(raw, "000001")
	if len(out) != 3 {
		t.Fatalf("Expected 3 bars, got %d", len(out))
	}
	if out[0].Open != 10.0 || out[0].High != 10.5 || out[0].Low != 9.8 || out[0].Close != 10.2 {
		t.Errorf("First bar altered: %+v", out[0])
	}
	want := time.Date(2023, 5, 10, 15, 0, 0, 0, time.UTC)
	if !out[0].Timestamp.Equal(want) {
		t.Errorf("Timestamp: got %v, want %v", out[0].Timestamp, want)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	raw := []tdx.RawBar{
		bar("2023-05-11 15:00", 10.2, 9.0, 10.1, 10.4), // violated high
		bar("2023-05-10 15:00", 10.0, 10.5, 9.8, 10.2), // out of order
		bar("2023-05-10 15:00", 11.0, 11.5, 10.8, 11.2), // duplicate, keep last
	}

	once := Normalize(raw, "000001")

	// Feed the cleaned table back through as raw rows; nothing may change.
	again := make([]tdx.RawBar, len(once))
	for i, b := range once {
		again[i] = tdx.RawBar{
			Datetime: b.Timestamp.Format("2006-01-02 15:04"),
			Open:     b.Open, High: b.High, Low: b.Low, Close: b.Close,
			Volume: b.Volume, Amount: b.Amount,
		}
	}
	twice := Normalize(again, "000001")

	if len(twice) != len(once) {
		t.Fatalf("Second pass changed row count: %d vs %d", len(twice), len(once))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("Row %d changed on second pass: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestNormalize_SortsAscending(t *testing.T) {
	raw := []tdx.RawBar{
		bar("2023-05-12 15:00", 10.4, 10.8, 10.3, 10.7),
		bar("2023-05-10 15:00", 10.0, 10.5, 9.8, 10.2),
		bar("2023-05-11 15:00", 10.2, 10.6, 10.1, 10.4),
	}
	out := Normalize(raw, "000001")
	for i := 1; i < len(out); i++ {
		if !out[i-1].Timestamp.Before(out[i].Timestamp) {
			t.Fatalf("Not ascending at %d: %v then %v", i, out[i-1].Timestamp, out[i].Timestamp)
		}
	}
}

func TestNormalize_DuplicateKeepsLast(t *testing.T) {
	raw := []tdx.RawBar{
		bar("2023-05-10 15:00", 10.0, 10.5, 9.8, 10.2),
		bar("2023-05-10 15:00", 11.0, 11.5, 10.8, 11.2),
	}
	out := Normalize(raw, "000001")
	if len(out) != 1 {
		t.Fatalf("Expected 1 bar after dedupe, got %d", len(out))
	}
	if out[0].Open != 11.0 {
		t.Errorf("Dedupe must keep the last occurrence, got open %v", out[0].Open)
	}
}

func TestNormalize_RepairsViolatedHigh(t *testing.T) {
	raw := []tdx.RawBar{
		bar("2023-05-10 15:00", 10.0, 9.0, 9.8, 10.2), // high below open and close
	}
	out := Normalize(raw, "000001")
	if len(out) != 1 {
		t.Fatalf("Repaired row must survive, got %d rows", len(out))
	}
	if out[0].High != 10.2 {
		t.Errorf("High should be repaired to max(open, close)=10.2, got %v", out[0].High)
	}
}

func TestNormalize_RepairsViolatedLow(t *testing.T) {
	raw := []tdx.RawBar{
		bar("2023-05-10 15:00", 10.0, 10.5, 10.4, 10.2), // low above close
	}
	out := Normalize(raw, "000001")
	if len(out) != 1 {
		t.Fatalf("Repaired row must survive, got %d rows", len(out))
	}
	if out[0].Low != 10.0 {
		t.Errorf("Low should be repaired to min(open, close)=10.0, got %v", out[0].Low)
	}
}

func TestNormalize_ClipsImplausibleMagnitudes(t *testing.T) {
	raw := []tdx.RawBar{
		// Garbage volume and amount on an otherwise fine bar.
		{Datetime: "2023-05-10 15:00", Open: 10, High: 10.5, Low: 9.8, Close: 10.2, Volume: 1e13, Amount: 1e16},
	}
	out := Normalize(raw, "000001")
	if len(out) != 1 {
		t.Fatalf("Expected 1 bar, got %d", len(out))
	}
	if out[0].Volume != 0 || out[0].Amount != 0 {
		t.Errorf("Implausible magnitudes must clip to zero, got volume=%v amount=%v", out[0].Volume, out[0].Amount)
	}
}

func TestNormalize_DropsUnusablePrices(t *testing.T) {
	raw := []tdx.RawBar{
		bar("2023-05-10 15:00", 10.0, 10.5, 9.8, 10.2),
		bar("2023-05-11 15:00", -5.0, -4.0, -6.0, -4.5), // negative clips to zero, then dropped
		bar("2023-05-12 15:00", 1e5, 1e5, 1e5, 1e5),     // beyond price bound, then dropped
	}
	out := Normalize(raw, "000001")
	if len(out) != 1 {
		t.Fatalf("Expected only the clean bar, got %d", len(out))
	}
}

func TestNormalize_DropsEmptyRows(t *testing.T) {
	raw := []tdx.RawBar{
		{Datetime: ""},
		{Datetime: "2023-05-10 15:00"},
		bar("2023-05-11 15:00", 10.0, 10.5, 9.8, 10.2),
	}
	out := Normalize(raw, "000001")
	if len(out) != 1 {
		t.Fatalf("Expected 1 bar, got %d", len(out))
	}
}

func TestNormalize_DropsOutsideCalendarWindow(t *testing.T) {
	raw := []tdx.RawBar{
		bar("1989-12-29 15:00", 10.0, 10.5, 9.8, 10.2),
		bar("2031-01-02 15:00", 10.0, 10.5, 9.8, 10.2),
		bar("2023-05-10 15:00", 10.0, 10.5, 9.8, 10.2),
	}
	out := Normalize(raw, "000001")
	if len(out) != 1 {
		t.Fatalf("Expected 1 bar inside the window, got %d", len(out))
	}
	if out[0].Timestamp.Year() != 2023 {
		t.Errorf("Wrong survivor: %v", out[0].Timestamp)
	}
}

func TestNormalize_MajorityFormatElection(t *testing.T) {
	// Two of three rows use the date-only layout; the odd row fails to parse
	// under the elected layout and is dropped.
	raw := []tdx.RawBar{
		bar("2023-05-10", 10.0, 10.5, 9.8, 10.2),
		bar("2023-05-11", 10.2, 10.6, 10.1, 10.4),
		bar("05/12/2023", 10.4, 10.8, 10.3, 10.7),
	}
	out := Normalize(raw, "000001")
	if len(out) != 2 {
		t.Fatalf("Expected 2 bars under the elected layout, got %d", len(out))
	}
}

func TestNormalize_NoMajorityReturnsNothing(t *testing.T) {
	raw := []tdx.RawBar{
		bar("10/05/2023", 10.0, 10.5, 9.8, 10.2),
		bar("garbled", 10.2, 10.6, 10.1, 10.4),
	}
	if out := Normalize(raw, "000001"); out != nil {
		t.Errorf("Garbled batch must normalize to nothing, got %d rows", len(out))
	}
}

func TestNormalize_UnixSecondsFallback(t *testing.T) {
	ts := time.Date(2023, 5, 10, 15, 0, 0, 0, time.UTC)
	raw := []tdx.RawBar{
		bar("1683730800", 10.0, 10.5, 9.8, 10.2),
		bar("1683817200", 10.2, 10.6, 10.1, 10.4),
	}
	out := Normalize(raw, "000001")
	if len(out) != 2 {
		t.Fatalf("Expected 2 bars, got %d", len(out))
	}
	if !out[0].Timestamp.Equal(ts) {
		t.Errorf("Timestamp: got %v, want %v", out[0].Timestamp, ts)
	}
}

func TestNormalize_Empty(t *testing.T) {
	if out := Normalize(nil, "000001"); out != nil {
		t.Errorf("Nil input should normalize to nil, got %v", out)
	}
	if out := Normalize([]tdx.RawBar{}, "000001"); out != nil {
		t.Errorf("Empty input should normalize to nil, got %v", out)
	}
}

func TestRepairOHLC_AlreadyConsistent(t *testing.T) {
	b := domain.KlineBar{Open: 10, High: 10.5, Low: 9.8, Close: 10.2}
	repairOHLC(&b)
	if b.High != 10.5 || b.Low != 9.8 {
		t.Errorf("Consistent bar must be untouched, got %+v", b)
	}
}
