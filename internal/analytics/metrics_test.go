package analytics

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"algorunner/pkg/types"
)

func snapshotsFromEquity(equities ...float64) []types.Snapshot {
	snaps := make([]types.Snapshot, len(equities))
	for i, e := range equities {
		snaps[i] = types.Snapshot{Equity: decimal.NewFromFloat(e)}
	}
	return snaps
}

func approx(t *testing.T, got, want, tol float64, what string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func TestTotalReturn(t *testing.T) {
	t.Parallel()
	approx(t, TotalReturn(10000, 11000), 10.0, 1e-9, "gain")
	approx(t, TotalReturn(10000, 9000), -10.0, 1e-9, "loss")
	approx(t, TotalReturn(0, 1000), 0, 0, "zero initial")
	approx(t, TotalReturn(-5, 1000), 0, 0, "negative initial")
}

func TestDailyReturns(t *testing.T) {
	t.Parallel()
	got := DailyReturns(snapshotsFromEquity(10000, 10100, 10000))
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	approx(t, got[0], 0.01, 1e-6, "first return")
	approx(t, got[1], -0.0099, 1e-4, "second return")
}

func TestDailyReturnsSkipsNonPositivePrev(t *testing.T) {
	t.Parallel()
	got := DailyReturns(snapshotsFromEquity(0, 100, 110))
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (zero-equity pair skipped)", len(got))
	}
	approx(t, got[0], 0.1, 1e-9, "surviving return")

	if got := DailyReturns(nil); len(got) != 0 {
		t.Errorf("empty input: got %v", got)
	}
}

func TestSharpeRatioZeroCases(t *testing.T) {
	t.Parallel()
	if got := SharpeRatio(nil, DefaultAnnualization); got != 0 {
		t.Errorf("empty returns: %v, want 0", got)
	}
	// Identical returns have zero deviation.
	if got := SharpeRatio([]float64{0.01, 0.01, 0.01}, DefaultAnnualization); got != 0 {
		t.Errorf("constant returns: %v, want 0", got)
	}
}

func TestSharpeRatioKnownSeries(t *testing.T) {
	t.Parallel()
	returns := []float64{0.01, -0.01}
	// mean 0, so Sharpe is 0 regardless of deviation.
	approx(t, SharpeRatio(returns, DefaultAnnualization), 0, 1e-9, "zero-mean series")

	returns = []float64{0.02, 0.01}
	// mean 0.015, population stdev 0.005: 3 * sqrt(252).
	want := 3 * math.Sqrt(252)
	approx(t, SharpeRatio(returns, DefaultAnnualization), want, 1e-9, "known series")
}

func TestMaxDrawdownSinglePeak(t *testing.T) {
	t.Parallel()
	got := MaxDrawdown(snapshotsFromEquity(10000, 11000, 9900, 10500))
	approx(t, got, 0.10, 1e-3, "single-peak drawdown")
}

func TestMaxDrawdownMultiPeak(t *testing.T) {
	t.Parallel()
	got := MaxDrawdown(snapshotsFromEquity(10000, 9500, 10000, 11000, 8800, 9500))
	approx(t, got, 0.20, 1e-3, "multi-peak drawdown")
}

func TestMaxDrawdownBounds(t *testing.T) {
	t.Parallel()
	if got := MaxDrawdown(nil); got != 0 {
		t.Errorf("empty: %v, want 0", got)
	}
	// Non-decreasing equity never draws down.
	if got := MaxDrawdown(snapshotsFromEquity(100, 100, 150, 200)); got != 0 {
		t.Errorf("non-decreasing: %v, want 0", got)
	}
	// A collapse to zero is a full (1.0) drawdown, never more.
	got := MaxDrawdown(snapshotsFromEquity(100, 0))
	approx(t, got, 1.0, 1e-9, "collapse")
}

func TestWinRate(t *testing.T) {
	t.Parallel()
	if got := WinRate(nil); got != 0 {
		t.Errorf("no trades: %v, want 0", got)
	}
	approx(t, WinRate([]float64{5, -3, 10, 0}), 0.5, 1e-9, "mixed trades")
	approx(t, WinRate([]float64{-1, -2}), 0, 1e-9, "all losers")
}
