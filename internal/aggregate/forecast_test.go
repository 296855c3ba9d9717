package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RobinvBerg/costpilot/internal/model"
)

func TestForecastUndefinedBelowTwoDays(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	require.Nil(t, computeForecast(nil, 7, now, time.UTC))

	daily := []model.DailyTotal{
		{Date: "2026-02-09", CostUSD: 5, Events: 2},
		{Date: "2026-02-10", CostUSD: 0, Events: 0},
	}
	require.Nil(t, computeForecast(daily, 7, now, time.UTC))
}

func TestForecastFlatSeries(t *testing.T) {
	// Feb 2026 has 28 days; on the 10th, 18 remain.
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	var daily []model.DailyTotal
	for d := 6; d <= 10; d++ {
		daily = append(daily, model.DailyTotal{
			Date:    time.Date(2026, 2, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
			CostUSD: 2.0,
			Events:  1,
		})
	}

	fc := computeForecast(daily, 7, now, time.UTC)
	require.NotNil(t, fc)
	require.InDelta(t, 0.0, fc.Slope, 1e-9)
	require.InDelta(t, 2.0, fc.Intercept, 1e-9)
	require.Equal(t, 5, fc.Days)
	require.InDelta(t, 36.0, fc.ProjectedRemainder, 1e-9)
	// Month to date (5 x $2) plus the projected remainder.
	require.InDelta(t, 46.0, fc.ProjectedMonth, 1e-9)
}

func TestForecastClampsNegativePredictions(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	daily := []model.DailyTotal{
		{Date: "2026-02-08", CostUSD: 5, Events: 1},
		{Date: "2026-02-09", CostUSD: 3, Events: 1},
		{Date: "2026-02-10", CostUSD: 1, Events: 1},
	}

	fc := computeForecast(daily, 7, now, time.UTC)
	require.NotNil(t, fc)
	require.InDelta(t, -2.0, fc.Slope, 1e-9)
	// Every projected day would be negative; the remainder clamps to 0.
	require.Zero(t, fc.ProjectedRemainder)
	require.InDelta(t, 9.0, fc.ProjectedMonth, 1e-9)
}

func TestForecastUsesTrailingWindow(t *testing.T) {
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

	var daily []model.DailyTotal
	for d := 1; d <= 20; d++ {
		daily = append(daily, model.DailyTotal{
			Date:    time.Date(2026, 2, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
			CostUSD: 1.0,
			Events:  1,
		})
	}

	fc := computeForecast(daily, 7, now, time.UTC)
	require.NotNil(t, fc)
	require.Equal(t, 7, fc.Days)
}

func TestOLSFit(t *testing.T) {
	// y = 2x + 1 fits exactly.
	slope, intercept, ok := olsFit([]float64{0, 1, 2, 3}, []float64{1, 3, 5, 7})
	require.True(t, ok)
	require.InDelta(t, 2.0, slope, 1e-9)
	require.InDelta(t, 1.0, intercept, 1e-9)

	_, _, ok = olsFit([]float64{1}, []float64{1})
	require.False(t, ok)

	// Degenerate x values.
	_, _, ok = olsFit([]float64{2, 2, 2}, []float64{1, 2, 3})
	require.False(t, ok)
}
