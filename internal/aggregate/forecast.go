package aggregate

import (
	"time"

	"github.com/RobinvBerg/costpilot/internal/model"
)

// computeForecast fits an ordinary least-squares line over the
// trailing `days` daily totals and projects spend for the remainder
// of the calendar month. Fewer than 2 distinct days with data make
// the forecast undefined: nil, never zero.
func computeForecast(daily []model.DailyTotal, days int, now time.Time, loc *time.Location) *model.Forecast {
	if days < 2 {
		days = 2
	}
	window := daily
	if len(window) > days {
		window = window[len(window)-days:]
	}

	distinct := 0
	for _, dt := range window {
		if dt.Events > 0 {
			distinct++
		}
	}
	if distinct < 2 {
		return nil
	}

	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	for i, dt := range window {
		xs[i] = float64(i)
		ys[i] = dt.CostUSD
	}
	slope, intercept, ok := olsFit(xs, ys)
	if !ok {
		return nil
	}

	local := now.In(loc)
	daysInMonth := time.Date(local.Year(), local.Month()+1, 0, 0, 0, 0, 0, loc).Day()
	remaining := daysInMonth - local.Day()

	// Project forward from the last fitted index; negative predictions
	// clamp to zero since spend cannot go below it.
	var remainder float64
	lastX := xs[len(xs)-1]
	for d := 1; d <= remaining; d++ {
		pred := intercept + slope*(lastX+float64(d))
		if pred > 0 {
			remainder += pred
		}
	}

	monthToDate := 0.0
	monthPrefix := local.Format("2006-01")
	for _, dt := range daily {
		if len(dt.Date) >= 7 && dt.Date[:7] == monthPrefix {
			monthToDate += dt.CostUSD
		}
	}

	return &model.Forecast{
		Slope:              slope,
		Intercept:          intercept,
		Days:               len(window),
		ProjectedRemainder: remainder,
		ProjectedMonth:     monthToDate + remainder,
	}
}

// olsFit returns the closed-form least-squares slope and intercept.
// ok is false when the x values are degenerate.
func olsFit(xs, ys []float64) (slope, intercept float64, ok bool) {
	n := float64(len(xs))
	if n < 2 {
		return 0, 0, false
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, true
}
