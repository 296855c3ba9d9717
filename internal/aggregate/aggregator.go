// Package aggregate derives windowed analytics snapshots from the
// event store: rollups, anomalies, forecasts, and a short-TTL cache.
package aggregate

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/model"
	"github.com/RobinvBerg/costpilot/internal/store"
)

// Aggregator computes snapshots as a pure function of the event store
// contents and the evaluation instant.
type Aggregator struct {
	store *store.Store
	cfg   config.Config
	loc   *time.Location
	log   *zap.SugaredLogger
}

// New builds an Aggregator.
func New(st *store.Store, cfg config.Config, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{store: st, cfg: cfg, loc: cfg.Location(), log: log}
}

// Compute builds a full snapshot at the given instant. The returned
// events are the 30-day working set, for callers that evaluate rules
// over the raw window.
func (a *Aggregator) Compute(now time.Time) (*model.AggregateSnapshot, []model.CostEvent, error) {
	fp := a.store.Fingerprint()

	midnight := dayStart(now, a.loc)
	monthStart := midnight.AddDate(0, 0, -29)
	weekStart := midnight.AddDate(0, 0, -6)

	loaded, err := a.store.Load(store.Filter{From: monthStart.Unix(), To: now.Unix()})
	if err != nil {
		return nil, nil, err
	}
	events := loaded.Events

	th := a.cfg.Thresholds
	snap := &model.AggregateSnapshot{
		GeneratedAt: now,
		Fingerprint: fp,
		Today:       computeWindow(events, model.WindowToday, midnight, now, th.RecurringMinCount),
		Week:        computeWindow(events, model.WindowWeek, weekStart, now, th.RecurringMinCount),
		Month:       computeWindow(events, model.WindowMonth, monthStart, now, th.RecurringMinCount),
		Anomalies:   detectAnomalies(events, th.AnomalyMultiplier, th.AnomalyMinOccurrences),
	}
	snap.Daily = dailyTotals(events, monthStart, midnight, a.loc)
	snap.BusiestDay = busiestDay(snap.Daily)
	snap.Forecast = computeForecast(snap.Daily, a.cfg.Forecast.Days, now, a.loc)

	if snap.Anomalies == nil {
		snap.Anomalies = []model.Anomaly{}
	}
	snap.Advisories = []model.Advisory{}
	return snap, events, nil
}

// computeWindow rolls up events with timestamp in [start, end).
func computeWindow(events []model.CostEvent, w model.Window, start, end time.Time, recurringMin int) model.WindowStats {
	stats := model.WindowStats{
		Window:   w,
		Start:    start.Unix(),
		End:      end.Unix(),
		Sessions: []model.SessionCost{},
		Models:   []model.ModelCost{},
	}

	sessionMap := make(map[string]*model.SessionCost)
	modelMap := make(map[string]*model.ModelCost)
	labelCounts := make(map[string]int)

	for i := range events {
		ev := &events[i]
		if ev.Timestamp < start.Unix() || ev.Timestamp >= end.Unix() {
			continue
		}

		stats.TotalCostUSD += ev.CostUSD
		stats.EventCount++
		stats.Tokens.Add(ev.Tokens)

		sc, ok := sessionMap[ev.SessionKey]
		if !ok {
			sc = &model.SessionCost{Session: ev.SessionKey}
			sessionMap[ev.SessionKey] = sc
		}
		sc.CostUSD += ev.CostUSD
		sc.Events++

		mc, ok := modelMap[ev.Model]
		if !ok {
			mc = &model.ModelCost{Model: ev.Model}
			modelMap[ev.Model] = mc
		}
		mc.CostUSD += ev.CostUSD
		mc.Events++
		mc.Tokens.Add(ev.Tokens)

		if ev.TaskLabel != "" {
			labelCounts[ev.TaskLabel]++
		}
	}

	// Percentages; a zero total yields 0% for everyone.
	for _, sc := range sessionMap {
		if stats.TotalCostUSD > 0 {
			sc.Percent = sc.CostUSD / stats.TotalCostUSD * 100
		}
		stats.Sessions = append(stats.Sessions, *sc)
	}
	sort.Slice(stats.Sessions, func(i, j int) bool {
		return stats.Sessions[i].CostUSD > stats.Sessions[j].CostUSD
	})

	for _, mc := range modelMap {
		if stats.TotalCostUSD > 0 {
			mc.Percent = mc.CostUSD / stats.TotalCostUSD * 100
		}
		stats.Models = append(stats.Models, *mc)
	}
	sort.Slice(stats.Models, func(i, j int) bool {
		return stats.Models[i].CostUSD > stats.Models[j].CostUSD
	})

	// Cache-hit ratio is undefined, not zero, when no input-side
	// tokens exist in the window.
	denom := stats.Tokens.Input + stats.Tokens.CacheRead
	if denom > 0 {
		ratio := float64(stats.Tokens.CacheRead) / float64(denom)
		stats.CacheHitRatio = &ratio
	}

	for label, n := range labelCounts {
		if n >= recurringMin {
			stats.Recurring = append(stats.Recurring, label)
		}
	}
	sort.Strings(stats.Recurring)

	return stats
}

// detectAnomalies flags events whose cost exceeds multiplier times
// the trailing average of earlier events sharing the same task label.
// Labels with fewer than minPrior earlier occurrences are never
// flagged, avoiding false positives on first runs.
func detectAnomalies(events []model.CostEvent, multiplier float64, minPrior int) []model.Anomaly {
	byLabel := make(map[string][]*model.CostEvent)
	for i := range events {
		ev := &events[i]
		if ev.TaskLabel == "" {
			continue
		}
		byLabel[ev.TaskLabel] = append(byLabel[ev.TaskLabel], ev)
	}

	var anomalies []model.Anomaly
	for label, evs := range byLabel {
		sort.Slice(evs, func(i, j int) bool { return evs[i].Timestamp < evs[j].Timestamp })

		var priorSum float64
		for i, ev := range evs {
			if i >= minPrior {
				avg := priorSum / float64(i)
				if avg > 0 && ev.CostUSD > multiplier*avg {
					anomalies = append(anomalies, model.Anomaly{
						EventID:   ev.ID,
						TaskLabel: label,
						CostUSD:   ev.CostUSD,
						AvgUSD:    avg,
					})
				}
			}
			priorSum += ev.CostUSD
		}
	}

	sort.Slice(anomalies, func(i, j int) bool {
		return anomalies[i].CostUSD > anomalies[j].CostUSD
	})
	return anomalies
}

// dailyTotals buckets events by calendar day in the configured
// timezone, filling every day in [first, last] so charts and the
// forecaster see gaps as zeros. Sorted ascending by date.
func dailyTotals(events []model.CostEvent, first, last time.Time, loc *time.Location) []model.DailyTotal {
	dayMap := make(map[string]*model.DailyTotal)

	for i := range events {
		ev := &events[i]
		key := time.Unix(ev.Timestamp, 0).In(loc).Format("2006-01-02")
		dt, ok := dayMap[key]
		if !ok {
			dt = &model.DailyTotal{Date: key}
			dayMap[key] = dt
		}
		dt.CostUSD += ev.CostUSD
		dt.Events++
	}

	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		if _, ok := dayMap[key]; !ok {
			dayMap[key] = &model.DailyTotal{Date: key}
		}
	}

	days := make([]model.DailyTotal, 0, len(dayMap))
	for _, dt := range dayMap {
		days = append(days, *dt)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days
}

// busiestDay returns the date with the highest spend, empty when no
// day has any events.
func busiestDay(daily []model.DailyTotal) string {
	best := ""
	bestCost := 0.0
	for _, dt := range daily {
		if dt.Events > 0 && dt.CostUSD > bestCost {
			best = dt.Date
			bestCost = dt.CostUSD
		}
	}
	return best
}

// dayStart floors an instant to midnight in the given timezone.
func dayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
