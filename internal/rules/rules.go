// Package rules evaluates the fixed catalog of efficiency and hygiene
// rules against an aggregation snapshot, producing advisories.
package rules

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/model"
)

// rule is one catalog entry. Each rule is a pure predicate over the
// snapshot and the raw event window, independent of every other rule,
// and produces zero or one advisory.
type rule struct {
	id   string
	eval func(in *input) *model.Advisory
}

// input bundles everything a rule may inspect.
type input struct {
	snap      *model.AggregateSnapshot
	today     []model.CostEvent
	bySession map[string]*sessionView
	cfg       config.Config
	now       time.Time
}

// sessionView is one session's activity within today's window.
type sessionView struct {
	key     string
	events  []model.CostEvent // sorted by timestamp
	costUSD float64
	tokens  model.TokenCounts
	first   int64
	last    int64
}

// catalog is the fixed rule order. Advisories sort by severity
// descending, then this order.
var catalog = []rule{
	{"message-batching", evalMessageBatching},
	{"long-session", evalLongSession},
	{"main-session-overuse", evalMainOveruse},
	{"low-cache-efficiency", evalLowCacheEfficiency},
	{"sequential-subagents", evalSequentialSubagents},
	{"off-peak-scheduling", evalOffPeak},
	{"tri-model-routing", evalTriModelRouting},
	{"cron-flooding", evalCronFlooding},
	{"daily-restart", evalDailyRestart},
}

// Evaluate runs every catalog rule against the snapshot and today's
// raw events, returning advisories sorted by severity descending then
// catalog order.
func Evaluate(snap *model.AggregateSnapshot, events []model.CostEvent, cfg config.Config, now time.Time) []model.Advisory {
	in := &input{
		snap:      snap,
		cfg:       cfg,
		now:       now,
		bySession: make(map[string]*sessionView),
	}
	for i := range events {
		ev := &events[i]
		if ev.Timestamp < snap.Today.Start || ev.Timestamp >= snap.Today.End {
			continue
		}
		in.today = append(in.today, *ev)

		sv, ok := in.bySession[ev.SessionKey]
		if !ok {
			sv = &sessionView{key: ev.SessionKey, first: ev.Timestamp, last: ev.Timestamp}
			in.bySession[ev.SessionKey] = sv
		}
		sv.events = append(sv.events, *ev)
		sv.costUSD += ev.CostUSD
		sv.tokens.Add(ev.Tokens)
		if ev.Timestamp < sv.first {
			sv.first = ev.Timestamp
		}
		if ev.Timestamp > sv.last {
			sv.last = ev.Timestamp
		}
	}
	for _, sv := range in.bySession {
		sort.Slice(sv.events, func(i, j int) bool { return sv.events[i].Timestamp < sv.events[j].Timestamp })
	}

	advisories := make([]model.Advisory, 0, len(catalog))
	for _, r := range catalog {
		if adv := r.eval(in); adv != nil {
			adv.RuleID = r.id
			advisories = append(advisories, *adv)
		}
	}

	// Stable sort keeps catalog order within a severity tier.
	sort.SliceStable(advisories, func(i, j int) bool {
		return advisories[i].Severity > advisories[j].Severity
	})
	return advisories
}

// evalMessageBatching fires when a session shows many small bursts of
// activity that could have been batched into fewer turns.
func evalMessageBatching(in *input) *model.Advisory {
	th := in.cfg.Thresholds
	gap := time.Duration(th.BurstGapMinutes) * time.Minute

	for _, sv := range in.bySession {
		if len(sv.events) < 2 {
			continue
		}
		bursts := 1
		msgs := len(sv.events)
		for i := 1; i < len(sv.events); i++ {
			if time.Duration(sv.events[i].Timestamp-sv.events[i-1].Timestamp)*time.Second > gap {
				bursts++
			}
		}
		avg := float64(msgs) / float64(bursts)
		if bursts > th.BurstMaxCount && avg < th.BurstAvgMsgs {
			return &model.Advisory{
				Severity: model.SeverityHigh,
				Message: fmt.Sprintf("session %q sent %d bursts averaging %.1f messages; batch related prompts into fewer turns",
					sv.key, bursts, avg),
				EstimatedSavings: sv.costUSD * 0.20,
			}
		}
	}
	return nil
}

// evalLongSession fires when the main session has been active for
// hours with a degraded cache-hit ratio, a sign of context bloat.
func evalLongSession(in *input) *model.Advisory {
	th := in.cfg.Thresholds
	sv, ok := in.bySession[in.cfg.General.MainSessionKey]
	if !ok {
		return nil
	}
	activeHours := float64(sv.last-sv.first) / 3600
	if activeHours <= th.LongSessionHours {
		return nil
	}
	denom := sv.tokens.Input + sv.tokens.CacheRead
	if denom == 0 {
		return nil
	}
	ratio := float64(sv.tokens.CacheRead) / float64(denom)
	if ratio >= th.LongSessionCacheHit {
		return nil
	}
	return &model.Advisory{
		Severity: model.SeverityMedium,
		Message: fmt.Sprintf("main session active %.1fh with cache-hit ratio %.0f%%; restart it to shed stale context",
			activeHours, ratio*100),
		EstimatedSavings: sv.costUSD * 0.15,
	}
}

// evalMainOveruse fires when the main session dominates today's spend.
func evalMainOveruse(in *input) *model.Advisory {
	th := in.cfg.Thresholds
	total := in.snap.Today.TotalCostUSD
	if total <= 0 {
		return nil
	}
	sv, ok := in.bySession[in.cfg.General.MainSessionKey]
	if !ok {
		return nil
	}
	share := sv.costUSD / total
	if share <= th.MainShareWarn {
		return nil
	}
	excess := sv.costUSD - total*th.MainShareWarn
	return &model.Advisory{
		Severity: model.SeverityMedium,
		Message: fmt.Sprintf("main session is %.0f%% of today's spend ($%.2f of $%.2f); route background work to cheaper sessions",
			share*100, sv.costUSD, total),
		EstimatedSavings: excess,
	}
}

// evalLowCacheEfficiency fires on a defined but poor overall cache-hit
// ratio for today.
func evalLowCacheEfficiency(in *input) *model.Advisory {
	th := in.cfg.Thresholds
	ratio := in.snap.Today.CacheHitRatio
	if ratio == nil || *ratio >= th.CacheHitWarn {
		return nil
	}
	return &model.Advisory{
		Severity: model.SeverityMedium,
		Message: fmt.Sprintf("cache-hit ratio today is %.0f%% (target %.0f%%); keep system prompts stable to reuse the cache",
			*ratio*100, th.CacheHitWarn*100),
		EstimatedSavings: in.snap.Today.TotalCostUSD * 0.10,
	}
}

// evalSequentialSubagents fires when two or more non-main sessions ran
// back to back within the same clock hour instead of in parallel.
func evalSequentialSubagents(in *input) *model.Advisory {
	main := in.cfg.General.MainSessionKey
	byHour := make(map[int][]*sessionView)
	for _, sv := range in.bySession {
		if sv.key == main {
			continue
		}
		byHour[int(sv.first/3600)] = append(byHour[int(sv.first/3600)], sv)
	}
	for _, svs := range byHour {
		if len(svs) < 2 {
			continue
		}
		sort.Slice(svs, func(i, j int) bool { return svs[i].first < svs[j].first })
		for i := 1; i < len(svs); i++ {
			if svs[i].first >= svs[i-1].last {
				return &model.Advisory{
					Severity: model.SeverityLow,
					Message: fmt.Sprintf("sessions %q and %q ran sequentially in the same hour; they could run in parallel",
						svs[i-1].key, svs[i].key),
				}
			}
		}
	}
	return nil
}

// evalOffPeak fires when a large share of today's events landed inside
// the configured peak window.
func evalOffPeak(in *input) *model.Advisory {
	th := in.cfg.Thresholds
	if len(in.today) == 0 {
		return nil
	}
	loc := in.cfg.Location()
	peak := 0
	for i := range in.today {
		h := time.Unix(in.today[i].Timestamp, 0).In(loc).Hour()
		if h >= th.PeakStartHour && h < th.PeakEndHour {
			peak++
		}
	}
	share := float64(peak) / float64(len(in.today))
	if share <= th.PeakShareWarn {
		return nil
	}
	return &model.Advisory{
		Severity: model.SeverityLow,
		Message: fmt.Sprintf("%.0f%% of today's events ran during peak hours (%02d:00-%02d:00); shift batch jobs off-peak",
			share*100, th.PeakStartHour, th.PeakEndHour),
	}
}

// evalTriModelRouting is a standing advisory whenever sub-agent spend
// exists: route sub-agent work by task size across model tiers.
func evalTriModelRouting(in *input) *model.Advisory {
	main := in.cfg.General.MainSessionKey
	var subSpend float64
	for _, sv := range in.bySession {
		if sv.key != main {
			subSpend += sv.costUSD
		}
	}
	if subSpend <= 0 {
		return nil
	}
	return &model.Advisory{
		Severity: model.SeverityMedium,
		Message: fmt.Sprintf("sub-agents spent $%.2f today; route small tasks to a lighter model tier",
			subSpend),
		EstimatedSavings: subSpend * 0.30,
	}
}

// evalCronFlooding fires when many isolated one-shot sessions ran
// today while the main session still dominates spend, a sign that
// scheduled jobs are being funneled through the expensive session.
func evalCronFlooding(in *input) *model.Advisory {
	th := in.cfg.Thresholds
	total := in.snap.Today.TotalCostUSD
	if total <= 0 {
		return nil
	}
	main := in.cfg.General.MainSessionKey
	isolated := 0
	for _, sv := range in.bySession {
		if sv.key != main && len(sv.events) == 1 {
			isolated++
		}
	}
	sv, ok := in.bySession[main]
	if !ok {
		return nil
	}
	if isolated < th.CronFloodSessions || sv.costUSD/total <= th.CronMainShare {
		return nil
	}
	return &model.Advisory{
		Severity: model.SeverityHigh,
		Message: fmt.Sprintf("%d isolated sessions today while the main session holds %.0f%% of spend; move cron work off the main session",
			isolated, sv.costUSD/total*100),
		EstimatedSavings: sv.costUSD * 0.25,
	}
}

// evalDailyRestart is a standing advisory when no scheduled daily
// restart marker is configured or present.
func evalDailyRestart(in *input) *model.Advisory {
	marker := in.cfg.General.DailyRestartMarker
	if marker != "" {
		if _, err := os.Stat(marker); err == nil {
			return nil
		}
	}
	return &model.Advisory{
		Severity: model.SeverityLow,
		Message:  "no scheduled daily restart configured; a daily restart bounds context growth",
	}
}
