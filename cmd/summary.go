package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RobinvBerg/costpilot/internal/aggregate"
	"github.com/RobinvBerg/costpilot/internal/cli"
	"github.com/RobinvBerg/costpilot/internal/model"
)

var flagSummaryDays int

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Spend summary with advisories and forecast",
	RunE:  runSummary,
}

func init() {
	summaryCmd.Flags().IntVarP(&flagSummaryDays, "days", "n", 7, "Daily totals to show")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(_ *cobra.Command, _ []string) error {
	svc := aggregate.NewService(openStore(), cfg, logger)
	snap, err := svc.Snapshot(time.Now())
	if err != nil {
		return err
	}

	if snap.Month.EventCount == 0 {
		fmt.Println("\n  No cost events recorded yet.")
		fmt.Println("  Run `costpilot ingest openclaw` first.")
		return nil
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "SPEND",
		Headers: []string{"Window", "Cost", "Events", "Tokens", "Cache Hit"},
		Rows: [][]string{
			windowRow("Today", snap.Today),
			windowRow("7 days", snap.Week),
			windowRow("30 days", snap.Month),
		},
	}))

	if len(snap.Today.Sessions) > 0 {
		rows := make([][]string, 0, len(snap.Today.Sessions))
		for _, sc := range snap.Today.Sessions {
			rows = append(rows, []string{
				sc.Session,
				cli.FormatCost(sc.CostUSD),
				cli.FormatNumber(int64(sc.Events)),
				fmt.Sprintf("%.1f%%", sc.Percent),
			})
		}
		fmt.Println()
		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "SESSIONS TODAY",
			Headers: []string{"Session", "Cost", "Events", "Share"},
			Rows:    rows,
		}))
	}

	if n := len(snap.Daily); n > 0 {
		daily := snap.Daily
		if n > flagSummaryDays {
			daily = daily[n-flagSummaryDays:]
		}
		values := make([]float64, len(daily))
		for i, dt := range daily {
			values[i] = dt.CostUSD
		}
		fmt.Printf("\n  Daily spend (last %d days): %s\n", len(daily), cli.RenderSparkline(values))
		if snap.BusiestDay != "" {
			fmt.Printf("  Busiest day: %s\n", snap.BusiestDay)
		}
	}

	if f := snap.Forecast; f != nil {
		fmt.Printf("\n  Forecast: %s remaining this month, %s projected total\n",
			cli.FormatCost(f.ProjectedRemainder), cli.FormatCost(f.ProjectedMonth))
	}

	if len(snap.Anomalies) > 0 {
		fmt.Println("\n  Anomalies:")
		for _, a := range snap.Anomalies {
			fmt.Printf("    %s cost %s (trailing avg %s)\n",
				a.TaskLabel, cli.FormatCost(a.CostUSD), cli.FormatCost(a.AvgUSD))
		}
	}

	if len(snap.Advisories) > 0 {
		fmt.Println("\n  Advisories:")
		for _, adv := range snap.Advisories {
			line := fmt.Sprintf("    [%s] %s", cli.RenderSeverity(adv.Severity.String()), adv.Message)
			if adv.EstimatedSavings > 0 {
				line += fmt.Sprintf(" (save ~%s)", cli.FormatCost(adv.EstimatedSavings))
			}
			fmt.Println(line)
		}
	}

	return nil
}

func windowRow(name string, w model.WindowStats) []string {
	totalTokens := w.Tokens.Input + w.Tokens.Output + w.Tokens.CacheRead + w.Tokens.CacheWrite
	cacheHit := "n/a"
	if w.CacheHitRatio != nil {
		cacheHit = cli.FormatPercent(*w.CacheHitRatio)
	}
	return []string{
		name,
		cli.FormatCost(w.TotalCostUSD),
		cli.FormatNumber(int64(w.EventCount)),
		cli.FormatTokens(totalTokens),
		cacheHit,
	}
}
