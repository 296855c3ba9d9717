package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/model"
)

var (
	flagLogSession    string
	flagLogModel      string
	flagLogTask       string
	flagLogCost       float64
	flagLogInput      int64
	flagLogOutput     int64
	flagLogCacheRead  int64
	flagLogCacheWrite int64
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Record a single cost event by hand",
	Long: "Append one manually entered event to the log. Cost is computed from the\n" +
		"pricing table unless --cost is given.",
	RunE: runLog,
}

func init() {
	logCmd.Flags().StringVar(&flagLogSession, "session", "", "Session key (default main)")
	logCmd.Flags().StringVarP(&flagLogModel, "model", "m", "sonnet", "Model name or alias")
	logCmd.Flags().StringVarP(&flagLogTask, "task", "t", "", "Task label, may embed [tags]")
	logCmd.Flags().Float64Var(&flagLogCost, "cost", 0, "Exact cost in USD (overrides pricing table)")
	logCmd.Flags().Int64Var(&flagLogInput, "input", 0, "Input tokens")
	logCmd.Flags().Int64Var(&flagLogOutput, "output", 0, "Output tokens")
	logCmd.Flags().Int64Var(&flagLogCacheRead, "cache-read", 0, "Cache read tokens")
	logCmd.Flags().Int64Var(&flagLogCacheWrite, "cache-write", 0, "Cache write tokens")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, _ []string) error {
	session := flagLogSession
	if session == "" {
		session = cfg.General.MainSessionKey
	}

	ev := model.CostEvent{
		Timestamp:  time.Now().Unix(),
		SessionKey: session,
		Model:      config.NormalizeModelName(flagLogModel),
		Tokens: model.TokenCounts{
			Input:      flagLogInput,
			Output:     flagLogOutput,
			CacheRead:  flagLogCacheRead,
			CacheWrite: flagLogCacheWrite,
		},
		TaskLabel:  flagLogTask,
		Status:     "completed",
		SourceMode: model.SourceOpenclaw,
	}

	if cmd.Flags().Changed("cost") {
		ev.CostUSD = flagLogCost
	} else {
		pricer := config.NewPricer(cfg)
		cost, known := pricer.Cost(ev.Model, ev.Tokens.Input, ev.Tokens.Output, ev.Tokens.CacheRead, ev.Tokens.CacheWrite)
		if !known {
			logger.Warnw("unknown model, using fallback pricing", "model", ev.Model)
		}
		ev.CostUSD = cost
	}
	ev.SetID()

	res, err := openStore().Append([]model.CostEvent{ev})
	if err != nil {
		return err
	}
	if res.Duplicate > 0 {
		fmt.Println("event already recorded")
		return nil
	}
	fmt.Printf("logged %s: $%.4f (%s)\n", ev.ID, ev.CostUSD, ev.Model)
	return nil
}
