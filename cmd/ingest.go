package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RobinvBerg/costpilot/internal/pipeline"
	"github.com/RobinvBerg/costpilot/internal/source"
)

var (
	flagIngestDate string
	flagIngestFile string
	flagDryRun     bool
	flagResetState bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <openclaw|csv|provider>",
	Short: "Ingest usage events from a source",
	Long: "Read raw usage records from one source, normalize them into cost events,\n" +
		"and append them to the event log. Re-runs are incremental and idempotent.",
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&flagIngestDate, "date", "", "Date to fetch (provider mode, YYYY-MM-DD, forces refetch)")
	ingestCmd.Flags().StringVar(&flagIngestFile, "file", "", "CSV file to import (csv mode)")
	ingestCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Normalize without appending or advancing cursors")
	ingestCmd.Flags().BoolVar(&flagResetState, "reset-state", false, "Drop the source's cursor state before ingesting")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	mode := args[0]

	cursors, err := openCursors()
	if err != nil {
		return err
	}
	defer func() { _ = cursors.Close() }()

	if flagResetState {
		if err := cursors.Reset(mode); err != nil {
			return err
		}
		logger.Infow("cursor state reset", "source", mode)
	}

	ing := pipeline.NewIngestor(openStore(), cursors, cfg, logger)

	var res pipeline.RunResult
	switch mode {
	case "openclaw":
		res, err = ing.IngestOpenclaw(flagDryRun)

	case "csv":
		if flagIngestFile == "" {
			return fmt.Errorf("csv mode requires --file")
		}
		res, err = ing.IngestCSV(flagIngestFile, flagDryRun)

	case "provider":
		date := time.Now().UTC()
		force := cmd.Flags().Changed("date")
		if force {
			date, err = time.Parse("2006-01-02", flagIngestDate)
			if err != nil {
				return fmt.Errorf("bad --date: %w", err)
			}
		}
		client := source.NewProviderClient(cfg.ProviderAPIKey(), cfg.Provider.BaseURL)
		res, err = ing.IngestProvider(cmd.Context(), client, date, force, flagDryRun)

	default:
		return fmt.Errorf("unknown source %q (want openclaw, csv, or provider)", mode)
	}
	if err != nil {
		return err
	}

	if res.DryRun {
		fmt.Printf("dry run: %d records read, %d events would be appended\n", res.RecordsRead, res.Accepted)
	} else {
		fmt.Printf("%d records read: %d accepted, %d duplicate, %d malformed\n",
			res.RecordsRead, res.Accepted, res.Duplicate, res.Malformed+res.Norm.Malformed)
	}
	if res.ParseErrors > 0 {
		fmt.Printf("%d unparsable lines skipped\n", res.ParseErrors)
	}
	if res.Norm.UnknownModel > 0 {
		fmt.Printf("%d events priced with fallback rate (unknown model)\n", res.Norm.UnknownModel)
	}
	return nil
}
