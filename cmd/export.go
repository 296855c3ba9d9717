package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/RobinvBerg/costpilot/internal/store"
)

var (
	flagExportOut     string
	flagExportFrom    string
	flagExportTo      string
	flagExportSession string
	flagExportTag     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the event log as CSV",
	RunE: func(_ *cobra.Command, _ []string) error {
		var f store.Filter
		var err error
		if f.From, err = parseDateFlag(flagExportFrom); err != nil {
			return fmt.Errorf("bad --from: %w", err)
		}
		if f.To, err = parseDateFlag(flagExportTo); err != nil {
			return fmt.Errorf("bad --to: %w", err)
		}
		f.Session = flagExportSession
		f.Tag = flagExportTag

		res, err := openStore().Load(f)
		if err != nil {
			return err
		}

		out := os.Stdout
		if flagExportOut != "" {
			out, err = os.Create(flagExportOut)
			if err != nil {
				return err
			}
			defer func() { _ = out.Close() }()
		}
		if err := store.ExportCSV(out, res.Events); err != nil {
			return err
		}
		if flagExportOut != "" {
			fmt.Printf("%d events written to %s\n", len(res.Events), flagExportOut)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&flagExportOut, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringVar(&flagExportFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&flagExportTo, "to", "", "End date (YYYY-MM-DD, exclusive)")
	exportCmd.Flags().StringVar(&flagExportSession, "session", "", "Filter to one session")
	exportCmd.Flags().StringVar(&flagExportTag, "tag", "", "Filter to one task tag")
	rootCmd.AddCommand(exportCmd)
}

func parseDateFlag(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
