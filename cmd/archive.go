package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var flagArchiveDays int

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move old events to the archive log",
	RunE: func(_ *cobra.Command, _ []string) error {
		if flagArchiveDays < 1 {
			return fmt.Errorf("--older-than-days must be >= 1")
		}
		moved, err := openStore().Archive(time.Duration(flagArchiveDays) * 24 * time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("%d events archived\n", moved)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Move archived events back into the event log",
	RunE: func(_ *cobra.Command, _ []string) error {
		res, err := openStore().Restore()
		if err != nil {
			return err
		}
		fmt.Printf("%d events restored, %d already present\n", res.Accepted, res.Duplicate)
		return nil
	},
}

var flagClearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Move all events to the archive log",
	RunE: func(_ *cobra.Command, _ []string) error {
		if !flagClearYes {
			return fmt.Errorf("refusing to clear without --yes")
		}
		cleared, err := openStore().Clear()
		if err != nil {
			return err
		}
		fmt.Printf("%d events cleared (recoverable with `costpilot restore`)\n", cleared)
		return nil
	},
}

func init() {
	archiveCmd.Flags().IntVar(&flagArchiveDays, "older-than-days", 30, "Archive events older than this many days")
	clearCmd.Flags().BoolVar(&flagClearYes, "yes", false, "Confirm clearing the event log")
	rootCmd.AddCommand(archiveCmd, restoreCmd, clearCmd)
}
