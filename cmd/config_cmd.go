package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RobinvBerg/costpilot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(_ *cobra.Command, _ []string) error {
		if config.Exists() {
			return fmt.Errorf("config already exists at %s", config.ConfigPath())
		}
		if err := config.Save(config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", config.ConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	fmt.Printf("  Config file: %s\n", config.ConfigPath())
	if config.Exists() {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Timezone:     %s\n", cfg.General.Timezone)
	fmt.Printf("    Events file:  %s\n", cfg.General.EventsFile)
	fmt.Printf("    Archive file: %s\n", cfg.General.ArchiveFile)
	fmt.Printf("    Cursor db:    %s\n", cfg.General.CursorDB)
	fmt.Printf("    Sessions dir: %s\n", cfg.General.SessionsDir)
	fmt.Printf("    Main session: %s\n", cfg.General.MainSessionKey)
	fmt.Println()

	fmt.Println("  [Thresholds]")
	fmt.Printf("    Anomaly multiplier: %.1fx (min %d occurrences)\n",
		cfg.Thresholds.AnomalyMultiplier, cfg.Thresholds.AnomalyMinOccurrences)
	fmt.Printf("    Cache-hit warning:  %.0f%%\n", cfg.Thresholds.CacheHitWarn*100)
	fmt.Printf("    Main-share warning: %.0f%%\n", cfg.Thresholds.MainShareWarn*100)
	fmt.Printf("    Peak window:        %02d:00-%02d:00\n",
		cfg.Thresholds.PeakStartHour, cfg.Thresholds.PeakEndHour)
	fmt.Println()

	fmt.Println("  [Provider]")
	if key := cfg.ProviderAPIKey(); key != "" {
		fmt.Printf("    API key: %s\n", maskKey(key))
	} else {
		fmt.Println("    API key: not configured")
	}
	fmt.Println()

	fmt.Println("  [Server]")
	fmt.Printf("    Addr: %s\n", cfg.Server.Addr)
	return nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
