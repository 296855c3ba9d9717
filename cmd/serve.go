package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RobinvBerg/costpilot/internal/aggregate"
	"github.com/RobinvBerg/costpilot/internal/daemon"
	"github.com/RobinvBerg/costpilot/internal/feed"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analytics HTTP service",
	Long: "Serve snapshots over polling (/api/data), SSE (/api/live), and websocket\n" +
		"(/api/ws), plus store administration endpoints. Stops on SIGINT/SIGTERM.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st := openStore()
		svc := aggregate.NewService(st, cfg, logger)
		hub := feed.NewHub(svc, logger)
		return daemon.New(cfg, st, svc, hub, logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
