package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var statsInterval time.Duration

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Bring up the stack and print running counters periodically",
	Long: `stats behaves like run but also prints each device's counters to
stdout on a fixed interval while the stack is up, for live monitoring
without a separate control channel.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatsLoop(cmd.Context())
	},
}

func init() {
	statsCmd.Flags().DurationVar(&statsInterval, "interval", 5*time.Second,
		"how often to print counters")
}

func runStatsLoop(parent context.Context) error {
	s, cancel, err := bringUp(parent)
	if err != nil {
		return err
	}
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	slog.Info("nbstack running", "devices", s.DeviceNames())
	for {
		select {
		case <-sigCh:
			slog.Info("shutdown signal received")
			cancel()
			s.Stop()
			printStats(s)
			return nil
		case <-ticker.C:
			printStats(s)
		}
	}
}
