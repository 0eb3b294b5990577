package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nbstack/nbstack/internal/config"
	"github.com/nbstack/nbstack/internal/log"
	"github.com/nbstack/nbstack/internal/stack"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bring up the stack and run until interrupted",
	Long: `run loads the configured devices, starts their poll loops and the
fragment-reassembly sweeper, and blocks until SIGINT/SIGTERM. On shutdown
it prints each device's final counters as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStack(cmd.Context())
	},
}

// bringUp loads configuration, installs logging, and starts a Stack
// against parent's cancellation. The caller owns waiting for shutdown and
// calling the returned cancel func before s.Stop().
func bringUp(parent context.Context) (s *stack.Stack, cancel context.CancelFunc, err error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if err := log.Init(cfg.Log); err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}

	s, err = stack.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build stack: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	if err := s.Start(ctx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("start stack: %w", err)
	}
	return s, cancel, nil
}

func runStack(parent context.Context) error {
	s, cancel, err := bringUp(parent)
	if err != nil {
		return err
	}
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("nbstack running", "devices", s.DeviceNames())
	<-sigCh
	slog.Info("shutdown signal received")

	cancel()
	s.Stop()

	printStats(s)
	return nil
}

func printStats(s *stack.Stack) {
	out := make(map[string]any)
	for _, name := range s.DeviceNames() {
		dev, ok := s.Device(name)
		if !ok {
			continue
		}
		out[name] = dev.Stats()
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		exitWithError("failed to format stats", err)
	}
	fmt.Println(string(data))
}
