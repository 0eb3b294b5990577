// Package cmd implements the CLI commands using cobra, grounded on
// firestige-Otus's cmd/root.go: a persistent --config flag shared by
// every subcommand, no daemon/client split since this module runs the
// stack in-process rather than behind a control socket (see DESIGN.md's
// Open Question decisions).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "nbstack",
	Short: "A userspace network stack driven by captured traffic",
	Long: `nbstack decodes Ethernet/IPv4/UDP traffic read from PCAP capture
files, reassembling fragments and delivering payloads to bound sockets,
and composes outbound UDP datagrams back onto the wire.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and runs it. This
// is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/nbstack/config.yml",
		"config file path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
