// Command nbstack is the entry point for the userspace network stack CLI.
package main

import (
	"fmt"
	"os"

	"github.com/nbstack/nbstack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
