// Package main provides the entry point for the msrl CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/msrl/cmd/msrl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
