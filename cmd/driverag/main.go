// Package main provides the entry point for the driverag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/driverag/cmd/driverag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
