// Package main provides the entry point for the convel CLI.
package main

import (
	"fmt"
	"os"

	"github.com/mbakker/convel-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
