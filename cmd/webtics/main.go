package main

import (
	"os"

	"github.com/vincentbai/webtics/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
