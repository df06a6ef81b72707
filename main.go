package main

import (
	"os"

	"github.com/TechWithDunamix/tavo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
