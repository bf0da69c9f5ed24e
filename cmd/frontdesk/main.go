package main

import (
	"os"

	"github.com/frontdesk-io/frontdesk/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
