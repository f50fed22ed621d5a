package main

import (
	"os"

	"github.com/petpixie/pixie/cmd/pixie/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
