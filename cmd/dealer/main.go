package main

import (
	"os"

	"github.com/rustyeddy/dealer/cmd/dealer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
