package main

import (
	"os"

	"github.com/rishivishwanath/autocont/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
