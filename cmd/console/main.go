package main

import (
	"os"

	"github.com/consolegate/consolegate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
