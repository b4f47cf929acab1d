package main

import (
	"os"

	"tinyformer-go/cmd/tinyformer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
