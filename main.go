package main

import (
	"os"

	"github.com/signalnine/llm-tool-test/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
