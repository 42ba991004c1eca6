package main

import (
	"fmt"
	"os"

	logs "github.com/danmuck/steploop/internal/logging"
)

func main() {
	logs.ConfigureRuntime()
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "steploop: ERROR: %v\n", err)
		os.Exit(2)
	}
}
