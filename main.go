// Command shepherd supervises a remote coding agent: it polls the agent's
// status, answers its questions, reviews and merges its pull requests, and
// keeps a compressed working context for every supervision cycle.
//
// Usage:
//
//	shepherd run --config config.yaml
//	shepherd run --tui
//	shepherd sources
//	shepherd config init
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/lukehenning/shepherd/internal/cmd"
)

func main() {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
