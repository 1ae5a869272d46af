// Command studybuddy is the entry point for the Study Buddy AI tutor.
// It provides a CLI (via Cobra) for ingesting course materials, searching
// them, and chatting with a tutor grounded in them, plus an optional HTTP
// server exposing the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/studybuddy-ai/studybuddy-go/cmd/studybuddy/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
