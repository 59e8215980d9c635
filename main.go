// ./main.go
package main

import (
	"github.com/lukerm/parallellm-qa/cmd"
)

// main is the entry point for the parallellm-qa application.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
