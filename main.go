// The main package for the buyee-watcher executable.
package main

import (
	"github.com/buyeewatch/buyee-watcher/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
