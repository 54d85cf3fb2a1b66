// The main package for the storyctl executable.
package main

import (
	"os"

	"github.com/JakeFAU/storyprogress/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
