// The main package for the channelcrawler executable.
package main

import (
	"github.com/JakeFAU/channelcrawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
