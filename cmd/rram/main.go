// Command rram runs program-verify operations against a resistive memory
// array and records them in a data log.
package main

import (
	"fmt"
	"os"

	"github.com/tebeka/atexit"

	"github.com/roach88/rram/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	// Runs the registered handlers: the array is released and data logs
	// are closed before the process exits.
	atexit.Exit(cli.GetExitCode(err))
}
