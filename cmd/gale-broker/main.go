// Command gale-broker runs the agentic flow broker: the HTTP surface that
// publishes tasks to agents, tracks their lifecycle, and resumes parent
// flows when their subtask groups complete.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
