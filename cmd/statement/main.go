// Command statement parses a bank statement locally and prints the
// candidates it would stage for import.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
