// Command scriptctl checks a scripts directory offline: it runs the same load
// pipeline as the bot without connecting to Discord.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
