// Command nimbusctl manages a nimbusvault data directory: the encrypted
// vault, saved weather locations and the cache janitor.
package main

import (
	"os"
)

func main() {
	registerCompletionFunctions()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
