package main

import (
	"fmt"
	"os"
)

// Set by the linker.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sitecache: %v\n", err)
		os.Exit(1)
	}
}
