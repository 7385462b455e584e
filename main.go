package main

import (
	"fmt"
	"os"

	"github.com/stevemurr/list-sync-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lists: %v\n", err)
		os.Exit(1)
	}
}
