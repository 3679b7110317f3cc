package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const summaryRounding = 10 * time.Millisecond

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
}
