package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Cardane/chatlove/internal/capture"
)

// runCapture analyzes a recorded traffic file offline and prints the
// report as JSON.
//
//	chatlove capture traffic.json
func runCapture(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: chatlove capture <file>")
		os.Exit(2)
	}

	c, err := capture.Load(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		os.Exit(1)
	}

	report := capture.Analyze(c)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
