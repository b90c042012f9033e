package main

import (
	"fmt"
	"os"

	"github.com/clinicore/webhook-dispatch/event"
)

/* validate-events - Standalone CLI tool to validate events.yaml
 * Usage: go run cmd/validate-events/main.go [events.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	eventsFile := "events.yaml"
	if len(os.Args) > 1 {
		eventsFile = os.Args[1]
	}

	fmt.Printf("Validating events file: %s\n", eventsFile)

	catalog := event.NewCatalog()
	if err := catalog.Load(eventsFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	entries := catalog.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d event type(s):\n", len(entries))

	for i, entry := range entries {
		fmt.Printf("\n%d. %s\n", i+1, entry.Type)
		if entry.Description != "" {
			fmt.Printf("   %s\n", entry.Description)
		}
	}

	fmt.Printf("\n✓ All event types are valid!\n")
	os.Exit(0)
}
