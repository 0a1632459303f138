package main

import (
	"fmt"
	"log"
	"os"

	"FlowTagger/internal/config"
	"FlowTagger/internal/report"
)

// Prints a snapshot directory written by the gob writer as a text report.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana <snapshot_dir> [count|key]")
		os.Exit(1)
	}
	dir := os.Args[1]
	order := config.OrderCount
	if len(os.Args) > 2 {
		order = os.Args[2]
	}

	result, err := report.ReadSnapshot(dir)
	if err != nil {
		log.Fatalf("Failed to read snapshot: %v", err)
	}

	fmt.Printf("Snapshot %s: %d records, %d malformed lines, %d chunks", dir, result.Records, result.MalformedTotal(), result.Chunks)
	if result.Incomplete {
		fmt.Printf(" (incomplete, %d failed)", len(result.FailedChunks))
	}
	fmt.Println()

	if err := report.Format(os.Stdout, result, order); err != nil {
		log.Fatalf("Failed to format snapshot: %v", err)
	}
}
