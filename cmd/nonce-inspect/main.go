package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"kraken-gateway/internal/nonce"
)

// Inspects and optionally advances the persisted nonce state file. Useful
// after restoring a host from backup, where the file may lag what the
// exchange has already seen.
func main() {
	path := flag.String("file", "nonce_state.json", "Path to the nonce state file")
	bump := flag.Uint64("bump", 0, "Advance the persisted nonce by this many microseconds")
	flag.Parse()

	store := nonce.NewFileStore(*path)
	state, found, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *path, err)
		os.Exit(1)
	}

	nowMicros := uint64(time.Now().UnixMicro())

	if !found {
		fmt.Printf("No state at %s (a fresh gateway seeds from the wall clock: %d)\n", *path, nowMicros)
		if *bump == 0 {
			return
		}
		state.LastNonce = nowMicros
	}

	fmt.Printf("File:       %s\n", *path)
	fmt.Printf("Last nonce: %d\n", state.LastNonce)
	if state.Timestamp > 0 {
		written := time.Unix(int64(state.Timestamp), 0)
		fmt.Printf("Written:    %s (%s ago)\n", written.Format(time.RFC3339), time.Since(written).Round(time.Second))
	}
	if state.LastNonce > nowMicros {
		fmt.Printf("Note:       nonce is %s ahead of the wall clock\n",
			time.Duration(state.LastNonce-nowMicros)*time.Microsecond)
	}

	if *bump == 0 {
		return
	}

	state.LastNonce += *bump
	state.Timestamp = float64(time.Now().UnixNano()) / 1e9
	if err := store.Save(state); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Advanced:   %d (+%d)\n", state.LastNonce, *bump)
}
