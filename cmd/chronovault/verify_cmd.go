package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/chronovault/pkg/event"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
	"github.com/Mindburn-Labs/chronovault/pkg/verifier"
)

// runVerifyCmd replays a stream's hash chain straight from the
// database, independent of the API server.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		stream     string
		capsuleID  string
		all        bool
		jsonOutput bool
	)
	cmd.StringVar(&stream, "stream", event.StreamGlobal, "Stream to verify")
	cmd.StringVar(&capsuleID, "capsule", "", "Verify a capsule stream by id")
	cmd.BoolVar(&all, "all", false, "Verify every stream in the ledger")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if capsuleID != "" {
		stream = event.CapsuleStream(capsuleID)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, dialect, err := openDB(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	events := store.NewSQLStore(db, dialect, cfg.HashSecret)
	v := verifier.New(events, cfg.HashSecret)

	var results []*verifier.Result
	if all {
		var streams []string
		streams, err = events.ListStreams(ctx)
		if err == nil {
			results, err = v.VerifyAll(ctx, streams)
		}
	} else {
		var result *verifier.Result
		result, err = v.VerifyStream(ctx, stream)
		results = []*verifier.Result{result}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		for _, r := range results {
			if r.OK {
				fmt.Fprintf(stdout, "%sOK%s      %s (%d events)\n", ColorGreen, ColorReset, r.Stream, r.Count)
			} else {
				fmt.Fprintf(stdout, "%sBROKEN%s  %s at event %d: %s\n", ColorBold, ColorReset, r.Stream, r.BadEventID, r.Reason)
			}
		}
	}

	for _, r := range results {
		if !r.OK {
			return 1
		}
	}
	return 0
}
