package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/chronovault/pkg/artifacts"
	"github.com/Mindburn-Labs/chronovault/pkg/event"
	"github.com/Mindburn-Labs/chronovault/pkg/export"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
	"github.com/Mindburn-Labs/chronovault/pkg/verifier"
)

// runExportCmd writes an audit bundle for one stream without going
// through the API server.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		stream     string
		capsuleID  string
		out        string
		jsonOutput bool
	)
	cmd.StringVar(&stream, "stream", event.StreamGlobal, "Stream to export")
	cmd.StringVar(&capsuleID, "capsule", "", "Export a capsule stream by id")
	cmd.StringVar(&out, "out", "", "Bundle destination: a directory, s3:// or gs:// URL (default EXPORT_DIR)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output manifest as JSON")
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
	if out == "" {
		out = cfg.ExportStoreURL
	}
	if out == "" {
		out = cfg.ExportDir
	}

	ctx := context.Background()
	db, dialect, err := openDB(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	events := store.NewSQLStore(db, dialect, cfg.HashSecret)
	sink, err := artifacts.NewStoreFromURL(ctx, out)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	manifest, err := export.New(events, verifier.New(events, cfg.HashSecret), sink).Export(ctx, stream)
	if err != nil {
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(manifest, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Bundle:   %s\n", manifest.Bundle)
		fmt.Fprintf(stdout, "Stream:   %s\n", manifest.Stream)
		fmt.Fprintf(stdout, "Events:   %d\n", manifest.EventCount)
		fmt.Fprintf(stdout, "Verified: %v\n", manifest.VerifyOK)
		for name, digest := range manifest.Files {
			fmt.Fprintf(stdout, "  %-14s %s\n", name, digest)
		}
	}
	if !manifest.VerifyOK {
		fmt.Fprintln(stderr, "Warning: chain verification failed; bundle records the broken state")
		return 1
	}
	return 0
}
