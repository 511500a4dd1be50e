// Package export produces self-contained audit bundles: the full event
// stream, a fresh verification result, and a manifest pinning the
// content digest of every file. A bundle plus the chain secret is all
// an external auditor needs.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/chronovault/pkg/artifacts"
	"github.com/Mindburn-Labs/chronovault/pkg/event"
	"github.com/Mindburn-Labs/chronovault/pkg/merkle"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
	"github.com/Mindburn-Labs/chronovault/pkg/verifier"
)

// Manifest describes one exported bundle.
type Manifest struct {
	Bundle     string            `json:"bundle"`
	Stream     string            `json:"stream"`
	CreatedAt  time.Time         `json:"created_at"`
	EventCount int               `json:"event_count"`
	VerifyOK   bool              `json:"verify_ok"`
	MerkleRoot string            `json:"merkle_root,omitempty"`
	Files      map[string]string `json:"files"` // file name → sha256 digest
}

// Exporter writes audit bundles to an artifact store.
type Exporter struct {
	reader store.Reader
	verify *verifier.Verifier
	sink   artifacts.Store
	clock  func() time.Time
}

func New(reader store.Reader, verify *verifier.Verifier, sink artifacts.Store) *Exporter {
	return &Exporter{
		reader: reader,
		verify: verify,
		sink:   sink,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Export writes events.json, verify.json, and manifest.json for the
// stream under a timestamped bundle prefix. The stream is verified as
// part of the export; a broken chain still exports, with VerifyOK
// false, so evidence of tampering can itself be handed over.
func (e *Exporter) Export(ctx context.Context, stream string) (*Manifest, error) {
	events, err := e.reader.ListStream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("export: load stream %s: %w", stream, err)
	}
	result, err := e.verify.VerifyStream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("export: verify stream %s: %w", stream, err)
	}

	now := e.clock().UTC()
	bundle := fmt.Sprintf("%s-%s", sanitize(stream), now.Format("20060102T150405Z"))

	manifest := &Manifest{
		Bundle:     bundle,
		Stream:     stream,
		CreatedAt:  now,
		EventCount: len(events),
		VerifyOK:   result.OK,
		MerkleRoot: eventTree(events).Root,
		Files:      make(map[string]string),
	}

	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal events: %w", err)
	}
	verifyJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal verify result: %w", err)
	}

	for name, data := range map[string][]byte{
		"events.json": eventsJSON,
		"verify.json": verifyJSON,
	} {
		digest, err := e.sink.Put(ctx, bundle+"/"+name, data)
		if err != nil {
			return nil, err
		}
		manifest.Files[name] = digest
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal manifest: %w", err)
	}
	if _, err := e.sink.Put(ctx, bundle+"/manifest.json", manifestJSON); err != nil {
		return nil, err
	}

	return manifest, nil
}

// eventTree commits to every event hash in stream order. The root in
// the manifest lets a single event be proven part of the bundle via
// Prove without shipping the full event list.
func eventTree(events []*event.Event) *merkle.Tree {
	entries := make([]merkle.Entry, len(events))
	for i, e := range events {
		entries[i] = merkle.Entry{
			Label: fmt.Sprintf("%s/%d", e.Stream, e.StreamSeq),
			Value: []byte(e.Hash),
		}
	}
	return merkle.Build(entries)
}

// Prove returns an inclusion proof tying one event of a stream to the
// Merkle root recorded in that stream's bundle manifest.
func (e *Exporter) Prove(ctx context.Context, stream string, streamSeq int64) (*merkle.InclusionProof, error) {
	events, err := e.reader.ListStream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("export: load stream %s: %w", stream, err)
	}
	return eventTree(events).Prove(fmt.Sprintf("%s/%d", stream, streamSeq))
}

func sanitize(stream string) string {
	return strings.ReplaceAll(stream, ":", "-")
}
