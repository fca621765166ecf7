// This file implements the ingest evaluator: reads a JSON snapshot of
// Lean-style declarations emitted by the upstream parser (out of scope
// per spec §1), canonicalizes each into a leaf.Leaf, builds the
// dependency graph, and writes the resulting ingestion record. --watch
// additionally re-runs ingestion whenever the snapshot file changes,
// grounded on internal/watch (itself grounded on the teacher's
// internal/core/mangle_watcher.go).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Th0rgal/explain.md-sub002/internal/depgraph"
	"github.com/Th0rgal/explain.md-sub002/internal/evalreport"
	"github.com/Th0rgal/explain.md-sub002/internal/leaf"
	"github.com/Th0rgal/explain.md-sub002/internal/logging"
	"github.com/Th0rgal/explain.md-sub002/internal/watch"
)

var ingestWatch bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a Lean-declaration snapshot into a canonical leaf set",
	Long: `Reads a JSON array of Lean-style declarations (the upstream parser's
output, out of this module's scope) from --include, canonicalizes every
declaration into a leaf, builds the dependency graph, and writes an
ingestion record to --out.

With --watch, the snapshot file is re-ingested every time it changes on
disk, re-writing --out after each settled edit.`,
	RunE: runIngest,
}

var ingestFlags *evalreport.CommonFlags

func init() {
	ingestFlags = registerEvaluatorFlags(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "Re-ingest whenever --include changes on disk")
}

// declInput mirrors one declaration as the upstream Lean parser would
// emit it (spec §1's out-of-scope parser interface).
type declInput struct {
	ModulePath      string   `json:"modulePath"`
	DeclarationName string   `json:"declarationName"`
	TheoremKind     string   `json:"theoremKind"`
	StatementText   string   `json:"statementText"`
	FilePath        string   `json:"filePath"`
	StartLine       int      `json:"startLine"`
	StartColumn     int      `json:"startColumn"`
	EndLine         int      `json:"endLine"`
	EndColumn       int      `json:"endColumn"`
	SourceURL       string   `json:"sourceUrl"`
	DependencyIDs   []string `json:"dependencyIds"`
	Tags            []string `json:"tags"`
}

// ingestionRecord is the persisted output (spec §6: schemaVersion "1.0.0").
type ingestionRecord struct {
	SchemaVersion         string           `json:"schemaVersion"`
	LeafSetHash           string           `json:"leafSetHash"`
	LeafCount             int              `json:"leafCount"`
	Leaves                []leaf.Leaf      `json:"leaves"`
	MissingDependencyRefs []depgraph.MissingRef `json:"missingDependencyRefs"`
	CyclicSCCCount        int              `json:"cyclicSccCount"`
	Issues                []string         `json:"issues,omitempty"`
}

func loadDecls(path string) ([]declInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var decls []declInput
	if err := json.Unmarshal(data, &decls); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return decls, nil
}

func ingestOnce(snapshotPath string) (ingestionRecord, error) {
	decls, err := loadDecls(snapshotPath)
	if err != nil {
		return ingestionRecord{}, err
	}

	leaves := make([]leaf.Leaf, 0, len(decls))
	var issues []string
	for _, d := range decls {
		in := leaf.Leaf{
			ModulePath:      d.ModulePath,
			DeclarationName: d.DeclarationName,
			TheoremKind:     leaf.TheoremKind(d.TheoremKind),
			StatementText:   d.StatementText,
			SourceSpan: leaf.SourceSpan{
				FilePath: d.FilePath, StartLine: d.StartLine, StartColumn: d.StartColumn,
				EndLine: d.EndLine, EndColumn: d.EndColumn,
			},
			SourceURL:     d.SourceURL,
			DependencyIDs: d.DependencyIDs,
			Tags:          d.Tags,
		}
		canon, is := leaf.Canonicalize(in)
		for _, issue := range is {
			issues = append(issues, fmt.Sprintf("%s: %s", canon.ID, issue.String()))
		}
		leaves = append(leaves, canon)
	}

	nodes := make([]depgraph.Node, 0, len(leaves))
	for _, l := range leaves {
		nodes = append(nodes, depgraph.Node{ID: l.ID, DependencyIDs: l.DependencyIDs})
	}
	graph, err := depgraph.Build(nodes, depgraph.Options{RetainExternal: true})
	if err != nil {
		return ingestionRecord{}, fmt.Errorf("build dependency graph: %w", err)
	}

	return ingestionRecord{
		SchemaVersion:         evalreport.SchemaVersion,
		LeafSetHash:           leaf.AggregateHash(leaves),
		LeafCount:             len(leaves),
		Leaves:                leaves,
		MissingDependencyRefs: graph.MissingDependencyRefs,
		CyclicSCCCount:        len(graph.CyclicSCCs),
		Issues:                issues,
	}, nil
}

func writeIngestionRecord(path string, rec ingestionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestFlags.Include == "" {
		return fmt.Errorf("ingest: --include <snapshot.json> is required")
	}

	if ingestFlags.WriteBaseline {
		rec, err := ingestOnce(ingestFlags.Include)
		if err != nil {
			return err
		}
		if err := writeIngestionRecord(ingestFlags.Out, rec); err != nil {
			return err
		}
		return evalreport.WriteBaseline(ingestFlags.Baseline, "ingest", map[string]float64{
			"leafCount":             float64(rec.LeafCount),
			"missingDependencyRefs": float64(len(rec.MissingDependencyRefs)),
			"cyclicSccCount":        float64(rec.CyclicSCCCount),
			"issueCount":            float64(len(rec.Issues)),
		})
	}

	if ingestWatch {
		return runIngestWatch(context.Background(), ingestFlags.Include, ingestFlags.Out)
	}

	rec, err := ingestOnce(ingestFlags.Include)
	if err != nil {
		return err
	}
	if err := writeIngestionRecord(ingestFlags.Out, rec); err != nil {
		return err
	}

	baseline, err := evalreport.LoadBaseline(ingestFlags.Baseline)
	if err != nil {
		return err
	}
	violations := evalreport.CompareAgainstBaseline(
		map[string]float64{
			"missingDependencyRefs": float64(len(rec.MissingDependencyRefs)),
			"issueCount":            float64(len(rec.Issues)),
		},
		baseline, nil, 0,
		map[string]bool{"missingDependencyRefs": true, "issueCount": true},
	)
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, v.Message)
		}
		return evalreport.ErrThresholdMismatch
	}
	return nil
}

func runIngestWatch(ctx context.Context, snapshotPath, outPath string) error {
	dir := filepath.Dir(snapshotPath)
	ext := filepath.Ext(snapshotPath)

	w, err := watch.New(dir, ext, func(ctx context.Context, changed []string) error {
		rec, err := ingestOnce(snapshotPath)
		if err != nil {
			return err
		}
		return writeIngestionRecord(outPath, rec)
	}, 300*time.Millisecond)
	if err != nil {
		return fmt.Errorf("ingest --watch: %w", err)
	}

	if rec, err := ingestOnce(snapshotPath); err == nil {
		_ = writeIngestionRecord(outPath, rec)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := w.Start(watchCtx); err != nil {
		return err
	}
	defer w.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	logging.Boot("ingest --watch: watching %s (ctrl-c to stop)", watch.NormalizePath(dir))

	select {
	case <-sigCh:
		return nil
	case <-ctx.Done():
		return nil
	}
}
