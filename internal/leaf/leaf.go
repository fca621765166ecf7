// Package leaf implements the Leaf record schema, its canonicalization, and
// per-leaf hashing (spec §4.3). A Leaf mirrors a single Lean declaration
// emitted by the upstream parser (outside this module's scope).
package leaf

import (
	"fmt"
	"strings"

	"github.com/Th0rgal/explain.md-sub002/internal/canon"
)

// TheoremKind is the allowed set of declaration kinds a Leaf may carry.
type TheoremKind string

const (
	KindTheorem    TheoremKind = "theorem"
	KindLemma      TheoremKind = "lemma"
	KindDefinition TheoremKind = "definition"
	KindExample    TheoremKind = "example"
)

func isValidTheoremKind(k TheoremKind) bool {
	switch k {
	case KindTheorem, KindLemma, KindDefinition, KindExample:
		return true
	}
	return false
}

// SourceSpan is a 1-based file span; invariants require StartLine <=
// EndLine, and if StartLine == EndLine then StartColumn <= EndColumn.
type SourceSpan struct {
	FilePath    string
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// Monotone reports whether the span's start does not come after its end.
func (s SourceSpan) Monotone() bool {
	if s.StartLine > s.EndLine {
		return false
	}
	if s.StartLine == s.EndLine && s.StartColumn > s.EndColumn {
		return false
	}
	return true
}

// Leaf is an immutable record mirroring one Lean declaration (spec §4.3).
type Leaf struct {
	ID              string
	ModulePath      string
	DeclarationName string
	TheoremKind     TheoremKind
	StatementText   string
	SourceSpan      SourceSpan
	SourceURL       string // optional
	DependencyIDs   []string
	Tags            []string
}

// ID format: lean:<module>:<name>:<startLine>:<startColumn>.
func makeID(modulePath, name string, startLine, startColumn int) string {
	return fmt.Sprintf("lean:%s:%s:%d:%d", modulePath, name, startLine, startColumn)
}

// Issue describes a single canonicalization failure.
type Issue struct {
	Field   string
	Message string
}

func (i Issue) String() string { return i.Field + ": " + i.Message }

// Canonicalize trims string fields, rejects empties on required fields,
// clamps TheoremKind to the allowed set, verifies span monotonicity, sorts
// DependencyIDs and Tags, and normalizes ModulePath to forward slashes. It
// returns the normalized Leaf plus every issue found; a non-empty issue
// list means the input was invalid and the returned Leaf must not be used.
func Canonicalize(in Leaf) (Leaf, []Issue) {
	var issues []Issue

	out := in
	out.ModulePath = normalizeModulePath(strings.TrimSpace(in.ModulePath))
	out.DeclarationName = strings.TrimSpace(in.DeclarationName)
	out.StatementText = strings.TrimSpace(in.StatementText)
	out.SourceURL = strings.TrimSpace(in.SourceURL)
	out.SourceSpan.FilePath = normalizeModulePath(strings.TrimSpace(in.SourceSpan.FilePath))

	if out.ModulePath == "" {
		issues = append(issues, Issue{"modulePath", "required, must not be empty after trimming"})
	}
	if out.DeclarationName == "" {
		issues = append(issues, Issue{"declarationName", "required, must not be empty after trimming"})
	}
	if out.StatementText == "" {
		issues = append(issues, Issue{"statementText", "required, must not be empty after trimming"})
	}
	if out.SourceSpan.FilePath == "" {
		issues = append(issues, Issue{"sourceSpan.filePath", "required, must not be empty after trimming"})
	}

	if !isValidTheoremKind(in.TheoremKind) {
		issues = append(issues, Issue{"theoremKind", fmt.Sprintf("unrecognized kind %q", in.TheoremKind)})
	} else {
		out.TheoremKind = in.TheoremKind
	}

	if !in.SourceSpan.Monotone() {
		issues = append(issues, Issue{"sourceSpan", "start must not come after end"})
	}
	out.SourceSpan.StartLine = in.SourceSpan.StartLine
	out.SourceSpan.StartColumn = in.SourceSpan.StartColumn
	out.SourceSpan.EndLine = in.SourceSpan.EndLine
	out.SourceSpan.EndColumn = in.SourceSpan.EndColumn

	out.DependencyIDs = canon.SortUnique(in.DependencyIDs)
	out.Tags = canon.SortUnique(in.Tags)

	if len(issues) > 0 {
		return Leaf{}, issues
	}

	out.ID = makeID(out.ModulePath, out.DeclarationName, out.SourceSpan.StartLine, out.SourceSpan.StartColumn)
	return out, nil
}

// normalizeModulePath converts backslashes to forward slashes and collapses
// any doubled separators, per spec §4.3's "forward-slash normalized".
func normalizeModulePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// CanonicalBytes renders the leaf per spec §4.1's canonicalization
// discipline; used both for per-leaf hashes and as input to aggregate
// ingestion hashes.
func (l Leaf) CanonicalBytes() []byte {
	b := canon.NewBuilder()
	b.Field("declarationName", canon.QuoteString(l.DeclarationName))
	b.SortedFields("dependencyIds", l.DependencyIDs)
	b.Field("id", l.ID)
	b.Field("modulePath", l.ModulePath)
	b.Field("sourceSpan.endColumn", fmt.Sprintf("%d", l.SourceSpan.EndColumn))
	b.Field("sourceSpan.endLine", fmt.Sprintf("%d", l.SourceSpan.EndLine))
	b.Field("sourceSpan.filePath", l.SourceSpan.FilePath)
	b.Field("sourceSpan.startColumn", fmt.Sprintf("%d", l.SourceSpan.StartColumn))
	b.Field("sourceSpan.startLine", fmt.Sprintf("%d", l.SourceSpan.StartLine))
	b.OptionalField("sourceUrl", l.SourceURL)
	b.Field("statementText", canon.QuoteString(l.StatementText))
	b.SortedFields("tags", l.Tags)
	b.Field("theoremKind", string(l.TheoremKind))
	return b.Bytes()
}

// Hash returns this leaf's canonical hash.
func (l Leaf) Hash() string {
	return canon.Hash(l)
}

// AggregateHash hashes a set of leaves' canonical bytes joined in id-sorted
// order, used as the "leaf-set-hash" half of the tree cache key (spec
// §4.2).
func AggregateHash(leaves []Leaf) string {
	ids := make([]string, len(leaves))
	byID := make(map[string]Leaf, len(leaves))
	for i, l := range leaves {
		ids[i] = l.ID
		byID[l.ID] = l
	}
	sorted := canon.SortUnique(ids)

	b := canon.NewBuilder()
	for _, id := range sorted {
		b.Raw(byID[id].Hash())
	}
	return b.Hash()
}
