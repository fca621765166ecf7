// Package canon implements the canonical line-oriented rendering and
// content-addressing discipline shared by every artifact the system emits:
// the explanation tree, configuration, ingestion record, diff report, and
// verification ledger all hash under these same rules (spec §4.1).
//
// Canonicalization never depends on wall-clock time, map iteration order,
// or any other source of nondeterminism: fields are emitted in a fixed
// lexicographic order, sets and independent lists are sorted before
// emission, and optional/absent values render as the literal token "none".
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// UnitSeparator is the ASCII Unit-Separator (U+001F) used to join multiple
// values placed on a single canonical line.
const UnitSeparator = "\x1f"

// NoneToken is emitted in place of an absent optional field.
const NoneToken = "none"

// Builder accumulates canonical lines in the fixed order callers append
// them in. Callers are responsible for sorting map/set-valued fields
// before calling Field/Fields; Builder does not reorder anything itself,
// since the fixed field order is a property of the caller's schema, not
// of this type.
type Builder struct {
	lines []string
}

// NewBuilder returns an empty canonical-line builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Field appends a "key=value" line. Strings that could contain delimiters
// or newlines should be passed through QuoteString first.
func (b *Builder) Field(key, value string) *Builder {
	b.lines = append(b.lines, key+"="+value)
	return b
}

// OptionalField appends "key=none" when value is empty, else "key=value".
func (b *Builder) OptionalField(key, value string) *Builder {
	if value == "" {
		return b.Field(key, NoneToken)
	}
	return b.Field(key, value)
}

// Fields appends a "key=v1<US>v2<US>..." line from an already-sorted slice.
// An empty slice still emits the key with an empty value, distinguishing
// "present but empty" from "absent" (callers needing "absent" should use
// OptionalField instead).
func (b *Builder) Fields(key string, values []string) *Builder {
	b.lines = append(b.lines, key+"="+strings.Join(values, UnitSeparator))
	return b
}

// SortedFields sorts values lexicographically, deduplicates, and appends
// them as a single multi-value line.
func (b *Builder) SortedFields(key string, values []string) *Builder {
	return b.Fields(key, SortUnique(values))
}

// Raw appends a pre-formatted line verbatim. Used when a field's rendering
// rule does not fit Field/Fields (e.g. a nested canonical block).
func (b *Builder) Raw(line string) *Builder {
	b.lines = append(b.lines, line)
	return b
}

// Bytes renders the accumulated lines to the canonical byte form: UTF-8,
// no BOM, one line per accumulated entry, final trailing newline.
func (b *Builder) Bytes() []byte {
	if len(b.lines) == 0 {
		return []byte("\n")
	}
	return []byte(strings.Join(b.lines, "\n") + "\n")
}

// String renders the canonical form as a string.
func (b *Builder) String() string {
	return string(b.Bytes())
}

// Hash returns the lowercase hex sha256 of the canonical bytes.
func (b *Builder) Hash() string {
	return HashBytes(b.Bytes())
}

// HashBytes hashes arbitrary canonical bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString hashes a canonical string.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// QuoteString JSON-encodes a string so it is safe to embed on a single
// canonical line regardless of embedded delimiters, quotes, or newlines.
func QuoteString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		// json.Marshal on a string only fails for invalid UTF-8 input that
		// cannot occur here in practice; fall back to a quoted escape so
		// canonicalization never panics on malformed input.
		return fmt.Sprintf("%q", s)
	}
	return string(encoded)
}

// SortUnique returns a sorted copy of values with duplicates removed. It
// never mutates its input.
func SortUnique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	cp := make([]string, len(values))
	copy(cp, values)
	sort.Strings(cp)
	out := cp[:0:0]
	var prev string
	first := true
	for _, v := range cp {
		if first || v != prev {
			out = append(out, v)
			prev = v
			first = false
		}
	}
	return out
}

// SortedMapKeys returns the keys of m in lexicographic order.
func SortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RenderMap renders a string-to-string map as sorted "key=value" lines
// joined by newlines, suitable for embedding as a single Raw block field.
func RenderMap(m map[string]string) string {
	keys := SortedMapKeys(m)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+m[k])
	}
	return strings.Join(lines, "\n")
}

// Canonicalizable is implemented by every artifact that has a canonical
// rendering and therefore a canonical hash: the explanation tree,
// configuration, leaf/ingestion records, group plans, diff reports, and
// the verification ledger.
type Canonicalizable interface {
	// CanonicalBytes returns the canonical UTF-8 rendering. Implementations
	// must omit wall-clock fields (generatedAt and similar) from the
	// rendering so that Hash is stable across regenerations of otherwise
	// identical content.
	CanonicalBytes() []byte
}

// Hash computes the canonical hash of any Canonicalizable.
func Hash(c Canonicalizable) string {
	return HashBytes(c.CanonicalBytes())
}
