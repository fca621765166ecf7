package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_FieldOrdering(t *testing.T) {
	b := NewBuilder()
	b.Field("a", "1").Field("b", "2")
	require.Equal(t, "a=1\nb=2\n", b.String())
}

func TestBuilder_OptionalField(t *testing.T) {
	b := NewBuilder()
	b.OptionalField("x", "")
	require.Equal(t, "x=none\n", b.String())
}

func TestSortUnique_InvariantUnderReordering(t *testing.T) {
	a := SortUnique([]string{"c", "a", "b", "a"})
	b := SortUnique([]string{"b", "c", "a"})
	assert.Equal(t, a, b)
	assert.Equal(t, []string{"a", "b", "c"}, a)
}

func TestSortUnique_Empty(t *testing.T) {
	assert.Nil(t, SortUnique(nil))
	assert.Nil(t, SortUnique([]string{}))
}

func TestHash_InvariantUnderMapReordering(t *testing.T) {
	m1 := map[string]string{"z": "1", "a": "2"}
	m2 := map[string]string{"a": "2", "z": "1"}
	assert.Equal(t, RenderMap(m1), RenderMap(m2))
}

func TestQuoteString_EscapesDelimiters(t *testing.T) {
	q := QuoteString("has\na newline and \"quotes\"")
	require.Contains(t, q, "\\n")
	require.Contains(t, q, "\\\"")
}

type fakeArtifact struct{ payload string }

func (f fakeArtifact) CanonicalBytes() []byte { return []byte(f.payload) }

func TestHash_Idempotent(t *testing.T) {
	a := fakeArtifact{payload: "stable-bytes\n"}
	require.Equal(t, Hash(a), Hash(a))
}
