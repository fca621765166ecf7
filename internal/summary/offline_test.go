package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineSummarizer_CitesAllChildrenDeterministically(t *testing.T) {
	children := []ChildRef{
		{ID: "b", Statement: "b holds"},
		{ID: "a", Statement: "a holds"},
	}
	s := OfflineSummarizer{}
	parsed, err := s.Summarize(children, false)
	require.NoError(t, err)
	assert.Equal(t, "a holds b holds", parsed.ParentStatement)
	assert.Equal(t, []string{"a", "b"}, parsed.EvidenceRefs)
}

func TestOfflineSummarizer_SameInputSameOutput(t *testing.T) {
	children := []ChildRef{{ID: "x", Statement: "x holds"}}
	s := OfflineSummarizer{}
	p1, _ := s.Summarize(children, false)
	p2, _ := s.Summarize(children, true)
	assert.Equal(t, p1.ParentStatement, p2.ParentStatement)
}
