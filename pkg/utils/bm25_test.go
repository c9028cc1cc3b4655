package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"alice", "works", "at", "acme", "2023"}, Tokenize("Alice works at ACME (2023)."))
	assert.Empty(t, Tokenize("  ..  "))
}

func TestBM25Index(t *testing.T) {
	ix := NewBM25Index()
	ix.Add("e1", "Alice works at Acme")
	ix.Add("e2", "Bob works at Globex")
	ix.Add("e3", "Acme acquired Initech")

	scores := ix.Score("acme")
	require.Len(t, scores, 2)
	assert.Contains(t, scores, "e1")
	assert.Contains(t, scores, "e3")
	assert.NotContains(t, scores, "e2")

	both := ix.Score("alice acme")
	assert.Greater(t, both["e1"], both["e3"], "matching more terms scores higher")

	assert.Empty(t, ix.Score("zebra"))

	ix.Add("e2", "Bob left Globex")
	assert.Equal(t, 3, ix.Len())
	assert.Empty(t, ix.Score("works")["e2"])
}
