package utils

import (
	"math"
	"regexp"
	"strings"
)

// BM25 parameters.
const (
	BM25K1 = 1.2
	BM25B  = 0.75
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize lowercases text and splits it into letter and digit runs.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// BM25Index scores documents against keyword queries. Documents are added
// once; the index is not safe for concurrent mutation.
type BM25Index struct {
	docs     map[string]map[string]int
	lengths  map[string]int
	docFreq  map[string]int
	totalLen int
}

// NewBM25Index returns an empty index.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		docs:    make(map[string]map[string]int),
		lengths: make(map[string]int),
		docFreq: make(map[string]int),
	}
}

// Add indexes text under id. Re-adding an id replaces its text.
func (ix *BM25Index) Add(id, text string) {
	if old, ok := ix.docs[id]; ok {
		for term := range old {
			ix.docFreq[term]--
		}
		ix.totalLen -= ix.lengths[id]
	}

	tokens := Tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	for term := range tf {
		ix.docFreq[term]++
	}
	ix.docs[id] = tf
	ix.lengths[id] = len(tokens)
	ix.totalLen += len(tokens)
}

// Len returns the number of indexed documents.
func (ix *BM25Index) Len() int {
	return len(ix.docs)
}

// Score returns the BM25 score of every document matching at least one query
// term. Documents without a matching term are absent from the map.
func (ix *BM25Index) Score(query string) map[string]float64 {
	terms := UniqueStrings(Tokenize(query))
	n := float64(len(ix.docs))
	if n == 0 || len(terms) == 0 {
		return nil
	}
	avgLen := float64(ix.totalLen) / n
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		df := float64(ix.docFreq[term])
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for id, tf := range ix.docs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := 1 - BM25B + BM25B*float64(ix.lengths[id])/avgLen
			scores[id] += idf * f * (BM25K1 + 1) / (f + BM25K1*norm)
		}
	}
	return scores
}
