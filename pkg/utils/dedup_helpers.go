package utils

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/soundprediction/chronograph/pkg/types"
)

// Constants for deduplication heuristics
const (
	NameEntropyThreshold  = 1.5
	MinNameLength         = 6
	MinTokenCount         = 2
	FuzzyJaccardThreshold = 0.9
	MinHashPermutations   = 32
	MinHashBandSize       = 4
)

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	nonFuzzyCharRe = regexp.MustCompile(`[^a-z0-9' ]`)

	shingleCache sync.Map
)

// NormalizeStringExact lowercases text and collapses whitespace so equal names map to the same key
func NormalizeStringExact(name string) string {
	normalized := whitespaceRe.ReplaceAllString(strings.ToLower(name), " ")
	return strings.TrimSpace(normalized)
}

// NormalizeNameForFuzzy keeps alphanumerics and apostrophes for n-gram shingles
func NormalizeNameForFuzzy(name string) string {
	normalized := nonFuzzyCharRe.ReplaceAllString(NormalizeStringExact(name), " ")
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(normalized), " ")
}

// nameEntropy approximates text specificity using Shannon entropy over characters
func nameEntropy(normalizedName string) float64 {
	text := strings.ReplaceAll(normalizedName, " ", "")
	if text == "" {
		return 0.0
	}

	counts := make(map[rune]int)
	total := 0
	for _, char := range text {
		counts[char]++
		total++
	}

	var entropy float64
	for _, count := range counts {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// HasHighEntropy filters out very short or low-entropy names that are unreliable for fuzzy matching
func HasHighEntropy(normalizedName string) bool {
	tokenCount := len(strings.Fields(normalizedName))
	if len(normalizedName) < MinNameLength && tokenCount < MinTokenCount {
		return false
	}
	return nameEntropy(normalizedName) >= NameEntropyThreshold
}

func shingles(normalizedName string) []string {
	cleaned := strings.ReplaceAll(normalizedName, " ", "")
	if len(cleaned) < 3 {
		if cleaned == "" {
			return []string{}
		}
		return []string{cleaned}
	}

	set := make([]string, 0, len(cleaned)-2)
	for i := 0; i < len(cleaned)-2; i++ {
		set = append(set, cleaned[i:i+3])
	}
	return set
}

// CachedShingles returns the 3-gram shingles of a fuzzy-normalized name.
func CachedShingles(name string) []string {
	if cached, ok := shingleCache.Load(name); ok {
		return cached.([]string)
	}
	result := shingles(name)
	shingleCache.Store(name, result)
	return result
}

func hashShingle(shingle string, seed int) uint64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", seed, shingle)))
	return binary.BigEndian.Uint64(sum[:8])
}

// MinHashSignature computes the MinHash signature of a shingle set
func MinHashSignature(shingleSet []string) []uint64 {
	if len(shingleSet) == 0 {
		return []uint64{}
	}

	signature := make([]uint64, MinHashPermutations)
	for seed := 0; seed < MinHashPermutations; seed++ {
		minHash := uint64(math.MaxUint64)
		for _, s := range shingleSet {
			if h := hashShingle(s, seed); h < minHash {
				minHash = h
			}
		}
		signature[seed] = minHash
	}
	return signature
}

// LSHBands splits a MinHash signature into fixed-size bands
func LSHBands(signature []uint64) [][]uint64 {
	bands := make([][]uint64, 0, len(signature)/MinHashBandSize)
	for start := 0; start+MinHashBandSize <= len(signature); start += MinHashBandSize {
		band := make([]uint64, MinHashBandSize)
		copy(band, signature[start:start+MinHashBandSize])
		bands = append(bands, band)
	}
	return bands
}

// JaccardSimilarity returns the Jaccard similarity between two shingle sets
func JaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}

	intersection := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// FuzzyMatch is an existing node whose name is close to a candidate's.
type FuzzyMatch struct {
	Node    *types.EntityNode
	Jaccard float64
}

// CandidateIndex holds exact and fuzzy lookup structures over a set of
// existing nodes.
type CandidateIndex struct {
	nodesByUUID map[string]*types.EntityNode
	byExactName map[string][]*types.EntityNode
	shingles    map[string][]string
	lshBuckets  map[string][]string

	// Threshold is the minimum Jaccard similarity of a fuzzy match.
	Threshold float64
}

// BuildCandidateIndex precomputes the lookup structures once per candidate set.
func BuildCandidateIndex(existing []*types.EntityNode) *CandidateIndex {
	idx := &CandidateIndex{
		nodesByUUID: make(map[string]*types.EntityNode, len(existing)),
		byExactName: make(map[string][]*types.EntityNode),
		shingles:    make(map[string][]string, len(existing)),
		lshBuckets:  make(map[string][]string),
		Threshold:   FuzzyJaccardThreshold,
	}
	for _, node := range existing {
		idx.Add(node)
	}
	return idx
}

// Add indexes one more node. Re-adding a uuid is a no-op.
func (idx *CandidateIndex) Add(node *types.EntityNode) {
	if _, ok := idx.nodesByUUID[node.Uuid]; ok {
		return
	}
	idx.nodesByUUID[node.Uuid] = node

	exact := NormalizeStringExact(node.Name)
	idx.byExactName[exact] = append(idx.byExactName[exact], node)

	sh := CachedShingles(NormalizeNameForFuzzy(node.Name))
	idx.shingles[node.Uuid] = sh
	for bandIndex, band := range LSHBands(MinHashSignature(sh)) {
		key := fmt.Sprintf("%d:%v", bandIndex, band)
		idx.lshBuckets[key] = append(idx.lshBuckets[key], node.Uuid)
	}
}

// ExactMatches returns indexed nodes whose normalized name equals name's.
func (idx *CandidateIndex) ExactMatches(name string) []*types.EntityNode {
	return idx.byExactName[NormalizeStringExact(name)]
}

// FuzzyMatches returns nodes whose shingle Jaccard similarity with name is at
// least the index threshold, best first. Low-entropy names never fuzzy match.
func (idx *CandidateIndex) FuzzyMatches(name string) []FuzzyMatch {
	fuzzy := NormalizeNameForFuzzy(name)
	if !HasHighEntropy(fuzzy) {
		return nil
	}

	sh := CachedShingles(fuzzy)
	seen := make(map[string]struct{})
	for bandIndex, band := range LSHBands(MinHashSignature(sh)) {
		key := fmt.Sprintf("%d:%v", bandIndex, band)
		for _, id := range idx.lshBuckets[key] {
			seen[id] = struct{}{}
		}
	}

	var matches []FuzzyMatch
	for id := range seen {
		score := JaccardSimilarity(sh, idx.shingles[id])
		if score >= idx.Threshold {
			matches = append(matches, FuzzyMatch{Node: idx.nodesByUUID[id], Jaccard: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Jaccard != matches[j].Jaccard {
			return matches[i].Jaccard > matches[j].Jaccard
		}
		return matches[i].Node.Uuid < matches[j].Node.Uuid
	})
	return matches
}
