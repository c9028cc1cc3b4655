package search

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

var errNilRequest = errors.New("search request is nil")

// searchPlan is a validated request with defaults applied.
type searchPlan struct {
	query        string
	groupID      string
	k            int
	maxHops      int
	channelLimit int
	seedIDs      []string
	filters      *types.SearchFilters

	embedding bool
	keyword   bool

	rerankName string
	reranker   Reranker
}

func (s *Searcher) plan(req *types.SearchRequest) (*searchPlan, error) {
	if req == nil {
		return nil, errNilRequest
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateGroupID(req.GroupID); err != nil {
		return nil, err
	}
	for _, k := range req.Kinds {
		if k != types.KindNode && k != types.KindEdge {
			return nil, fmt.Errorf("unknown result kind %q", k)
		}
	}

	p := &searchPlan{
		query:   strings.TrimSpace(req.Query),
		groupID: req.GroupID,
		k:       req.K,
		maxHops: req.MaxHops,
		seedIDs: utils.UniqueStrings(req.SeedIDs),
		filters: req.Filters(),
	}
	if p.k <= 0 {
		p.k = s.opts.DefaultK
	}
	if p.maxHops <= 0 {
		p.maxHops = s.opts.MaxHops
	}
	p.channelLimit = p.k * channelDepth
	p.embedding = p.query != "" && s.embedder != nil
	p.keyword = p.query != ""

	if req.Rerank != "" {
		r, ok := s.rerankers[req.Rerank]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReranker, req.Rerank)
		}
		p.rerankName = req.Rerank
		p.reranker = r
	}
	return p, nil
}

func sortedStrings(in []string) []string {
	sort.Strings(in)
	return in
}
