package community

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

const (
	// MaxCommunityBuildConcurrency limits concurrent community summaries.
	MaxCommunityBuildConcurrency = 10

	// NameMembers is how many of the highest-degree members name a community.
	NameMembers = 3
)

// Store is the part of the graph store the community pass reads and writes.
type Store interface {
	ListNodes(ctx context.Context, groupID string) ([]*types.EntityNode, error)
	ListEdges(ctx context.Context, groupID string, window *types.TimeWindow) ([]*types.EntityEdge, error)
	driver.CommunityStore
}

// Builder detects communities of densely connected entities. It reads a
// snapshot of the current graph and never writes entities or edges.
type Builder struct {
	store      Store
	summarizer nlp.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewBuilder creates a new community builder. summarizer may be nil, in which
// case communities are summarized by their member list.
func NewBuilder(store Store, summarizer nlp.Client) *Builder {
	return &Builder{
		store:      store,
		summarizer: summarizer,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger used by the builder.
func (b *Builder) SetLogger(logger *slog.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// BuildCommunitiesResult is the outcome of one community pass.
type BuildCommunitiesResult struct {
	Communities []*types.CommunityNode `json:"communities"`
	Warnings    []types.Warning        `json:"warnings,omitempty"`
}

// GetCommunityClusters partitions the partition's current graph with label
// propagation. Members of each cluster are ordered by degree, highest first.
func (b *Builder) GetCommunityClusters(ctx context.Context, groupID string) ([][]*types.EntityNode, error) {
	nodes, err := b.store.ListNodes(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes for group %s: %w", groupID, err)
	}
	edges, err := b.store.ListEdges(ctx, groupID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges for group %s: %w", groupID, err)
	}

	proj := buildProjection(nodes, edges)
	byID := make(map[string]*types.EntityNode, len(nodes))
	for _, n := range nodes {
		byID[n.Uuid] = n
	}

	var clusters [][]*types.EntityNode
	for _, ids := range labelPropagation(proj) {
		members := make([]*types.EntityNode, 0, len(ids))
		for _, id := range ids {
			members = append(members, byID[id])
		}
		sort.SliceStable(members, func(i, j int) bool {
			di, dj := proj.degree(members[i].Uuid), proj.degree(members[j].Uuid)
			if di != dj {
				return di > dj
			}
			return members[i].Name < members[j].Name
		})
		clusters = append(clusters, members)
	}
	return clusters, nil
}

// BuildCommunities detects the partition's communities and replaces the
// stored ones with them. A summary that cannot be produced falls back to the
// member list and adds a warning.
func (b *Builder) BuildCommunities(ctx context.Context, groupID string) (*BuildCommunitiesResult, error) {
	if groupID == "" {
		return nil, types.NewValidationError("communities", types.ErrEmptyGroupID)
	}
	if err := utils.ValidateGroupID(groupID); err != nil {
		return nil, types.NewValidationError("communities", err)
	}

	clusters, err := b.GetCommunityClusters(ctx, groupID)
	if err != nil {
		return nil, types.NewTransientError("communities", err)
	}
	b.logger.Info("clustering", "group_id", groupID, "num_clusters", len(clusters))

	var (
		mu       sync.Mutex
		warnings []types.Warning
	)
	pool := utils.NewWorkerPool(MaxCommunityBuildConcurrency, func(ctx context.Context, cluster []*types.EntityNode) (*types.CommunityNode, error) {
		community, warning := b.buildCommunity(ctx, groupID, cluster)
		if warning != nil {
			mu.Lock()
			warnings = append(warnings, *warning)
			mu.Unlock()
		}
		return community, nil
	})
	communities, errs := pool.ProcessItems(ctx, clusters)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to build communities: %w", err)
	}
	if communities == nil {
		communities = []*types.CommunityNode{}
	}

	if err := b.store.ReplaceCommunities(ctx, groupID, communities); err != nil {
		return nil, types.NewTransientError("communities", fmt.Errorf("failed to store communities: %w", err))
	}

	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Candidate < warnings[j].Candidate })
	return &BuildCommunitiesResult{Communities: communities, Warnings: warnings}, nil
}

// buildCommunity builds a single community from a cluster ordered by degree.
func (b *Builder) buildCommunity(ctx context.Context, groupID string, cluster []*types.EntityNode) (*types.CommunityNode, *types.Warning) {
	community := &types.CommunityNode{
		Uuid:      utils.GenerateUUID(),
		GroupID:   groupID,
		Name:      communityName(cluster),
		MemberIDs: memberIDs(cluster),
		CreatedAt: b.now(),
	}

	if b.summarizer == nil {
		community.Summary = memberSummary(cluster)
		return community, nil
	}

	summaries := make([]string, len(cluster))
	for i, n := range cluster {
		summaries[i] = n.Summary
		if summaries[i] == "" {
			summaries[i] = n.Name
		}
	}
	summary, err := b.hierarchicalSummarize(ctx, summaries)
	if err != nil {
		b.logger.Warn("community summary failed", "group_id", groupID, "community", community.Name, "error", err)
		community.Summary = memberSummary(cluster)
		return community, &types.Warning{
			Kind:      types.KindOf(err),
			Stage:     "community_summary",
			Candidate: community.Name,
			Message:   err.Error(),
		}
	}
	community.Summary = summary
	return community, nil
}

// hierarchicalSummarize folds summaries pairwise until one remains.
func (b *Builder) hierarchicalSummarize(ctx context.Context, summaries []string) (string, error) {
	if len(summaries) == 0 {
		return "", errors.New("no summaries to process")
	}

	current := append([]string(nil), summaries...)
	for len(current) > 1 {
		var oddOneOut string
		if len(current)%2 == 1 {
			oddOneOut = current[len(current)-1]
			current = current[:len(current)-1]
		}

		pairCount := len(current) / 2
		results := make([]string, pairCount)
		for i := 0; i < pairCount; i++ {
			s, err := b.summarizePair(ctx, current[i], current[i+pairCount])
			if err != nil {
				return "", err
			}
			results[i] = s
		}
		if oddOneOut != "" {
			results = append(results, oddOneOut)
		}
		current = results
	}
	return current[0], nil
}

// summarizePair summarizes two text summaries into one.
func (b *Builder) summarizePair(ctx context.Context, left, right string) (string, error) {
	messages := []types.Message{
		nlp.NewSystemMessage(`You are an expert at synthesizing information. Given two entity summaries, create a single comprehensive summary that captures the key information from both. The summary should be concise (under 250 words) and maintain the most important details.`),
		nlp.NewUserMessage(fmt.Sprintf(`Please summarize these two entity summaries into one comprehensive summary:

Summary 1: %s

Summary 2: %s

Provide a single summary that captures the essential information from both:`, left, right)),
	}

	response, err := b.summarizer.Chat(ctx, messages)
	if err != nil {
		return "", types.NewTransientError("community_summary", fmt.Errorf("failed to summarize pair: %w", err))
	}
	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", types.NewValidationError("community_summary", errors.New("empty summary"))
	}
	return content, nil
}

// communityName joins the names of the highest-degree members.
func communityName(cluster []*types.EntityNode) string {
	n := len(cluster)
	if n > NameMembers {
		n = NameMembers
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = cluster[i].Name
	}
	return strings.Join(names, ", ")
}

func memberSummary(cluster []*types.EntityNode) string {
	names := make([]string, len(cluster))
	for i, n := range cluster {
		names[i] = n.Name
	}
	return "Members: " + strings.Join(names, ", ")
}

func memberIDs(cluster []*types.EntityNode) []string {
	ids := make([]string, len(cluster))
	for i, n := range cluster {
		ids[i] = n.Uuid
	}
	sort.Strings(ids)
	return ids
}
