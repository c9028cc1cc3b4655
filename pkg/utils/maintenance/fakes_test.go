package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
)

type fakeExtractor struct {
	mu                sync.Mutex
	disambiguate      func(*types.EntityDisambiguation) (*types.EntityDecision, error)
	classify          func(*types.EdgeClassification) (*types.EdgeDecision, error)
	disambiguateCalls []*types.EntityDisambiguation
	classifyCalls     []*types.EdgeClassification
}

func (f *fakeExtractor) Extract(ctx context.Context, req *types.ExtractionRequest) (*types.Extraction, error) {
	return nil, errors.New("not used")
}

func (f *fakeExtractor) DisambiguateEntity(ctx context.Context, req *types.EntityDisambiguation) (*types.EntityDecision, error) {
	f.mu.Lock()
	f.disambiguateCalls = append(f.disambiguateCalls, req)
	f.mu.Unlock()
	if f.disambiguate == nil {
		return nil, errors.New("unexpected disambiguation")
	}
	return f.disambiguate(req)
}

func (f *fakeExtractor) ClassifyEdge(ctx context.Context, req *types.EdgeClassification) (*types.EdgeDecision, error) {
	f.mu.Lock()
	f.classifyCalls = append(f.classifyCalls, req)
	f.mu.Unlock()
	if f.classify == nil {
		return nil, errors.New("unexpected classification")
	}
	return f.classify(req)
}

// fakeEmbedder returns fixed vectors per text and a zero vector otherwise.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 0}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

func (f *fakeEmbedder) Close() error { return nil }

const testGroup = "test-group"

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newNode(uuid, name string, labels ...string) *types.EntityNode {
	if len(labels) == 0 {
		labels = []string{types.DefaultEntityLabel}
	}
	return &types.EntityNode{
		Uuid:      uuid,
		Name:      name,
		Labels:    labels,
		GroupID:   testGroup,
		CreatedAt: date(2022, 1, 1),
		UpdatedAt: date(2022, 1, 1),
	}
}

func newEpisode(uuid string, ref time.Time) *types.EpisodicNode {
	return &types.EpisodicNode{
		Uuid:          uuid,
		Name:          uuid,
		Content:       "content of " + uuid,
		GroupID:       testGroup,
		ReferenceTime: ref,
		CreatedAt:     ref,
	}
}

func seedNodes(d *driver.MemoryDriver, nodes ...*types.EntityNode) {
	for _, n := range nodes {
		if err := d.UpsertNode(context.Background(), n); err != nil {
			panic(err)
		}
	}
}

func commitEdges(d *driver.MemoryDriver, res *EdgeResolution) {
	if len(res.Edges) == 0 {
		return
	}
	if err := d.WriteBatch(context.Background(), &driver.Batch{Edges: res.Edges}); err != nil {
		panic(err)
	}
}
