package prompts

// Library groups the prompts used by the extractor and the LLM reranker.
type Library interface {
	ExtractNodes() PromptVersion
	ExtractEdges() PromptVersion
	DedupeNode() PromptVersion
	DedupeEdges() PromptVersion
	Rerank() PromptVersion
}

// LibraryImpl holds one version of each prompt.
type LibraryImpl struct {
	extractNodes PromptVersion
	extractEdges PromptVersion
	dedupeNode   PromptVersion
	dedupeEdges  PromptVersion
	rerank       PromptVersion
}

func (l *LibraryImpl) ExtractNodes() PromptVersion { return l.extractNodes }
func (l *LibraryImpl) ExtractEdges() PromptVersion { return l.extractEdges }
func (l *LibraryImpl) DedupeNode() PromptVersion   { return l.dedupeNode }
func (l *LibraryImpl) DedupeEdges() PromptVersion  { return l.dedupeEdges }
func (l *LibraryImpl) Rerank() PromptVersion       { return l.rerank }

// NewLibrary creates the default prompt library.
func NewLibrary() Library {
	return &LibraryImpl{
		extractNodes: NewPromptVersion(extractNodesPrompt),
		extractEdges: NewPromptVersion(extractEdgesPrompt),
		dedupeNode:   NewPromptVersion(nodePrompt),
		dedupeEdges:  NewPromptVersion(resolveEdgePrompt),
		rerank:       NewPromptVersion(rerankPrompt),
	}
}
