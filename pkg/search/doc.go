// Package search answers hybrid queries over the temporal knowledge graph.
//
// A query runs up to three retrieval channels concurrently:
//   - Embedding: the query is embedded and matched against node name and
//     edge fact embeddings.
//   - Keyword: BM25 over node names and summaries and edge relations and
//     facts.
//   - Graph: a breadth-first walk from seed nodes. Without caller seeds the
//     channel waits for the other two and seeds from their top hits.
//
// Each channel has its own timeout. A failed or slow channel contributes
// nothing and adds a warning to the response; the query itself fails only
// when it is invalid or its context is cancelled.
//
// Rankings are merged with reciprocal rank fusion (see Fuse) and may then be
// reordered by a registered Reranker:
//
//	s := search.NewSearcher(driver, embedder, search.Options{})
//	s.RegisterReranker(search.RerankerMMR, search.NewMMRReranker(embedder))
//	res, err := s.Search(ctx, &types.SearchRequest{
//	    Query:   "where does Alice work",
//	    GroupID: "acme",
//	    Window:  types.AsOf(t),
//	    Rerank:  search.RerankerMMR,
//	})
//
// Time windows apply to edges: a nil window is the current view, AsOf
// selects edges valid at an instant and Between selects edges whose validity
// overlaps a range.
package search
