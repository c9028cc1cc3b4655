// Package chronograph provides a bi-temporal knowledge graph for Go.
//
// Episodes of text are turned into entities and facts by an extraction
// collaborator, resolved against what the graph already knows, and committed
// together with the episode. Every fact carries two timelines: when it held in
// the world (valid_at, invalid_at) and when the graph believed it
// (created_at, expired_at). Contradicted facts are closed, never deleted, so
// the graph can be queried as of any instant.
//
// # Basic Usage
//
//	d, err := driver.NewSQLiteDriver("graph.db")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	llm, err := nlp.NewOpenAIClient(apiKey, nlp.Config{Model: "gpt-4o-mini"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	emb := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{Model: "text-embedding-3-small"})
//
//	client, err := chronograph.NewClient(d, extractor.NewLLMExtractor(llm, nil), emb, nil, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// # Adding Episodes
//
//	res, err := client.AddEpisode(ctx, &types.AddEpisodeRequest{
//		Content:       "Alice joined Acme Corp as an engineer in March 2021.",
//		ReferenceTime: time.Now(),
//		GroupID:       "team",
//	})
//
// Ingesting the same content into the same group twice returns the stored
// result with Reused set. AddEpisodes ingests many episodes concurrently.
//
// # Searching
//
// Search fuses an embedding channel, a keyword channel and a graph traversal
// channel with reciprocal rank fusion:
//
//	results, err := client.Search(ctx, &types.SearchRequest{
//		Query:   "where does Alice work",
//		GroupID: "team",
//		Window:  types.AsOf(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)),
//	})
//
// A nil window searches the current view: facts that are neither invalidated
// nor expired. types.Between selects every fact whose validity interval
// intersects a range, including invalidated ones.
//
// # Communities
//
// BuildCommunities groups densely connected entities with label propagation
// and stores one CommunityNode per group of two or more entities.
package chronograph
