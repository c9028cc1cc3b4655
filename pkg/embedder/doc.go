// Package embedder provides text embedding clients for vector representations.
//
// # Supported Providers
//
//   - OpenAI: text-embedding-3-small, text-embedding-3-large and compatible endpoints
//   - EmbedEverything: local models loaded in process
//
// # Wrappers
//
//   - CachedClient: LRU cache keyed by text
//   - DimensionGuard: fails when a vector's length differs from the configured dimension
//
// # Usage
//
//	base := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{Model: "text-embedding-3-small"})
//	cached, err := embedder.NewCachedClient(base, 4096)
//	client := embedder.NewDimensionGuard(cached, 1536)
//
//	vectors, err := client.Embed(ctx, []string{"Alice", "Acme Corp"})
package embedder
