package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// Neo4jDriver implements GraphDriver for Neo4j databases.
//
// Entities are (:Entity) nodes, facts are [:RELATES_TO] relationships,
// episodes are (:Episodic) nodes and communities are (:Community) nodes
// linked to their members by [:HAS_MEMBER].
type Neo4jDriver struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jDriver creates a new Neo4j driver instance.
func NewNeo4jDriver(uri, username, password, database string) (*Neo4jDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	return &Neo4jDriver{
		client:   driver,
		database: database,
	}, nil
}

func (n *Neo4jDriver) Provider() GraphProvider { return GraphProviderNeo4j }

// Close closes the Neo4j driver.
func (n *Neo4jDriver) Close() error {
	return n.client.Close(context.Background())
}

// VerifyConnectivity checks if the driver can connect to the database.
func (n *Neo4jDriver) VerifyConnectivity(ctx context.Context) error {
	return n.client.VerifyConnectivity(ctx)
}

// CreateIndices creates the range and fulltext indexes the driver relies on.
func (n *Neo4jDriver) CreateIndices(ctx context.Context) error {
	for _, q := range append(neo4jRangeIndices(), neo4jFulltextIndices()...) {
		if _, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, q, nil)
			return nil, err
		}); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (n *Neo4jDriver) read(ctx context.Context, query string, params map[string]any) ([]*db.Record, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return MustRecordSlice(result, "records")
}

func (n *Neo4jDriver) write(ctx context.Context, fn neo4j.ManagedTransactionWork) (any, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, fn)
}

func (n *Neo4jDriver) runWrite(ctx context.Context, query string, params map[string]any) error {
	_, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

const upsertEntityQuery = `
	MERGE (n:Entity {uuid: $uuid})
	SET n += $props`

const upsertEdgeQuery = `
	MATCH (s:Entity {uuid: $source}), (t:Entity {uuid: $target})
	MERGE (s)-[r:RELATES_TO {uuid: $uuid}]->(t)
	SET r += $props`

const upsertEpisodeQuery = `
	MERGE (e:Episodic {uuid: $uuid})
	SET e += $props`

func (n *Neo4jDriver) UpsertNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return err
	}
	props, err := entityToProperties(node)
	if err != nil {
		return err
	}
	return n.runWrite(ctx, upsertEntityQuery, map[string]any{"uuid": node.Uuid, "props": props})
}

func (n *Neo4jDriver) queryEntities(ctx context.Context, query string, params map[string]any) ([]*types.EntityNode, error) {
	records, err := n.read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	nodes := make([]*types.EntityNode, 0, len(records))
	for _, record := range records {
		value, _ := record.Get("n")
		node, ok := AsDBNode(value)
		if !ok {
			continue
		}
		entity, err := entityFromDBNode(node)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, entity)
	}
	return nodes, nil
}

func (n *Neo4jDriver) GetNodesByIDs(ctx context.Context, groupID string, ids []string) ([]*types.EntityNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `MATCH (n:Entity) WHERE n.uuid IN $ids AND ($group_id = "" OR n.group_id = $group_id) RETURN n`
	return n.queryEntities(ctx, query, map[string]any{"ids": utils.UniqueStrings(ids), "group_id": groupID})
}

func (n *Neo4jDriver) FindNodesByName(ctx context.Context, groupID, name string, limit int) ([]*types.EntityNode, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		MATCH (n:Entity {group_id: $group_id, name_norm: $name_norm})
		RETURN n ORDER BY n.uuid LIMIT $limit`
	return n.queryEntities(ctx, query, map[string]any{
		"group_id":  groupID,
		"name_norm": utils.NormalizeStringExact(name),
		"limit":     limit,
	})
}

func (n *Neo4jDriver) ListNodes(ctx context.Context, groupID string) ([]*types.EntityNode, error) {
	return n.queryEntities(ctx, `MATCH (n:Entity {group_id: $group_id}) RETURN n ORDER BY n.uuid`, map[string]any{"group_id": groupID})
}

func (n *Neo4jDriver) UpsertEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	params, err := edgeParams(edge)
	if err != nil {
		return err
	}
	return n.runWrite(ctx, upsertEdgeQuery, params)
}

func edgeParams(e *types.EntityEdge) (map[string]any, error) {
	props, err := edgeToProperties(e)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"uuid":   e.Uuid,
		"source": e.SourceNodeID,
		"target": e.TargetNodeID,
		"props":  props,
	}, nil
}

const edgeReturn = `RETURN r, startNode(r).uuid AS source, endNode(r).uuid AS target`

func (n *Neo4jDriver) queryEdges(ctx context.Context, query string, params map[string]any) ([]*types.EntityEdge, error) {
	records, err := n.read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	edges := make([]*types.EntityEdge, 0, len(records))
	for _, record := range records {
		edge, err := edgeFromRecord(record)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func (n *Neo4jDriver) GetEdgesByIDs(ctx context.Context, groupID string, ids []string) ([]*types.EntityEdge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `MATCH (:Entity)-[r:RELATES_TO]->(:Entity) WHERE r.uuid IN $ids AND r.group_id = $group_id ` + edgeReturn
	return n.queryEdges(ctx, query, map[string]any{"ids": utils.UniqueStrings(ids), "group_id": groupID})
}

func (n *Neo4jDriver) GetEdgesBetween(ctx context.Context, groupID, a, b string, window *types.TimeWindow) ([]*types.EntityEdge, error) {
	query := `
		MATCH (s:Entity)-[r:RELATES_TO {group_id: $group_id}]->(t:Entity)
		WHERE (s.uuid = $a AND t.uuid = $b) OR (s.uuid = $b AND t.uuid = $a)
		` + edgeReturn + ` ORDER BY r.created_at, r.uuid`
	edges, err := n.queryEdges(ctx, query, map[string]any{"group_id": groupID, "a": a, "b": b})
	if err != nil {
		return nil, err
	}
	return filterWindow(edges, window), nil
}

func (n *Neo4jDriver) ListEdges(ctx context.Context, groupID string, window *types.TimeWindow) ([]*types.EntityEdge, error) {
	query := `MATCH (:Entity)-[r:RELATES_TO {group_id: $group_id}]->(:Entity) ` + edgeReturn + ` ORDER BY r.created_at, r.uuid`
	edges, err := n.queryEdges(ctx, query, map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	return filterWindow(edges, window), nil
}

func (n *Neo4jDriver) UpsertEpisode(ctx context.Context, episode *types.EpisodicNode) error {
	if err := episode.Validate(); err != nil {
		return err
	}
	params, err := episodeParams(episode)
	if err != nil {
		return err
	}
	return n.runWrite(ctx, upsertEpisodeQuery, params)
}

func episodeParams(ep *types.EpisodicNode) (map[string]any, error) {
	body, err := json.Marshal(ep)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"uuid": ep.Uuid,
		"props": map[string]any{
			"uuid":           ep.Uuid,
			"group_id":       ep.GroupID,
			"name":           ep.Name,
			"content":        ep.Content,
			"content_hash":   ep.ContentHash,
			"reference_time": formatTime(ep.ReferenceTime),
			"body":           string(body),
		},
	}, nil
}

func (n *Neo4jDriver) queryEpisodes(ctx context.Context, query string, params map[string]any) ([]*types.EpisodicNode, error) {
	records, err := n.read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]*types.EpisodicNode, 0, len(records))
	for _, record := range records {
		value, _ := record.Get("body")
		body, err := MustString(value, "body")
		if err != nil {
			return nil, err
		}
		var ep types.EpisodicNode
		if err := json.Unmarshal([]byte(body), &ep); err != nil {
			return nil, fmt.Errorf("decode episode: %w", err)
		}
		out = append(out, &ep)
	}
	return out, nil
}

func (n *Neo4jDriver) GetEpisode(ctx context.Context, groupID, uuid string) (*types.EpisodicNode, error) {
	eps, err := n.queryEpisodes(ctx, `MATCH (e:Episodic {uuid: $uuid, group_id: $group_id}) RETURN e.body AS body`,
		map[string]any{"uuid": uuid, "group_id": groupID})
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, ErrNotFound
	}
	return eps[0], nil
}

func (n *Neo4jDriver) GetEpisodeByHash(ctx context.Context, groupID, hash string) (*types.EpisodicNode, error) {
	eps, err := n.queryEpisodes(ctx, `MATCH (e:Episodic {group_id: $group_id, content_hash: $hash}) RETURN e.body AS body LIMIT 1`,
		map[string]any{"group_id": groupID, "hash": hash})
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, ErrNotFound
	}
	return eps[0], nil
}

func (n *Neo4jDriver) GetRecentEpisodes(ctx context.Context, groupID string, before time.Time, limit int) ([]*types.EpisodicNode, error) {
	eps, err := n.queryEpisodes(ctx, `MATCH (e:Episodic {group_id: $group_id}) RETURN e.body AS body`, map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	var kept []*types.EpisodicNode
	for _, ep := range eps {
		if !ep.ReferenceTime.After(before) {
			kept = append(kept, ep)
		}
	}
	return recentEpisodes(kept, limit), nil
}

// VectorSearch loads the candidates' embeddings and computes cosine
// similarity in process.
func (n *Neo4jDriver) VectorSearch(ctx context.Context, embedding []float32, k int, filters *types.SearchFilters) ([]types.ScoredItem, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	groupID := filterGroup(filters)

	nodes, err := n.ListNodes(ctx, groupID)
	if err != nil {
		return nil, err
	}
	byID := indexNodes(nodes)

	var items []types.ScoredItem
	if filters.WantsNodes() {
		for _, node := range nodes {
			if len(node.NameEmbedding) == 0 || !filters.AdmitsNode(node) {
				continue
			}
			items = append(items, types.ScoredItem{Kind: types.KindNode, Node: node, Score: utils.CosineSimilarity(embedding, node.NameEmbedding)})
		}
	}
	if filters.WantsEdges() {
		query := `MATCH (:Entity)-[r:RELATES_TO {group_id: $group_id}]->(:Entity) WHERE r.fact_embedding IS NOT NULL ` + edgeReturn
		edges, err := n.queryEdges(ctx, query, map[string]any{"group_id": groupID})
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if len(e.FactEmbedding) == 0 || !admitEdge(filters, e, byID.get) {
				continue
			}
			items = append(items, types.ScoredItem{Kind: types.KindEdge, Edge: e, Score: utils.CosineSimilarity(embedding, e.FactEmbedding)})
		}
	}
	return rankScored(items, k), nil
}

// KeywordSearch queries the fulltext indexes. Lucene scores stand in for BM25.
func (n *Neo4jDriver) KeywordSearch(ctx context.Context, text string, k int, filters *types.SearchFilters) ([]types.ScoredItem, error) {
	query := utils.LuceneSanitize(text)
	if query == "" {
		return nil, nil
	}
	groupID := filterGroup(filters)
	limit := k * 4
	if limit <= 0 {
		limit = 100
	}
	params := map[string]any{"query": query, "group_id": groupID, "limit": limit}

	var items []types.ScoredItem
	if filters.WantsNodes() {
		records, err := n.read(ctx, queryFulltextNodes, params)
		if err != nil {
			return nil, fmt.Errorf("fulltext node search: %w", err)
		}
		for _, record := range records {
			value, _ := record.Get("node")
			node, ok := AsDBNode(value)
			if !ok {
				continue
			}
			entity, err := entityFromDBNode(node)
			if err != nil {
				return nil, err
			}
			scoreValue, _ := record.Get("score")
			score, _ := AsFloat64(scoreValue)
			if filters.AdmitsNode(entity) {
				items = append(items, types.ScoredItem{Kind: types.KindNode, Node: entity, Score: score})
			}
		}
	}
	if filters.WantsEdges() {
		records, err := n.read(ctx, queryFulltextEdges, params)
		if err != nil {
			return nil, fmt.Errorf("fulltext edge search: %w", err)
		}
		var edges []*types.EntityEdge
		scores := make(map[string]float64, len(records))
		for _, record := range records {
			edge, err := edgeFromRecord(record)
			if err != nil {
				return nil, err
			}
			scoreValue, _ := record.Get("score")
			scores[edge.Uuid], _ = AsFloat64(scoreValue)
			edges = append(edges, edge)
		}
		var endpoints nodeIndex
		if filters != nil && len(filters.EntityLabels) > 0 {
			ids := make([]string, 0, 2*len(edges))
			for _, e := range edges {
				ids = append(ids, e.SourceNodeID, e.TargetNodeID)
			}
			nodes, err := n.GetNodesByIDs(ctx, groupID, ids)
			if err != nil {
				return nil, err
			}
			endpoints = indexNodes(nodes)
		}
		for _, e := range edges {
			if admitEdge(filters, e, endpoints.get) {
				items = append(items, types.ScoredItem{Kind: types.KindEdge, Edge: e, Score: scores[e.Uuid]})
			}
		}
	}
	return rankScored(items, k), nil
}

func (n *Neo4jDriver) Traverse(ctx context.Context, seedIDs []string, maxHops int, filters *types.SearchFilters) ([]types.TraversalHit, error) {
	expand := func(ctx context.Context, groupID string, frontier []string) ([]*types.EntityEdge, error) {
		query := `
			MATCH (s:Entity)-[r:RELATES_TO]->(t:Entity)
			WHERE (s.uuid IN $ids OR t.uuid IN $ids) AND ($group_id = "" OR r.group_id = $group_id)
			` + edgeReturn
		return n.queryEdges(ctx, query, map[string]any{"ids": frontier, "group_id": groupID})
	}
	return traverse(ctx, seedIDs, maxHops, filters, expand, n.GetNodesByIDs)
}

func (n *Neo4jDriver) ReplaceCommunities(ctx context.Context, groupID string, communities []*types.CommunityNode) error {
	_, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MATCH (c:Community {group_id: $group_id}) DETACH DELETE c`, map[string]any{"group_id": groupID}); err != nil {
			return nil, err
		}
		for _, c := range communities {
			_, err := tx.Run(ctx, `
				CREATE (c:Community {uuid: $uuid, group_id: $group_id, name: $name, summary: $summary, created_at: $created_at})
				WITH c
				UNWIND $members AS member
				MATCH (m:Entity {uuid: member, group_id: $group_id})
				MERGE (c)-[:HAS_MEMBER]->(m)`,
				map[string]any{
					"uuid":       c.Uuid,
					"group_id":   groupID,
					"name":       c.Name,
					"summary":    c.Summary,
					"created_at": formatTime(c.CreatedAt),
					"members":    c.MemberIDs,
				})
			if err != nil {
				return nil, fmt.Errorf("create community %s: %w", c.Uuid, err)
			}
		}
		return nil, nil
	})
	return err
}

func (n *Neo4jDriver) GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error) {
	records, err := n.read(ctx, `
		MATCH (c:Community {group_id: $group_id})
		OPTIONAL MATCH (c)-[:HAS_MEMBER]->(m:Entity)
		WITH c, m ORDER BY m.uuid
		RETURN c, collect(m.uuid) AS members ORDER BY c.uuid`, map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}

	out := make([]*types.CommunityNode, 0, len(records))
	for _, record := range records {
		value, _ := record.Get("c")
		node, err := MustDBNode(value, "c")
		if err != nil {
			return nil, err
		}
		c := &types.CommunityNode{}
		c.Uuid, _ = AsString(node.Props["uuid"])
		c.GroupID, _ = AsString(node.Props["group_id"])
		c.Name, _ = AsString(node.Props["name"])
		c.Summary, _ = AsString(node.Props["summary"])
		created, _ := AsString(node.Props["created_at"])
		c.CreatedAt = parseTime(created)
		members, _ := record.Get("members")
		list, _ := AsAnySlice(members)
		for _, m := range list {
			if id, ok := AsString(m); ok {
				c.MemberIDs = append(c.MemberIDs, id)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// WriteBatch runs every write of the batch in a single transaction.
func (n *Neo4jDriver) WriteBatch(ctx context.Context, batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	var episode map[string]any
	if batch.Episode != nil {
		var err error
		if episode, err = episodeParams(batch.Episode); err != nil {
			return err
		}
	}

	// Encoding errors are returned before the transaction opens.
	nodeParams := make([]map[string]any, 0, len(batch.Nodes))
	for _, node := range batch.Nodes {
		props, err := entityToProperties(node)
		if err != nil {
			return err
		}
		nodeParams = append(nodeParams, map[string]any{"uuid": node.Uuid, "props": props})
	}
	edges := make([]map[string]any, 0, len(batch.Edges))
	for _, e := range batch.Edges {
		params, err := edgeParams(e)
		if err != nil {
			return err
		}
		edges = append(edges, params)
	}

	_, err := n.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, params := range nodeParams {
			if _, err := tx.Run(ctx, upsertEntityQuery, params); err != nil {
				return nil, fmt.Errorf("upsert entity %s: %w", params["uuid"], err)
			}
		}
		for _, params := range edges {
			if _, err := tx.Run(ctx, upsertEdgeQuery, params); err != nil {
				return nil, fmt.Errorf("upsert edge %s: %w", params["uuid"], err)
			}
		}
		if episode != nil {
			if _, err := tx.Run(ctx, upsertEpisodeQuery, episode); err != nil {
				return nil, fmt.Errorf("upsert episode: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

func entityToProperties(node *types.EntityNode) (map[string]any, error) {
	emb, err := jsonProperty("name_embedding", node.NameEmbedding)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", node.Uuid, err)
	}
	attrs, err := jsonProperty("attributes", node.Attributes)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", node.Uuid, err)
	}
	return map[string]any{
		"uuid":                   node.Uuid,
		"group_id":               node.GroupID,
		"name":                   node.Name,
		"name_norm":              utils.NormalizeStringExact(node.Name),
		"labels":                 node.Labels,
		"summary":                node.Summary,
		"name_embedding":         emb,
		"attributes":             attrs,
		"created_at":             formatTime(node.CreatedAt),
		"updated_at":             formatTime(node.UpdatedAt),
		"episode_ids":            node.EpisodeIDs,
		"potential_duplicate_of": node.PotentialDuplicateOf,
	}, nil
}

func entityFromDBNode(node dbtype.Node) (*types.EntityNode, error) {
	props := node.Props
	result := &types.EntityNode{}

	var err error
	if result.Uuid, err = MustString(props["uuid"], "uuid"); err != nil {
		return nil, err
	}
	result.GroupID, _ = AsString(props["group_id"])
	result.Name, _ = AsString(props["name"])
	result.Summary, _ = AsString(props["summary"])
	result.Labels = stringList(props["labels"])
	result.EpisodeIDs = stringList(props["episode_ids"])
	result.PotentialDuplicateOf = stringList(props["potential_duplicate_of"])

	if s, ok := AsString(props["created_at"]); ok {
		result.CreatedAt = parseTime(s)
	}
	if s, ok := AsString(props["updated_at"]); ok {
		result.UpdatedAt = parseTime(s)
	}
	if s, ok := AsString(props["name_embedding"]); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &result.NameEmbedding)
	}
	if s, ok := AsString(props["attributes"]); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &result.Attributes)
	}
	return result, nil
}

// Only the temporal bounds and provenance may change after creation, but
// MERGE on an existing relationship rewrites the full property map with the
// same immutable values.
func edgeToProperties(e *types.EntityEdge) (map[string]any, error) {
	emb, err := jsonProperty("fact_embedding", e.FactEmbedding)
	if err != nil {
		return nil, fmt.Errorf("edge %s: %w", e.Uuid, err)
	}
	attrs, err := jsonProperty("attributes", e.Attributes)
	if err != nil {
		return nil, fmt.Errorf("edge %s: %w", e.Uuid, err)
	}
	return map[string]any{
		"uuid":           e.Uuid,
		"group_id":       e.GroupID,
		"name":           e.Name,
		"fact":           e.Fact,
		"fact_embedding": emb,
		"created_at":     formatTime(e.CreatedAt),
		"episodes":       e.Episodes,
		"attributes":     attrs,
		"valid_at":       formatTimePtr(e.ValidAt),
		"invalid_at":     formatTimePtr(e.InvalidAt),
		"expired_at":     formatTimePtr(e.ExpiredAt),
	}, nil
}

func edgeFromRecord(record *db.Record) (*types.EntityEdge, error) {
	value, _ := record.Get("r")
	rel, err := MustDBRelationship(value, "r")
	if err != nil {
		return nil, err
	}
	props := rel.Props
	e := &types.EntityEdge{}

	if e.Uuid, err = MustString(props["uuid"], "uuid"); err != nil {
		return nil, err
	}
	source, _ := record.Get("source")
	target, _ := record.Get("target")
	e.SourceNodeID, _ = AsString(source)
	e.TargetNodeID, _ = AsString(target)
	e.GroupID, _ = AsString(props["group_id"])
	e.Name, _ = AsString(props["name"])
	e.Fact, _ = AsString(props["fact"])
	e.Episodes = stringList(props["episodes"])

	if s, ok := AsString(props["created_at"]); ok {
		e.CreatedAt = parseTime(s)
	}
	e.ValidAt = propTime(props["valid_at"])
	e.InvalidAt = propTime(props["invalid_at"])
	e.ExpiredAt = propTime(props["expired_at"])
	if s, ok := AsString(props["fact_embedding"]); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &e.FactEmbedding)
	}
	if s, ok := AsString(props["attributes"]); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &e.Attributes)
	}
	return e, nil
}

func propTime(v any) *time.Time {
	s, ok := AsString(v)
	if !ok || s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func stringList(v any) []string {
	if s, ok := AsStringSlice(v); ok {
		return s
	}
	list, ok := AsAnySlice(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := AsString(item); ok {
			out = append(out, s)
		}
	}
	return out
}

// jsonProperty encodes v as a string property. Nil values are stored empty.
func jsonProperty(field string, v any) (string, error) {
	s, err := marshalField(field, v)
	if err != nil || s == "null" {
		return "", err
	}
	return s, nil
}

var _ GraphDriver = (*Neo4jDriver)(nil)
