package driver

// Fulltext index names used by Neo4jDriver.KeywordSearch.
const (
	entityFulltextIndex = "entity_name_summary"
	edgeFulltextIndex   = "edge_name_fact"
)

// neo4jRangeIndices returns the range index creation queries.
func neo4jRangeIndices() []string {
	return []string{
		"CREATE INDEX entity_uuid IF NOT EXISTS FOR (n:Entity) ON (n.uuid)",
		"CREATE INDEX episode_uuid IF NOT EXISTS FOR (n:Episodic) ON (n.uuid)",
		"CREATE INDEX community_uuid IF NOT EXISTS FOR (n:Community) ON (n.uuid)",
		"CREATE INDEX relation_uuid IF NOT EXISTS FOR ()-[e:RELATES_TO]-() ON (e.uuid)",
		"CREATE INDEX entity_group_id IF NOT EXISTS FOR (n:Entity) ON (n.group_id)",
		"CREATE INDEX episode_group_id IF NOT EXISTS FOR (n:Episodic) ON (n.group_id)",
		"CREATE INDEX community_group_id IF NOT EXISTS FOR (n:Community) ON (n.group_id)",
		"CREATE INDEX relation_group_id IF NOT EXISTS FOR ()-[e:RELATES_TO]-() ON (e.group_id)",
		"CREATE INDEX entity_name_norm IF NOT EXISTS FOR (n:Entity) ON (n.group_id, n.name_norm)",
		"CREATE INDEX episode_content_hash IF NOT EXISTS FOR (n:Episodic) ON (n.group_id, n.content_hash)",
		"CREATE INDEX relation_name IF NOT EXISTS FOR ()-[e:RELATES_TO]-() ON (e.name)",
	}
}

// neo4jFulltextIndices returns the fulltext index creation queries.
func neo4jFulltextIndices() []string {
	return []string{
		`CREATE FULLTEXT INDEX ` + entityFulltextIndex + ` IF NOT EXISTS
FOR (n:Entity) ON EACH [n.name, n.summary]`,
		`CREATE FULLTEXT INDEX ` + edgeFulltextIndex + ` IF NOT EXISTS
FOR ()-[e:RELATES_TO]-() ON EACH [e.name, e.fact]`,
	}
}

const (
	queryFulltextNodes = `
		CALL db.index.fulltext.queryNodes("` + entityFulltextIndex + `", $query, {limit: $limit})
		YIELD node, score
		WHERE node.group_id = $group_id
		RETURN node, score`

	queryFulltextEdges = `
		CALL db.index.fulltext.queryRelationships("` + edgeFulltextIndex + `", $query, {limit: $limit})
		YIELD relationship, score
		WHERE relationship.group_id = $group_id
		RETURN relationship AS r, startNode(relationship).uuid AS source, endNode(relationship).uuid AS target, score`
)
