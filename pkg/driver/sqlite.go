package driver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entities (
	uuid TEXT PRIMARY KEY,
	group_id TEXT NOT NULL,
	name TEXT NOT NULL,
	name_norm TEXT NOT NULL,
	labels TEXT,
	summary TEXT,
	name_embedding BLOB,
	attributes TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	episode_ids TEXT,
	potential_duplicate_of TEXT
);
CREATE INDEX IF NOT EXISTS idx_entities_group_name ON entities(group_id, name_norm);

CREATE TABLE IF NOT EXISTS edges (
	uuid TEXT PRIMARY KEY,
	group_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	name TEXT NOT NULL,
	fact TEXT,
	fact_embedding BLOB,
	valid_at TEXT,
	invalid_at TEXT,
	created_at TEXT NOT NULL,
	expired_at TEXT,
	episodes TEXT,
	attributes TEXT
);
CREATE INDEX IF NOT EXISTS idx_edges_group_source ON edges(group_id, source_id);
CREATE INDEX IF NOT EXISTS idx_edges_group_target ON edges(group_id, target_id);

CREATE TABLE IF NOT EXISTS episodes (
	uuid TEXT PRIMARY KEY,
	group_id TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	reference_time TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_episodes_hash ON episodes(group_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_episodes_ref ON episodes(group_id, reference_time);

CREATE TABLE IF NOT EXISTS communities (
	uuid TEXT PRIMARY KEY,
	group_id TEXT NOT NULL,
	name TEXT,
	summary TEXT,
	member_ids TEXT,
	created_at TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(uuid UNINDEXED, group_id UNINDEXED, name, summary);
CREATE VIRTUAL TABLE IF NOT EXISTS edges_fts USING fts5(uuid UNINDEXED, group_id UNINDEXED, name, fact);
`

// SQLiteDriver stores the graph in a SQLite database, with FTS5 tables for
// keyword search. Vector similarity is computed in process.
type SQLiteDriver struct {
	db *sql.DB
}

// NewSQLiteDriver opens or creates the database at path. Use ":memory:" for a
// throwaway store.
func NewSQLiteDriver(path string) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteDriver{db: db}, nil
}

func (s *SQLiteDriver) Provider() GraphProvider { return GraphProviderSQLite }

func (s *SQLiteDriver) Close() error { return s.db.Close() }

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteDriver) UpsertNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error { return upsertNodeSQL(ctx, tx, node) })
}

func upsertNodeSQL(ctx context.Context, ex execer, n *types.EntityNode) error {
	labels, err := marshalField("labels", n.Labels)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", n.Uuid, err)
	}
	attrs, err := marshalField("attributes", n.Attributes)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", n.Uuid, err)
	}
	eps, err := marshalField("episode_ids", n.EpisodeIDs)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", n.Uuid, err)
	}
	dups, err := marshalField("potential_duplicate_of", n.PotentialDuplicateOf)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", n.Uuid, err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO entities (uuid, group_id, name, name_norm, labels, summary, name_embedding, attributes, created_at, updated_at, episode_ids, potential_duplicate_of)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			group_id = excluded.group_id, name = excluded.name, name_norm = excluded.name_norm,
			labels = excluded.labels, summary = excluded.summary, name_embedding = excluded.name_embedding,
			attributes = excluded.attributes, updated_at = excluded.updated_at,
			episode_ids = excluded.episode_ids, potential_duplicate_of = excluded.potential_duplicate_of`,
		n.Uuid, n.GroupID, n.Name, utils.NormalizeStringExact(n.Name), labels, n.Summary,
		utils.EncodeEmbedding(n.NameEmbedding), attrs, formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
		eps, dups)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", n.Uuid, err)
	}

	if _, err := ex.ExecContext(ctx, `DELETE FROM entities_fts WHERE uuid = ?`, n.Uuid); err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO entities_fts (uuid, group_id, name, summary) VALUES (?, ?, ?, ?)`,
		n.Uuid, n.GroupID, n.Name, n.Summary)
	return err
}

const entityColumns = `uuid, group_id, name, labels, summary, name_embedding, attributes, created_at, updated_at, episode_ids, potential_duplicate_of`

func (s *SQLiteDriver) queryNodes(ctx context.Context, query string, args ...any) ([]*types.EntityNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.EntityNode
	for rows.Next() {
		var (
			n                        types.EntityNode
			labels, attrs, eps, dups sql.NullString
			summary                  sql.NullString
			emb                      []byte
			created, updated         string
		)
		if err := rows.Scan(&n.Uuid, &n.GroupID, &n.Name, &labels, &summary, &emb, &attrs, &created, &updated, &eps, &dups); err != nil {
			return nil, err
		}
		n.Summary = summary.String
		unmarshalNull(labels, &n.Labels)
		unmarshalNull(attrs, &n.Attributes)
		unmarshalNull(eps, &n.EpisodeIDs)
		unmarshalNull(dups, &n.PotentialDuplicateOf)
		if n.NameEmbedding, err = utils.DecodeEmbedding(emb); err != nil {
			return nil, fmt.Errorf("entity %s: %w", n.Uuid, err)
		}
		n.CreatedAt = parseTime(created)
		n.UpdatedAt = parseTime(updated)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *SQLiteDriver) GetNodesByIDs(ctx context.Context, groupID string, ids []string) ([]*types.EntityNode, error) {
	ids = utils.UniqueStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + entityColumns + ` FROM entities WHERE uuid IN (` + placeholders(len(ids)) + `)`
	args := stringArgs(ids)
	if groupID != "" {
		query += ` AND group_id = ?`
		args = append(args, groupID)
	}
	return s.queryNodes(ctx, query, args...)
}

func (s *SQLiteDriver) FindNodesByName(ctx context.Context, groupID, name string, limit int) ([]*types.EntityNode, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryNodes(ctx, `SELECT `+entityColumns+` FROM entities WHERE group_id = ? AND name_norm = ? ORDER BY uuid LIMIT ?`,
		groupID, utils.NormalizeStringExact(name), limit)
}

func (s *SQLiteDriver) ListNodes(ctx context.Context, groupID string) ([]*types.EntityNode, error) {
	return s.queryNodes(ctx, `SELECT `+entityColumns+` FROM entities WHERE group_id = ? ORDER BY uuid`, groupID)
}

func (s *SQLiteDriver) UpsertEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error { return upsertEdgeSQL(ctx, tx, edge) })
}

func upsertEdgeSQL(ctx context.Context, ex execer, e *types.EntityEdge) error {
	eps, err := marshalField("episodes", e.Episodes)
	if err != nil {
		return fmt.Errorf("upsert edge %s: %w", e.Uuid, err)
	}
	attrs, err := marshalField("attributes", e.Attributes)
	if err != nil {
		return fmt.Errorf("upsert edge %s: %w", e.Uuid, err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO edges (uuid, group_id, source_id, target_id, name, fact, fact_embedding, valid_at, invalid_at, created_at, expired_at, episodes, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			invalid_at = excluded.invalid_at, expired_at = excluded.expired_at,
			episodes = excluded.episodes, attributes = excluded.attributes`,
		e.Uuid, e.GroupID, e.SourceNodeID, e.TargetNodeID, e.Name, e.Fact, utils.EncodeEmbedding(e.FactEmbedding),
		formatTimePtr(e.ValidAt), formatTimePtr(e.InvalidAt), formatTime(e.CreatedAt), formatTimePtr(e.ExpiredAt),
		eps, attrs)
	if err != nil {
		return fmt.Errorf("upsert edge %s: %w", e.Uuid, err)
	}

	if _, err := ex.ExecContext(ctx, `DELETE FROM edges_fts WHERE uuid = ?`, e.Uuid); err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO edges_fts (uuid, group_id, name, fact) VALUES (?, ?, ?, ?)`,
		e.Uuid, e.GroupID, strings.ReplaceAll(e.Name, "_", " "), e.Fact)
	return err
}

const edgeColumns = `uuid, group_id, source_id, target_id, name, fact, fact_embedding, valid_at, invalid_at, created_at, expired_at, episodes, attributes`

func (s *SQLiteDriver) queryEdges(ctx context.Context, query string, args ...any) ([]*types.EntityEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.EntityEdge
	for rows.Next() {
		var (
			e                         types.EntityEdge
			fact                      sql.NullString
			emb                       []byte
			validAt, invalidAt, expAt sql.NullString
			created                   string
			eps, attrs                sql.NullString
		)
		if err := rows.Scan(&e.Uuid, &e.GroupID, &e.SourceNodeID, &e.TargetNodeID, &e.Name, &fact, &emb,
			&validAt, &invalidAt, &created, &expAt, &eps, &attrs); err != nil {
			return nil, err
		}
		e.Fact = fact.String
		if e.FactEmbedding, err = utils.DecodeEmbedding(emb); err != nil {
			return nil, fmt.Errorf("edge %s: %w", e.Uuid, err)
		}
		e.ValidAt = parseTimePtr(validAt)
		e.InvalidAt = parseTimePtr(invalidAt)
		e.ExpiredAt = parseTimePtr(expAt)
		e.CreatedAt = parseTime(created)
		unmarshalNull(eps, &e.Episodes)
		unmarshalNull(attrs, &e.Attributes)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteDriver) GetEdgesByIDs(ctx context.Context, groupID string, ids []string) ([]*types.EntityEdge, error) {
	ids = utils.UniqueStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	args := append(stringArgs(ids), groupID)
	return s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges WHERE uuid IN (`+placeholders(len(ids))+`) AND group_id = ?`, args...)
}

func (s *SQLiteDriver) GetEdgesBetween(ctx context.Context, groupID, a, b string, window *types.TimeWindow) ([]*types.EntityEdge, error) {
	edges, err := s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges
		WHERE group_id = ? AND ((source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?))
		ORDER BY created_at, uuid`, groupID, a, b, b, a)
	if err != nil {
		return nil, err
	}
	return filterWindow(edges, window), nil
}

func (s *SQLiteDriver) ListEdges(ctx context.Context, groupID string, window *types.TimeWindow) ([]*types.EntityEdge, error) {
	edges, err := s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges WHERE group_id = ? ORDER BY created_at, uuid`, groupID)
	if err != nil {
		return nil, err
	}
	return filterWindow(edges, window), nil
}

func (s *SQLiteDriver) UpsertEpisode(ctx context.Context, episode *types.EpisodicNode) error {
	if err := episode.Validate(); err != nil {
		return err
	}
	return upsertEpisodeSQL(ctx, s.db, episode)
}

// Episodes are immutable after commit, so the whole node is stored as one
// JSON document next to the lookup columns.
func upsertEpisodeSQL(ctx context.Context, ex execer, ep *types.EpisodicNode) error {
	body, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO episodes (uuid, group_id, content_hash, reference_time, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET body = excluded.body`,
		ep.Uuid, ep.GroupID, ep.ContentHash, formatTime(ep.ReferenceTime), string(body))
	if err != nil {
		return fmt.Errorf("upsert episode %s: %w", ep.Uuid, err)
	}
	return nil
}

func (s *SQLiteDriver) queryEpisodes(ctx context.Context, query string, args ...any) ([]*types.EpisodicNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.EpisodicNode
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var ep types.EpisodicNode
		if err := json.Unmarshal([]byte(body), &ep); err != nil {
			return nil, fmt.Errorf("decode episode: %w", err)
		}
		out = append(out, &ep)
	}
	return out, rows.Err()
}

func (s *SQLiteDriver) GetEpisode(ctx context.Context, groupID, uuid string) (*types.EpisodicNode, error) {
	eps, err := s.queryEpisodes(ctx, `SELECT body FROM episodes WHERE uuid = ? AND group_id = ?`, uuid, groupID)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, ErrNotFound
	}
	return eps[0], nil
}

func (s *SQLiteDriver) GetEpisodeByHash(ctx context.Context, groupID, hash string) (*types.EpisodicNode, error) {
	eps, err := s.queryEpisodes(ctx, `SELECT body FROM episodes WHERE group_id = ? AND content_hash = ?`, groupID, hash)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, ErrNotFound
	}
	return eps[0], nil
}

func (s *SQLiteDriver) GetRecentEpisodes(ctx context.Context, groupID string, before time.Time, limit int) ([]*types.EpisodicNode, error) {
	eps, err := s.queryEpisodes(ctx, `SELECT body FROM episodes WHERE group_id = ?`, groupID)
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

func (s *SQLiteDriver) VectorSearch(ctx context.Context, embedding []float32, k int, filters *types.SearchFilters) ([]types.ScoredItem, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	groupID := filterGroup(filters)

	var items []types.ScoredItem
	nodes, err := s.ListNodes(ctx, groupID)
	if err != nil {
		return nil, err
	}
	byID := indexNodes(nodes)
	if filters.WantsNodes() {
		for _, n := range nodes {
			if len(n.NameEmbedding) == 0 || !filters.AdmitsNode(n) {
				continue
			}
			items = append(items, types.ScoredItem{Kind: types.KindNode, Node: n, Score: utils.CosineSimilarity(embedding, n.NameEmbedding)})
		}
	}
	if filters.WantsEdges() {
		edges, err := s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges WHERE group_id = ? AND fact_embedding IS NOT NULL`, groupID)
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

func (s *SQLiteDriver) KeywordSearch(ctx context.Context, text string, k int, filters *types.SearchFilters) ([]types.ScoredItem, error) {
	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}
	groupID := filterGroup(filters)

	var items []types.ScoredItem
	if filters.WantsNodes() {
		scores, err := s.ftsScores(ctx, `SELECT uuid, -bm25(entities_fts) FROM entities_fts WHERE entities_fts MATCH ? AND group_id = ?`, match, groupID)
		if err != nil {
			return nil, err
		}
		nodes, err := s.GetNodesByIDs(ctx, groupID, mapKeys(scores))
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if filters.AdmitsNode(n) {
				items = append(items, types.ScoredItem{Kind: types.KindNode, Node: n, Score: scores[n.Uuid]})
			}
		}
	}
	if filters.WantsEdges() {
		scores, err := s.ftsScores(ctx, `SELECT uuid, -bm25(edges_fts) FROM edges_fts WHERE edges_fts MATCH ? AND group_id = ?`, match, groupID)
		if err != nil {
			return nil, err
		}
		edges, err := s.GetEdgesByIDs(ctx, groupID, mapKeys(scores))
		if err != nil {
			return nil, err
		}
		var endpoints nodeIndex
		if filters != nil && len(filters.EntityLabels) > 0 {
			ids := make([]string, 0, 2*len(edges))
			for _, e := range edges {
				ids = append(ids, e.SourceNodeID, e.TargetNodeID)
			}
			nodes, err := s.GetNodesByIDs(ctx, groupID, ids)
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

func (s *SQLiteDriver) ftsScores(ctx context.Context, query string, args ...any) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		scores[id] = score
	}
	return scores, rows.Err()
}

func (s *SQLiteDriver) Traverse(ctx context.Context, seedIDs []string, maxHops int, filters *types.SearchFilters) ([]types.TraversalHit, error) {
	expand := func(ctx context.Context, groupID string, frontier []string) ([]*types.EntityEdge, error) {
		ph := placeholders(len(frontier))
		args := append(stringArgs(frontier), stringArgs(frontier)...)
		query := `SELECT ` + edgeColumns + ` FROM edges WHERE (source_id IN (` + ph + `) OR target_id IN (` + ph + `))`
		if groupID != "" {
			query += ` AND group_id = ?`
			args = append(args, groupID)
		}
		return s.queryEdges(ctx, query, args...)
	}
	return traverse(ctx, seedIDs, maxHops, filters, expand, s.GetNodesByIDs)
}

func (s *SQLiteDriver) ReplaceCommunities(ctx context.Context, groupID string, communities []*types.CommunityNode) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM communities WHERE group_id = ?`, groupID); err != nil {
			return err
		}
		for _, c := range communities {
			members, err := marshalField("member_ids", c.MemberIDs)
			if err != nil {
				return fmt.Errorf("insert community %s: %w", c.Uuid, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO communities (uuid, group_id, name, summary, member_ids, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				c.Uuid, groupID, c.Name, c.Summary, members, formatTime(c.CreatedAt)); err != nil {
				return fmt.Errorf("insert community %s: %w", c.Uuid, err)
			}
		}
		return nil
	})
}

func (s *SQLiteDriver) GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid, group_id, name, summary, member_ids, created_at FROM communities WHERE group_id = ? ORDER BY uuid`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.CommunityNode
	for rows.Next() {
		var c types.CommunityNode
		var name, summary, members sql.NullString
		var created string
		if err := rows.Scan(&c.Uuid, &c.GroupID, &name, &summary, &members, &created); err != nil {
			return nil, err
		}
		c.Name = name.String
		c.Summary = summary.String
		unmarshalNull(members, &c.MemberIDs)
		c.CreatedAt = parseTime(created)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteDriver) WriteBatch(ctx context.Context, batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, n := range batch.Nodes {
			if err := upsertNodeSQL(ctx, tx, n); err != nil {
				return err
			}
		}
		for _, e := range batch.Edges {
			if err := upsertEdgeSQL(ctx, tx, e); err != nil {
				return err
			}
		}
		if batch.Episode != nil {
			return upsertEpisodeSQL(ctx, tx, batch.Episode)
		}
		return nil
	})
}

func (s *SQLiteDriver) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// ftsQuery turns free text into an FTS5 expression matching any token.
func ftsQuery(text string) string {
	tokens := utils.UniqueStrings(utils.Tokenize(text))
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

func filterWindow(edges []*types.EntityEdge, window *types.TimeWindow) []*types.EntityEdge {
	out := edges[:0]
	for _, e := range edges {
		if window.Admits(e) {
			out = append(out, e)
		}
	}
	return out
}

func filterGroup(f *types.SearchFilters) string {
	if f == nil {
		return ""
	}
	return f.GroupID
}

type nodeIndex map[string]*types.EntityNode

func indexNodes(nodes []*types.EntityNode) nodeIndex {
	idx := make(nodeIndex, len(nodes))
	for _, n := range nodes {
		idx[n.Uuid] = n
	}
	return idx
}

func (idx nodeIndex) get(id string) *types.EntityNode { return idx[id] }

func mapKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func unmarshalNull(s sql.NullString, v any) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return
	}
	_ = json.Unmarshal([]byte(s.String), v)
}

var _ GraphDriver = (*SQLiteDriver)(nil)
