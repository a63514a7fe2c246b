// Package sqldriver implements graph.Driver on database/sql so the SQLite
// and PostgreSQL graph drivers share one implementation. Dialects differ
// only in schema DDL and placeholder style.
package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/record"
)

// Dialect selects DDL and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Driver implements graph.Driver over a database/sql handle.
type Driver struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scope_hash TEXT NOT NULL,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	UNIQUE(scope_hash, name_key)
);
CREATE TABLE IF NOT EXISTS mentions (
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	record_id TEXT NOT NULL,
	UNIQUE(entity_id, record_id)
);
CREATE TABLE IF NOT EXISTS relations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scope_hash TEXT NOT NULL,
	src_id INTEGER NOT NULL REFERENCES entities(id),
	rel_type TEXT NOT NULL,
	dst_id INTEGER NOT NULL REFERENCES entities(id),
	record_id TEXT NOT NULL,
	UNIQUE(scope_hash, src_id, rel_type, dst_id, record_id)
);
CREATE INDEX IF NOT EXISTS idx_mentions_record ON mentions(record_id);
CREATE INDEX IF NOT EXISTS idx_relations_record ON relations(record_id);
CREATE INDEX IF NOT EXISTS idx_relations_src ON relations(src_id);
CREATE INDEX IF NOT EXISTS idx_relations_dst ON relations(dst_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id BIGSERIAL PRIMARY KEY,
	scope_hash TEXT NOT NULL,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	UNIQUE(scope_hash, name_key)
);
CREATE TABLE IF NOT EXISTS mentions (
	entity_id BIGINT NOT NULL REFERENCES entities(id),
	record_id TEXT NOT NULL,
	UNIQUE(entity_id, record_id)
);
CREATE TABLE IF NOT EXISTS relations (
	id BIGSERIAL PRIMARY KEY,
	scope_hash TEXT NOT NULL,
	src_id BIGINT NOT NULL REFERENCES entities(id),
	rel_type TEXT NOT NULL,
	dst_id BIGINT NOT NULL REFERENCES entities(id),
	record_id TEXT NOT NULL,
	UNIQUE(scope_hash, src_id, rel_type, dst_id, record_id)
);
CREATE INDEX IF NOT EXISTS idx_mentions_record ON mentions(record_id);
CREATE INDEX IF NOT EXISTS idx_relations_record ON relations(record_id);
CREATE INDEX IF NOT EXISTS idx_relations_src ON relations(src_id);
CREATE INDEX IF NOT EXISTS idx_relations_dst ON relations(dst_id);
`

// New wraps an open database handle, applies the schema, and returns the
// shared driver. The caller owns opening the right database/sql driver.
func New(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.Logger) (*Driver, error) {
	schema := sqliteSchema
	if dialect == DialectPostgres {
		schema = postgresSchema
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating graph schema: %w", err)
	}

	return &Driver{db: db, dialect: dialect, logger: logger}, nil
}

// q rebinds ?-style placeholders to $n for postgres.
func (d *Driver) q(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// mergeEntityTx upserts an entity and returns its row ID.
func (d *Driver) mergeEntityTx(ctx context.Context, tx *sql.Tx, scopeHash, name string) (int64, error) {
	k := nameKey(name)

	if _, err := tx.ExecContext(ctx, d.q(
		`INSERT INTO entities(scope_hash, name, name_key) VALUES (?, ?, ?) ON CONFLICT(scope_hash, name_key) DO NOTHING`),
		scopeHash, strings.TrimSpace(name), k,
	); err != nil {
		return 0, fmt.Errorf("merging entity %q: %w", name, err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, d.q(
		`SELECT id FROM entities WHERE scope_hash = ? AND name_key = ?`),
		scopeHash, k,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolving entity %q: %w", name, err)
	}

	return id, nil
}

// MergeEntity ensures an entity node exists in the scope.
func (d *Driver) MergeEntity(ctx context.Context, scopeHash, name string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrConnection, err)
	}
	defer tx.Rollback()

	if _, err := d.mergeEntityTx(ctx, tx, scopeHash, name); err != nil {
		return err
	}

	return tx.Commit()
}

// MergeMention links a record to an entity it mentions.
func (d *Driver) MergeMention(ctx context.Context, scopeHash, entity, recordID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrConnection, err)
	}
	defer tx.Rollback()

	id, err := d.mergeEntityTx(ctx, tx, scopeHash, entity)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, d.q(
		`INSERT INTO mentions(entity_id, record_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		id, recordID,
	); err != nil {
		return fmt.Errorf("merging mention: %w", err)
	}

	return tx.Commit()
}

// MergeRelation ensures a typed edge exists between two entities.
func (d *Driver) MergeRelation(ctx context.Context, scopeHash string, rel record.Relation, recordID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrConnection, err)
	}
	defer tx.Rollback()

	srcID, err := d.mergeEntityTx(ctx, tx, scopeHash, rel.Source)
	if err != nil {
		return err
	}
	dstID, err := d.mergeEntityTx(ctx, tx, scopeHash, rel.Target)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, d.q(
		`INSERT INTO relations(scope_hash, src_id, rel_type, dst_id, record_id) VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`),
		scopeHash, srcID, rel.Relation, dstID, recordID,
	); err != nil {
		return fmt.Errorf("merging relation: %w", err)
	}

	return tx.Commit()
}

// DetachRecord removes all mentions and relations owned by a record.
func (d *Driver) DetachRecord(ctx context.Context, scopeHash, recordID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrConnection, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, d.q(
		`DELETE FROM mentions WHERE record_id = ? AND entity_id IN (SELECT id FROM entities WHERE scope_hash = ?)`),
		recordID, scopeHash,
	); err != nil {
		return fmt.Errorf("detaching mentions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, d.q(
		`DELETE FROM relations WHERE scope_hash = ? AND record_id = ?`),
		scopeHash, recordID,
	); err != nil {
		return fmt.Errorf("detaching relations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	d.logger.Debug("detached record from graph",
		zap.String("record_id", recordID),
		zap.String("scope", scopeHash),
	)

	return nil
}

// Search matches terms against entity names and scores records by the
// fraction of terms matched.
func (d *Driver) Search(ctx context.Context, scopeHash string, terms []string, topK int) ([]graph.Result, error) {
	if topK <= 0 {
		topK = 10
	}
	if len(terms) == 0 {
		return nil, nil
	}

	matched := make(map[string]int)
	for _, term := range terms {
		rows, err := d.db.QueryContext(ctx, d.q(`
			SELECT DISTINCT m.record_id
			FROM entities e
			INNER JOIN mentions m ON m.entity_id = e.id
			WHERE e.scope_hash = ? AND e.name_key LIKE ?
		`), scopeHash, "%"+nameKey(term)+"%")
		if err != nil {
			return nil, fmt.Errorf("searching term %q: %w", term, err)
		}

		for rows.Next() {
			var rec string
			if err := rows.Scan(&rec); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning search result: %w", err)
			}
			matched[rec]++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	results := make([]graph.Result, 0, len(matched))
	for rec, hits := range matched {
		results = append(results, graph.Result{
			RecordID: rec,
			Score:    float32(hits) / float32(len(terms)),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].RecordID < results[j].RecordID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Neighborhood walks relations outward from an entity, one SQL pass per
// hop, and collects the records attached to every visited entity.
func (d *Driver) Neighborhood(ctx context.Context, scopeHash, entity string, maxHops int) ([]graph.Neighbor, error) {
	if maxHops <= 0 {
		maxHops = 2
	}

	var startID int64
	err := d.db.QueryRowContext(ctx, d.q(
		`SELECT id FROM entities WHERE scope_hash = ? AND name_key = ?`),
		scopeHash, nameKey(entity),
	).Scan(&startID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving entity %q: %w", entity, err)
	}

	visited := map[int64]int{startID: 0}
	frontier := []int64{startID}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		placeholders := strings.Repeat("?, ", len(frontier))
		placeholders = placeholders[:len(placeholders)-2]

		args := make([]any, 0, 2*len(frontier)+1)
		args = append(args, scopeHash)
		for _, id := range frontier {
			args = append(args, id)
		}
		for _, id := range frontier {
			args = append(args, id)
		}

		rows, err := d.db.QueryContext(ctx, d.q(fmt.Sprintf(`
			SELECT src_id, dst_id FROM relations
			WHERE scope_hash = ? AND (src_id IN (%s) OR dst_id IN (%s))
		`, placeholders, placeholders)), args...)
		if err != nil {
			return nil, fmt.Errorf("walking hop %d: %w", hop, err)
		}

		var next []int64
		for rows.Next() {
			var src, dst int64
			if err := rows.Scan(&src, &dst); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning edge: %w", err)
			}
			for _, id := range []int64{src, dst} {
				if _, seen := visited[id]; !seen {
					visited[id] = hop
					next = append(next, id)
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		frontier = next
	}

	recordHops := make(map[string]int)
	for entityID, hop := range visited {
		rows, err := d.db.QueryContext(ctx, d.q(
			`SELECT record_id FROM mentions WHERE entity_id = ?`), entityID)
		if err != nil {
			return nil, fmt.Errorf("loading mentions: %w", err)
		}
		for rows.Next() {
			var rec string
			if err := rows.Scan(&rec); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning mention: %w", err)
			}
			if existing, ok := recordHops[rec]; !ok || hop < existing {
				recordHops[rec] = hop
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	neighbors := make([]graph.Neighbor, 0, len(recordHops))
	for rec, hop := range recordHops {
		neighbors = append(neighbors, graph.Neighbor{RecordID: rec, Hops: hop})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Hops != neighbors[j].Hops {
			return neighbors[i].Hops < neighbors[j].Hops
		}
		return neighbors[i].RecordID < neighbors[j].RecordID
	})

	return neighbors, nil
}

// EntityRelationships summarizes an entity's graph position.
func (d *Driver) EntityRelationships(ctx context.Context, scopeHash, entity string) (*graph.EntityRelationships, error) {
	var id int64
	var canonical string
	err := d.db.QueryRowContext(ctx, d.q(
		`SELECT id, name FROM entities WHERE scope_hash = ? AND name_key = ?`),
		scopeHash, nameKey(entity),
	).Scan(&id, &canonical)
	if err == sql.ErrNoRows {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving entity %q: %w", entity, err)
	}

	var mentions int
	if err := d.db.QueryRowContext(ctx, d.q(
		`SELECT COUNT(*) FROM mentions WHERE entity_id = ?`), id,
	).Scan(&mentions); err != nil {
		return nil, fmt.Errorf("counting mentions: %w", err)
	}

	related := make(map[string]int)
	typeSet := make(map[string]bool)

	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT e.name, r.rel_type
		FROM relations r
		INNER JOIN entities e ON e.id = CASE WHEN r.src_id = ? THEN r.dst_id ELSE r.src_id END
		WHERE r.scope_hash = ? AND (r.src_id = ? OR r.dst_id = ?)
	`), id, scopeHash, id, id)
	if err != nil {
		return nil, fmt.Errorf("loading relations: %w", err)
	}
	for rows.Next() {
		var name, relType string
		if err := rows.Scan(&name, &relType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		related[name]++
		typeSet[relType] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Co-mentions: entities that share a record with this one.
	rows, err = d.db.QueryContext(ctx, d.q(`
		SELECT e.name, COUNT(*)
		FROM mentions mine
		INNER JOIN mentions theirs ON theirs.record_id = mine.record_id AND theirs.entity_id != mine.entity_id
		INNER JOIN entities e ON e.id = theirs.entity_id
		WHERE mine.entity_id = ?
		GROUP BY e.name
	`), id)
	if err != nil {
		return nil, fmt.Errorf("loading co-mentions: %w", err)
	}
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning co-mention: %w", err)
		}
		related[name] += count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	return &graph.EntityRelationships{
		Entity:             canonical,
		DirectMentions:     mentions,
		RelatedEntities:    related,
		RelationshipTypes:  types,
		ConnectionStrength: float64(mentions) / float64(mentions+5),
	}, nil
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}
