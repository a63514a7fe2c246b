// Package sqlitevec provides a SQLite-backed vector driver using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/vector"
)

// Driver implements vector.Driver using SQLite with sqlite-vec.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config holds configuration for the SQLite vec driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint
}

// NewDriver creates a new SQLite vector driver backed by sqlite-vec.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if c.Dimensions == 0 {
		return nil, fmt.Errorf("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A pooled :memory: handle would give each connection its own database.
	if c.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	// vec0 virtual tables use integer rowids, so memories carries the
	// mapping from record IDs to rowids along with the filterable columns
	// and the full record payload.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id TEXT NOT NULL,
			scope_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			payload TEXT NOT NULL,
			UNIQUE(scope_hash, record_id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating memories table: %w", err)
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_embeddings USING vec0(embedding float[%d])`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	logger.Info("sqlite-vec vector driver initialized",
		zap.String("db_path", c.DBPath),
		zap.Uint("dimensions", c.Dimensions),
		zap.String("vec_version", vecVersion),
	)

	return &Driver{
		db:     db,
		logger: logger,
	}, nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// tagsColumn stores tags as a delimited string so LIKE can filter on them.
func tagsColumn(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "\x1f" + strings.Join(tags, "\x1f") + "\x1f"
}

// Upsert stores documents with their embeddings and payloads.
func (d *Driver) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		payload, err := json.Marshal(doc.Record)
		if err != nil {
			return fmt.Errorf("marshaling record %s: %w", doc.ID, err)
		}

		embBlob := serializeFloat32(doc.Embedding)

		var existingRowID int64
		err = tx.QueryRowContext(ctx,
			`SELECT rowid FROM memories WHERE scope_hash = ? AND record_id = ?`,
			doc.ScopeHash, doc.ID,
		).Scan(&existingRowID)

		switch err {
		case nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE memories SET status = ?, category = ?, confidence = ?, tags = ?, created_at = ?, payload = ? WHERE rowid = ?`,
				string(doc.Record.Status), string(doc.Record.Category), doc.Record.Confidence,
				tagsColumn(doc.Record.Tags), doc.Record.CreatedAt.Unix(), string(payload), existingRowID,
			); err != nil {
				return fmt.Errorf("updating record %s: %w", doc.ID, err)
			}

			// vec0 does not support UPDATE
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM memory_embeddings WHERE rowid = ?`, existingRowID,
			); err != nil {
				return fmt.Errorf("deleting old embedding for %s: %w", doc.ID, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memory_embeddings(rowid, embedding) VALUES (?, ?)`,
				existingRowID, embBlob,
			); err != nil {
				return fmt.Errorf("re-inserting embedding for %s: %w", doc.ID, err)
			}
		case sql.ErrNoRows:
			result, err := tx.ExecContext(ctx,
				`INSERT INTO memories(record_id, scope_hash, status, category, confidence, tags, created_at, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				doc.ID, doc.ScopeHash, string(doc.Record.Status), string(doc.Record.Category),
				doc.Record.Confidence, tagsColumn(doc.Record.Tags), doc.Record.CreatedAt.Unix(), string(payload),
			)
			if err != nil {
				return fmt.Errorf("inserting record %s: %w", doc.ID, err)
			}

			rowID, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("getting rowid for %s: %w", doc.ID, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memory_embeddings(rowid, embedding) VALUES (?, ?)`,
				rowID, embBlob,
			); err != nil {
				return fmt.Errorf("inserting embedding for %s: %w", doc.ID, err)
			}
		default:
			return fmt.Errorf("checking for existing record %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("upserted documents to sqlite-vec", zap.Int("count", len(docs)))

	return nil
}

// UpdatePayload replaces the stored record payload without re-embedding.
func (d *Driver) UpdatePayload(ctx context.Context, scopeHash, id string, rec *record.MemoryRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record %s: %w", id, err)
	}

	res, err := d.db.ExecContext(ctx,
		`UPDATE memories SET status = ?, category = ?, confidence = ?, tags = ?, payload = ? WHERE scope_hash = ? AND record_id = ?`,
		string(rec.Status), string(rec.Category), rec.Confidence, tagsColumn(rec.Tags), string(payload),
		scopeHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating payload for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return vector.ErrNotFound
	}

	return nil
}

// filterClause renders the port filter into SQL fragments.
func filterClause(scopeHash string, f vector.Filter) (string, []any) {
	clauses := []string{"m.scope_hash = ?"}
	args := []any{scopeHash}

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, fmt.Sprintf("m.status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if f.Category != "" {
		clauses = append(clauses, "m.category = ?")
		args = append(args, string(f.Category))
	}
	if f.MinConfidence > 0 {
		clauses = append(clauses, "m.confidence >= ?")
		args = append(args, f.MinConfidence)
	}
	if f.Tag != "" {
		clauses = append(clauses, "m.tags LIKE ?")
		args = append(args, "%\x1f"+f.Tag+"\x1f%")
	}

	return strings.Join(clauses, " AND "), args
}

// Query finds the topK most similar documents within a scope. The KNN pass
// over-fetches so that scope and filter predicates applied after the join
// still leave enough candidates.
func (d *Driver) Query(ctx context.Context, scopeHash string, embedding []float32, topK int, f vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	where, whereArgs := filterClause(scopeHash, f)
	args := []any{serializeFloat32(embedding), topK * 8}
	args = append(args, whereArgs...)
	args = append(args, topK)

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.payload, ve.distance
		FROM memory_embeddings ve
		INNER JOIN memories m ON m.rowid = ve.rowid
		WHERE ve.embedding MATCH ?
			AND ve.k = ?
			AND %s
		ORDER BY ve.distance
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var payload string
		var distance float64
		if err := rows.Scan(&payload, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}

		var rec record.MemoryRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling record payload: %w", err)
		}

		results = append(results, vector.QueryResult{
			Document: vector.Document{
				ID:        rec.ID,
				ScopeHash: scopeHash,
				Record:    &rec,
			},
			// Convert distance to similarity score: lower distance = higher similarity
			Score: float32(1.0 / (1.0 + distance)),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	return results, nil
}

// Get retrieves documents by their IDs within a scope.
func (d *Driver) Get(ctx context.Context, scopeHash string, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := []any{scopeHash}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT payload FROM memories WHERE scope_hash = ? AND record_id IN (%s)`,
		strings.Join(placeholders, ", "),
	), args...)
	if err != nil {
		return nil, fmt.Errorf("getting records: %w", err)
	}
	defer rows.Close()

	var docs []vector.Document
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}

		var rec record.MemoryRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling record payload: %w", err)
		}

		docs = append(docs, vector.Document{
			ID:        rec.ID,
			ScopeHash: scopeHash,
			Record:    &rec,
		})
	}

	return docs, rows.Err()
}

// List pages through a scope newest first. The cursor is one above the
// rowid of the first record of the next page; a page reads rows below it.
func (d *Driver) List(ctx context.Context, scopeHash string, cursor string, limit int, f vector.Filter) ([]vector.Document, string, error) {
	if limit <= 0 {
		limit = 100
	}

	where, args := filterClause(scopeHash, f)
	query := fmt.Sprintf(`SELECT m.rowid, m.payload FROM memories m WHERE %s`, where)
	if cursor != "" {
		query += " AND m.rowid < ?"
		args = append(args, cursor)
	}
	query += " ORDER BY m.rowid DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var docs []vector.Document
	var lastRowID int64
	for rows.Next() {
		var rowID int64
		var payload string
		if err := rows.Scan(&rowID, &payload); err != nil {
			return nil, "", fmt.Errorf("scanning record: %w", err)
		}

		var rec record.MemoryRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, "", fmt.Errorf("unmarshaling record payload: %w", err)
		}

		docs = append(docs, vector.Document{
			ID:        rec.ID,
			ScopeHash: scopeHash,
			Record:    &rec,
		})
		lastRowID = rowID
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(docs) > limit {
		docs = docs[:limit]
		next = fmt.Sprintf("%d", lastRowID+1)
	}

	return docs, next, nil
}

// Delete removes documents by their IDs within a scope.
func (d *Driver) Delete(ctx context.Context, scopeHash string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		var rowID int64
		err := tx.QueryRowContext(ctx,
			`SELECT rowid FROM memories WHERE scope_hash = ? AND record_id = ?`,
			scopeHash, id,
		).Scan(&rowID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("finding record %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("deleting embedding for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("deleting record %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}
