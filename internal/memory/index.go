package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a record id does not exist within the
// caller's scope.
var ErrNotFound = errors.New("memory not found")

// sqlTimeFormat is a fixed-width RFC 3339 layout. Timestamps are stored as
// TEXT and compared lexicographically in SQL, so every value must be UTC
// with a full nine fractional digits; RFC3339Nano trims trailing zeros and
// would make "...:00Z" sort after "...:00.5Z" within the same second.
const sqlTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Index is the SQLite side of the memory store. It is the authoritative row
// store: listing, updates and expiry run here, while semantic search runs in
// the vector store.
type Index struct {
	db *sql.DB
}

// NewIndex creates the memories table on a shared database handle.
func NewIndex(db *sql.DB) (*Index, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		client_id  TEXT,
		session_id TEXT,
		type       TEXT NOT NULL,
		importance TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(tenant_id, user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(tenant_id, user_id, session_id);
	CREATE INDEX IF NOT EXISTS idx_memories_expiry ON memories(expires_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrating memories: %w", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) insert(ctx context.Context, rec *Record) error {
	var expiresAt sql.NullString
	if rec.ExpiresAt != nil {
		expiresAt = sql.NullString{String: rec.ExpiresAt.UTC().Format(sqlTimeFormat), Valid: true}
	}
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO memories (id, tenant_id, user_id, client_id, session_id, type, importance, content, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.UserID, nullable(rec.ClientID), nullable(rec.SessionID),
		string(rec.Type), string(rec.Importance), rec.Content, rec.CreatedAt.UTC().Format(sqlTimeFormat), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const recordColumns = `id, tenant_id, user_id, client_id, session_id, type, importance, content, created_at, expires_at`

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var rec Record
	var clientID, sessionID, expiresAt sql.NullString
	var createdAt string
	err := scan(&rec.ID, &rec.TenantID, &rec.UserID, &clientID, &sessionID,
		&rec.Type, &rec.Importance, &rec.Content, &createdAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	rec.ClientID = clientID.String
	rec.SessionID = sessionID.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		rec.ExpiresAt = &t
	}
	return &rec, nil
}

// get returns a record by id restricted to the given tenant and user.
func (x *Index) get(ctx context.Context, tenantID, userID, id string) (*Record, error) {
	row := x.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = ? AND tenant_id = ? AND user_id = ?`,
		id, tenantID, userID)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning memory: %w", err)
	}
	return rec, nil
}

// getMany returns the unexpired records among ids within scope, keyed by id.
func (x *Index) getMany(ctx context.Context, tenantID, userID string, ids []string, now time.Time) (map[string]*Record, error) {
	out := make(map[string]*Record, len(ids))
	for _, id := range ids {
		rec, err := x.get(ctx, tenantID, userID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Expired(now) {
			continue
		}
		out[id] = rec
	}
	return out, nil
}

// list returns unexpired records in scope, most recent first. clientID
// narrows the listing when set.
func (x *Index) list(ctx context.Context, tenantID, userID, clientID string, limit int, now time.Time) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM memories
		WHERE tenant_id = ? AND user_id = ?
		AND (expires_at IS NULL OR expires_at > ?)`
	args := []any{tenantID, userID, now.UTC().Format(sqlTimeFormat)}
	if clientID != "" {
		query += ` AND client_id = ?`
		args = append(args, clientID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// updateContent replaces a record's content within scope.
func (x *Index) updateContent(ctx context.Context, tenantID, userID, id, content string) error {
	res, err := x.db.ExecContext(ctx,
		`UPDATE memories SET content = ? WHERE id = ? AND tenant_id = ? AND user_id = ?`,
		content, id, tenantID, userID)
	if err != nil {
		return fmt.Errorf("updating memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// delete removes a record within scope.
func (x *Index) delete(ctx context.Context, tenantID, userID, id string) error {
	res, err := x.db.ExecContext(ctx,
		`DELETE FROM memories WHERE id = ? AND tenant_id = ? AND user_id = ?`,
		id, tenantID, userID)
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// deleteWhere removes every record matching all of the given column=value
// pairs and returns the deleted ids so the vector side can be mirrored.
func (x *Index) deleteWhere(ctx context.Context, conditions map[string]string) ([]string, error) {
	if len(conditions) == 0 {
		return nil, fmt.Errorf("refusing unfiltered delete")
	}

	where := ""
	var args []any
	for _, col := range []string{"tenant_id", "user_id", "client_id", "session_id"} {
		v, ok := conditions[col]
		if !ok {
			continue
		}
		if where != "" {
			where += " AND "
		}
		where += col + " = ?"
		args = append(args, v)
	}
	if where == "" {
		return nil, fmt.Errorf("no recognized delete conditions")
	}

	rows, err := x.db.QueryContext(ctx, `SELECT id FROM memories WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting memories to delete: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := x.db.ExecContext(ctx, `DELETE FROM memories WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("deleting memories: %w", err)
	}
	return ids, nil
}

// expiredIDs returns ids of records whose lifetime has passed at now.
func (x *Index) expiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC().Format(sqlTimeFormat))
	if err != nil {
		return nil, fmt.Errorf("selecting expired memories: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteIDs removes records by id without scope checks. Purge-only path.
func (x *Index) deleteIDs(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := x.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("purging memory %s: %w", id, err)
		}
	}
	return nil
}
