package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

// SQLite wraps the database connections.
type SQLite struct {
	conn      *sql.DB // read pool
	writeConn *sql.DB // single writer
}

// pragmas are passed through the DSN so every pooled connection gets them.
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		path += sep + "_pragma=" + p
		sep = "&"
	}
	return path
}

func openPool(path string, maxOpen int) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxOpen)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// OpenSQLite opens the database at path and initializes the schema if needed.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := openPool(path, 8)
	if err != nil {
		return nil, err
	}
	conn.SetConnMaxLifetime(5 * time.Minute)

	writeConn, err := openPool(path, 1)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetConnMaxLifetime(0)

	db := &SQLite{conn: conn, writeConn: writeConn}
	if err := db.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func (db *SQLite) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

func (db *SQLite) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	thread_key TEXT,
	from_id TEXT NOT NULL,
	to_id TEXT,
	text TEXT,
	media_kind TEXT,
	media_key TEXT,
	media_url TEXT,
	created_at INTEGER NOT NULL,
	deleted_at INTEGER,
	deleted_by TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_kind ON messages(kind, id);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_key, id);

CREATE TABLE IF NOT EXISTS dm_threads (
	thread_key TEXT PRIMARY KEY,
	user_a TEXT NOT NULL,
	user_b TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dm_threads_a ON dm_threads(user_a);
CREATE INDEX IF NOT EXISTS idx_dm_threads_b ON dm_threads(user_b);

CREATE TABLE IF NOT EXISTS banned_ips (
	ip TEXT PRIMARY KEY,
	reason TEXT,
	banned_by TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS moderation_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action TEXT NOT NULL,
	moderator_id TEXT,
	target_id TEXT,
	target_ip TEXT,
	message_id INTEGER,
	reason TEXT,
	created_at INTEGER NOT NULL
);
`
	_, err := db.writeConn.Exec(schema)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (db *SQLite) insert(ctx context.Context, m domain.Message) (core.Inserted, error) {
	created := nowOr(m.CreatedAt)
	var kind, key, url sql.NullString
	if m.Media != nil {
		kind, key, url = nullString(m.Media.Kind), nullString(m.Media.Key), nullString(m.Media.URL)
	}
	res, err := db.writeConn.ExecContext(ctx, `
		INSERT INTO messages (kind, thread_key, from_id, to_id, text, media_kind, media_key, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(m.Scope), nullString(string(m.Thread)), string(m.From), nullString(string(m.To)),
		nullString(m.Text), kind, key, url, millis(created))
	if err != nil {
		return core.Inserted{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Inserted{}, err
	}
	return core.Inserted{ID: domain.MessageID(id), CreatedAt: created}, nil
}

func (db *SQLite) InsertPublic(ctx context.Context, m domain.Message) (core.Inserted, error) {
	m.Scope = domain.ScopePublic
	m.To, m.Thread = "", ""
	return db.insert(ctx, m)
}

func (db *SQLite) InsertDirect(ctx context.Context, m domain.Message) (core.Inserted, error) {
	m.Scope = domain.ScopeDirect
	if m.Thread == "" {
		m.Thread = domain.NewThreadKey(m.From, m.To)
	}
	return db.insert(ctx, m)
}

func (db *SQLite) QueryPublicHistory(ctx context.Context, limit int, before domain.MessageID) ([]domain.Message, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, from_id, text, media_kind, media_key, media_url, created_at
		FROM messages
		WHERE kind = 'public' AND deleted_at IS NULL AND (? = 0 OR id < ?)
		ORDER BY id DESC
		LIMIT ?
	`, int64(before), int64(before), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var (
			id                   int64
			from                 string
			text, mk, mkey, murl sql.NullString
			created              int64
		)
		if err := rows.Scan(&id, &from, &text, &mk, &mkey, &murl, &created); err != nil {
			return nil, err
		}
		m := domain.Message{
			ID:        domain.MessageID(id),
			Scope:     domain.ScopePublic,
			From:      domain.ClientID(from),
			Text:      text.String,
			CreatedAt: fromMillis(created),
		}
		if mkey.Valid {
			m.Media = &domain.MediaRef{Kind: mk.String, Key: mkey.String, URL: murl.String}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SoftDelete is idempotent for messages already deleted.
func (db *SQLite) SoftDelete(ctx context.Context, id domain.MessageID, by domain.ClientID) error {
	res, err := db.writeConn.ExecContext(ctx, `
		UPDATE messages SET deleted_at = ?, deleted_by = ?
		WHERE id = ? AND deleted_at IS NULL
	`, millis(time.Now()), string(by), int64(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = db.writeConn.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, int64(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound
	}
	return err
}

func (db *SQLite) UpsertThread(ctx context.Context, t domain.Thread) error {
	t, err := t.Normalized()
	if err != nil {
		return err
	}
	_, err = db.writeConn.ExecContext(ctx, `
		INSERT INTO dm_threads (thread_key, user_a, user_b) VALUES (?, ?, ?)
		ON CONFLICT(thread_key) DO NOTHING
	`, string(t.Key), string(t.A), string(t.B))
	return err
}

func (db *SQLite) ListThreads(ctx context.Context, id domain.ClientID) ([]domain.Thread, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT thread_key, user_a, user_b FROM dm_threads
		WHERE user_a = ? OR user_b = ?
		ORDER BY thread_key
	`, string(id), string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Thread
	for rows.Next() {
		var key, a, b string
		if err := rows.Scan(&key, &a, &b); err != nil {
			return nil, err
		}
		out = append(out, domain.Thread{Key: domain.ThreadKey(key), A: domain.ClientID(a), B: domain.ClientID(b)})
	}
	return out, rows.Err()
}

func (db *SQLite) ListBans(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT ip FROM banned_ips`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		out = append(out, ip)
	}
	return out, rows.Err()
}

func (db *SQLite) UpsertBan(ctx context.Context, b domain.BanRecord) error {
	_, err := db.writeConn.ExecContext(ctx, `
		INSERT INTO banned_ips (ip, reason, banned_by, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET
			reason = excluded.reason,
			banned_by = excluded.banned_by,
			created_at = excluded.created_at
	`, b.Address, nullString(b.Reason), nullString(string(b.IssuedBy)), millis(nowOr(b.IssuedAt)))
	return err
}

func (db *SQLite) DeleteBan(ctx context.Context, address string) error {
	_, err := db.writeConn.ExecContext(ctx, `DELETE FROM banned_ips WHERE ip = ?`, address)
	return err
}

func (db *SQLite) AppendAudit(ctx context.Context, e domain.ModerationLogEntry) error {
	var msgID sql.NullInt64
	if e.MessageID != 0 {
		msgID = sql.NullInt64{Int64: int64(e.MessageID), Valid: true}
	}
	_, err := db.writeConn.ExecContext(ctx, `
		INSERT INTO moderation_log (action, moderator_id, target_id, target_ip, message_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(e.Action), nullString(string(e.Actor)), nullString(string(e.TargetID)),
		nullString(e.TargetAddress), msgID, nullString(e.Reason), millis(nowOr(e.At)))
	return err
}

// AuditLog returns the audit entries, oldest first. Used by operators and tests.
func (db *SQLite) AuditLog(ctx context.Context) ([]domain.ModerationLogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT action, moderator_id, target_id, target_ip, message_id, reason, created_at
		FROM moderation_log ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ModerationLogEntry
	for rows.Next() {
		var (
			action                    string
			actor, target, ip, reason sql.NullString
			msgID                     sql.NullInt64
			created                   int64
		)
		if err := rows.Scan(&action, &actor, &target, &ip, &msgID, &reason, &created); err != nil {
			return nil, err
		}
		out = append(out, domain.ModerationLogEntry{
			Action:        domain.ModerationAction(action),
			Actor:         domain.ClientID(actor.String),
			TargetID:      domain.ClientID(target.String),
			TargetAddress: ip.String,
			MessageID:     domain.MessageID(msgID.Int64),
			Reason:        reason.String,
			At:            fromMillis(created),
		})
	}
	return out, rows.Err()
}
