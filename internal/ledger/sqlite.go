package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultSQLiteTable = "seen_listings"

// SQLiteLedger stores identities in a single-connection SQLite database.
// Writes are durable per Mark, so Flush is a no-op. The cap is enforced by
// deleting the oldest rowids, which preserves insertion order across
// restarts without keeping anything in process memory.
type SQLiteLedger struct {
	db         *sql.DB
	table      string
	tableIdent string
	maxEntries int
}

func NewSQLiteLedger(dsn string, table string, maxEntries int) (*SQLiteLedger, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if table == "" {
		table = defaultSQLiteTable
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	tableIdent, err := quoteSQLiteIdentifier(table)
	if err != nil {
		return nil, err
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	l := &SQLiteLedger{
		db:         db,
		table:      table,
		tableIdent: tableIdent,
		maxEntries: maxEntries,
	}
	if err := l.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) Seen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var one int
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", l.tableIdent)
	err := l.db.QueryRowContext(ctx, query, id).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *SQLiteLedger) Mark(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := l.db.ExecContext(
		ctx,
		fmt.Sprintf("INSERT INTO %s (id, seen_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING", l.tableIdent),
		id,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return l.enforceCap(ctx)
}

func (l *SQLiteLedger) enforceCap(ctx context.Context) error {
	_, err := l.db.ExecContext(
		ctx,
		fmt.Sprintf("DELETE FROM %s WHERE rowid NOT IN (SELECT rowid FROM %s ORDER BY rowid DESC LIMIT ?)", l.tableIdent, l.tableIdent),
		l.maxEntries,
	)
	return err
}

// Flush is a no-op: every Mark is already durable.
func (l *SQLiteLedger) Flush(_ context.Context) error {
	return nil
}

func (l *SQLiteLedger) Size(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", l.tableIdent)
	if err := l.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLiteLedger) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		seen_at TIMESTAMP NOT NULL
	)`, l.tableIdent)
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create sqlite table: %w", err)
	}
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_seen_at_idx ON %s (seen_at)", l.table, l.tableIdent)
	if _, err := l.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create sqlite index: %w", err)
	}
	return nil
}

func ensureSQLiteDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") {
		dsn = strings.TrimPrefix(dsn, "file:")
		if idx := strings.IndexRune(dsn, '?'); idx >= 0 {
			dsn = dsn[:idx]
		}
	}
	if dsn == "" || dsn == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var sqliteIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteSQLiteIdentifier(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("sqlite table name is required")
	}
	if !sqliteIdentifierPattern.MatchString(identifier) {
		return "", fmt.Errorf("sqlite table name %q must match %s", identifier, sqliteIdentifierPattern.String())
	}
	return `"` + identifier + `"`, nil
}
