// Package sqlite is the SQLite implementation of store.Store, for serve
// deployments where the ticket backlog outlives any single process.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buildloop-io/buildloop/internal/store"
	"github.com/buildloop-io/buildloop/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite implementation of store.Store.
type Store struct {
	DB *sql.DB

	stmtUpdateStatus *sql.Stmt
	stmtPending      *sql.Stmt
}

// Open opens (or creates) the SQLite store at path and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// Pragmas go in the DSN so every pooled connection gets them, not just
	// the one that happened to run an init statement. WAL yields much better
	// concurrency for read-heavy consumers.
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=temp_store(MEMORY)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{DB: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	pairs := []struct {
		dest **sql.Stmt
		q    string
	}{
		{&s.stmtUpdateStatus, `UPDATE tickets SET status=?, error=? WHERE id=?`},
		{&s.stmtPending, `SELECT id, title, description, type, estimated_effort, status, error, category FROM tickets WHERE status IN ('todo','error') ORDER BY position`},
	}
	for _, p := range pairs {
		st, err := s.DB.PrepareContext(ctx, p.q)
		if err != nil {
			return err
		}
		*p.dest = st
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}

	applied := make(map[int]bool)
	rows, err := s.DB.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	type migration struct {
		version int
		name    string
		sql     string
	}
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		v, err := strconv.Atoi(strings.SplitN(strings.TrimSuffix(name, ".sql"), "_", 2)[0])
		if err != nil {
			return fmt.Errorf("invalid migration filename: %s", name)
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{version: v, name: name, sql: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })

	for _, m := range migs {
		if applied[m.version] {
			continue
		}
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.version, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (models.TicketFile, error) {
	f := models.TicketFile{}
	var genStr string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='generated_at'`).Scan(&genStr)
	switch {
	case err == nil:
		if ts, perr := time.Parse(time.RFC3339Nano, genStr); perr == nil {
			f.GeneratedAt = ts
		}
	case errors.Is(err, sql.ErrNoRows):
		f.GeneratedAt = time.Now().UTC()
	default:
		return models.TicketFile{}, err
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT id, title, description, type, estimated_effort, status, error, category FROM tickets ORDER BY position`)
	if err != nil {
		return models.TicketFile{}, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return models.TicketFile{}, err
		}
		f.Tickets = append(f.Tickets, t)
	}
	if err := rows.Err(); err != nil {
		return models.TicketFile{}, err
	}
	f.TotalTickets = len(f.Tickets)
	return f, nil
}

func (s *Store) Save(ctx context.Context, f models.TicketFile) error {
	if f.GeneratedAt.IsZero() {
		f.GeneratedAt = time.Now().UTC()
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tickets`); err != nil {
		return err
	}
	for i, t := range f.Tickets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tickets(id, title, description, type, estimated_effort, status, error, category, position) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.Description, t.Type, t.EstimatedEffort, t.Status, t.Error, t.Category, i); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('generated_at', ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		f.GeneratedAt.Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	if status != models.StatusError {
		errMsg = ""
	}
	res, err := s.stmtUpdateStatus.ExecContext(ctx, status, errMsg, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Pending(ctx context.Context) ([]models.Ticket, error) {
	rows, err := s.stmtPending.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ResetAll(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tickets SET status='todo', error=''`)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	for _, st := range []*sql.Stmt{s.stmtUpdateStatus, s.stmtPending} {
		if st != nil {
			_ = st.Close()
		}
	}
	return s.DB.Close()
}

func scanTicket(rows *sql.Rows) (models.Ticket, error) {
	var t models.Ticket
	err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Type, &t.EstimatedEffort, &t.Status, &t.Error, &t.Category)
	return t, err
}
