// Package postgres is the PostgreSQL implementation of store.Store, for
// shared serve deployments. Selected with --db postgres or DATABASE_URL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildloop-io/buildloop/internal/store"
	"github.com/buildloop-io/buildloop/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	Pool *pgxpool.Pool
}

// Open opens a PostgreSQL connection pool and runs migrations. dsn may be
// empty to use the DATABASE_URL env var.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Store{Pool: pool}
	if err := s.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at BIGINT NOT NULL)`); err != nil {
		return err
	}
	applied := make(map[int]bool)
	rows, err := s.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

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
			continue
		}
		if applied[v] {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{version: v, name: name, sql: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })

	for _, m := range migs {
		tx, err := s.Pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2)`, m.version, time.Now().Unix()); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (models.TicketFile, error) {
	f := models.TicketFile{}
	var genStr string
	err := s.Pool.QueryRow(ctx, `SELECT value FROM meta WHERE key='generated_at'`).Scan(&genStr)
	switch {
	case err == nil:
		if ts, perr := time.Parse(time.RFC3339Nano, genStr); perr == nil {
			f.GeneratedAt = ts
		}
	case errors.Is(err, pgx.ErrNoRows):
		f.GeneratedAt = time.Now().UTC()
	default:
		return models.TicketFile{}, err
	}

	rows, err := s.Pool.Query(ctx, `SELECT id, title, description, type, estimated_effort, status, error, category FROM tickets ORDER BY position`)
	if err != nil {
		return models.TicketFile{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Type, &t.EstimatedEffort, &t.Status, &t.Error, &t.Category); err != nil {
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
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM tickets`); err != nil {
		return err
	}
	for i, t := range f.Tickets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO tickets(id, title, description, type, estimated_effort, status, error, category, position) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			t.ID, t.Title, t.Description, t.Type, t.EstimatedEffort, t.Status, t.Error, t.Category, i); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO meta(key, value) VALUES('generated_at', $1) ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value`,
		f.GeneratedAt.Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	if status != models.StatusError {
		errMsg = ""
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE tickets SET status=$1, error=$2 WHERE id=$3`, status, errMsg, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Pending(ctx context.Context) ([]models.Ticket, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, title, description, type, estimated_effort, status, error, category FROM tickets WHERE status IN ('todo','error') ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Type, &t.EstimatedEffort, &t.Status, &t.Error, &t.Category); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ResetAll(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tickets SET status='todo', error=''`)
	return err
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	s.Pool.Close()
	return nil
}
