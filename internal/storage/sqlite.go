package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vettalaw/backend/internal/model/chat"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists turns in a local SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	mu    sync.Mutex // serializes appends so timestamp order matches insertion order
	clock *clock
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteDSNForFile builds a DSN with WAL journaling and a busy timeout.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

// NewSQLiteStore opens dsn and applies pending migrations.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}

	s := &SQLiteStore{db: db, clock: newClock(nil)}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.restoreClock(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "sqlite store: migrations fs")
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations)
	if err != nil {
		return errors.Wrap(err, "sqlite store: goose provider")
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "sqlite store: migrate")
	}
	for _, r := range results {
		log.Debug().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("applied sqlite migration")
	}
	return nil
}

func (s *SQLiteStore) restoreClock(ctx context.Context) error {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(timestamp_ns) FROM chat_history`).Scan(&last); err != nil {
		return errors.Wrap(err, "sqlite store: read last timestamp")
	}
	if last.Valid {
		s.clock.observe(time.Unix(0, last.Int64))
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, role chat.Role, content string) (chat.Turn, error) {
	if err := validateTurn(role, content); err != nil {
		return chat.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turn := chat.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: s.clock.next(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history(id, role, content, timestamp_ns) VALUES(?,?,?,?)`,
		turn.ID, string(turn.Role), turn.Content, turn.Timestamp.UnixNano(),
	)
	if err != nil {
		return chat.Turn{}, wrapErr("append", err, "insert turn")
	}
	return turn, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp_ns FROM chat_history ORDER BY timestamp_ns ASC, seq ASC`)
	if err != nil {
		return nil, wrapErr("list", err, "query turns")
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return nil, wrapErr("list", err, "scan turns")
	}
	return turns, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, n int) ([]chat.Turn, error) {
	if n <= 0 {
		return []chat.Turn{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp_ns FROM chat_history ORDER BY timestamp_ns DESC, seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, wrapErr("list_recent", err, "query turns")
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return nil, wrapErr("list_recent", err, "scan turns")
	}
	reverse(turns)
	return turns, nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_history`)
	if err != nil {
		return 0, wrapErr("clear", err, "delete turns")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("clear", err, "rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return wrapErr("ping", s.db.PingContext(ctx), "ping sqlite")
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanTurns(rows *sql.Rows) ([]chat.Turn, error) {
	defer func() { _ = rows.Close() }()

	turns := make([]chat.Turn, 0, 16)
	for rows.Next() {
		var (
			t    chat.Turn
			role string
			ns   int64
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &ns); err != nil {
			return nil, err
		}
		t.Role = chat.Role(role)
		t.Timestamp = time.Unix(0, ns).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}
