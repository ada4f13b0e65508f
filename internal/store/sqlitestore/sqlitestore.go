// Package sqlitestore is a single-host Backend on an SQLite file. Items use the
// same JSON encodings as the redis backend.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/store"
	"jobloop/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

var _ store.Backend = (*Store)(nil)

// Open creates the database file and its directory if needed and migrates it.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errs.Configuration("sqlite.open", errors.New("sqlite path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Resource("sqlite.open", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, errs.Resource("sqlite.open", err)
	}
	// One connection serializes writers; every pop is a single statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &Store{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, errs.Resource("sqlite.migrate", err)
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return errs.Backend("sqlite.ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, e store.Entry) error {
	e = store.NewEntry(e.RunAt, e.Queue, e.Class, e.Args)
	item, err := store.EncodeIdentity(e.Queue, e.Class, e.Args)
	if err != nil {
		return errs.Configuration("sqlite.insert", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO delayed(run_at, item) VALUES(?, ?)`, e.RunAt.Unix(), item)
	return errs.Backend("sqlite.insert", err)
}

func (s *Store) RemoveExact(ctx context.Context, e store.Entry) (int, error) {
	item, err := store.EncodeIdentity(e.Queue, e.Class, e.Args)
	if err != nil {
		return 0, errs.Configuration("sqlite.remove", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM delayed WHERE item = ? AND run_at = ?`, item, store.Ceil(e.RunAt).Unix())
	if err != nil {
		return 0, errs.Backend("sqlite.remove", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) RemoveAll(ctx context.Context, queue, class string, args job.Args) (int, error) {
	item, err := store.EncodeIdentity(queue, class, args)
	if err != nil {
		return 0, errs.Configuration("sqlite.remove_all", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM delayed WHERE item = ?`, item)
	if err != nil {
		return 0, errs.Backend("sqlite.remove_all", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type row struct {
	id    int64
	runAt int64
	item  string
}

func (s *Store) scanEntries(rows *sql.Rows) ([]store.Entry, error) {
	defer rows.Close()
	var rs []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.runAt, &r.item); err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING order is unspecified.
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].runAt != rs[j].runAt {
			return rs[i].runAt < rs[j].runAt
		}
		return rs[i].id < rs[j].id
	})
	out := make([]store.Entry, 0, len(rs))
	for _, r := range rs {
		queue, class, args, err := store.DecodeIdentity(r.item)
		if err != nil {
			s.log.Warn("delayed item dropped", logx.Int64("id", r.id), logx.String("item", r.item), logx.Err(err))
			continue
		}
		out = append(out, store.Entry{RunAt: time.Unix(r.runAt, 0).UTC(), Queue: queue, Class: class, Args: args})
	}
	return out, nil
}

// PopDue deletes and returns due rows in one statement.
func (s *Store) PopDue(ctx context.Context, now time.Time) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM delayed WHERE run_at <= ? RETURNING id, run_at, item`, now.Unix())
	if err != nil {
		return nil, errs.Backend("sqlite.pop_due", err)
	}
	out, err := s.scanEntries(rows)
	return out, errs.Backend("sqlite.pop_due", err)
}

func (s *Store) Pending(ctx context.Context) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, run_at, item FROM delayed ORDER BY run_at, id`)
	if err != nil {
		return nil, errs.Backend("sqlite.pending", err)
	}
	out, err := s.scanEntries(rows)
	return out, errs.Backend("sqlite.pending", err)
}

func (s *Store) Push(ctx context.Context, in job.Instance) error {
	if in.Queue == "" {
		in.Queue = job.DefaultQueue
	}
	if in.ID == "" {
		in.ID = job.NewID()
	}
	payload, err := store.EncodeInstance(in)
	if err != nil {
		return errs.Configuration("sqlite.push", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Backend("sqlite.push", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT INTO queues(name) VALUES(?) ON CONFLICT(name) DO NOTHING`, in.Queue); err != nil {
		return errs.Backend("sqlite.push", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO ready(queue, payload) VALUES(?, ?)`, in.Queue, payload); err != nil {
		return errs.Backend("sqlite.push", err)
	}
	return errs.Backend("sqlite.push", tx.Commit())
}

func (s *Store) Pop(ctx context.Context, queues []string) (job.Instance, bool, error) {
	for _, q := range queues {
		var payload string
		err := s.db.QueryRowContext(ctx,
			`DELETE FROM ready WHERE id = (SELECT id FROM ready WHERE queue = ? ORDER BY id LIMIT 1) RETURNING payload`,
			q).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return job.Instance{}, false, errs.Backend("sqlite.pop", err)
		}
		in, err := store.DecodeInstance(q, payload)
		if err != nil {
			s.log.Warn("job payload dropped", logx.String("queue", q), logx.String("payload", payload), logx.Err(err))
			continue
		}
		return in, true, nil
	}
	return job.Instance{}, false, nil
}

func (s *Store) Queues(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM queues ORDER BY name`)
	if err != nil {
		return nil, errs.Backend("sqlite.queues", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Backend("sqlite.queues", err)
		}
		out = append(out, name)
	}
	return out, errs.Backend("sqlite.queues", rows.Err())
}

func (s *Store) Len(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ready WHERE queue = ?`, queue).Scan(&n)
	return n, errs.Backend("sqlite.len", err)
}
