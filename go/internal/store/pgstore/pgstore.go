// Package pgstore backs the store contract with Postgres. Documents live
// as jsonb rows keyed by path; Watch rides LISTEN/NOTIFY; disconnect
// writes use a lease table swept by a reaper. ServerNow comes from the
// database clock, which makes it the backend of choice when anchor
// timestamps must agree across clients.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/store"
)

const notifyChannel = "room_kv_changes"

const schema = `
CREATE TABLE IF NOT EXISTS room_kv (
	path       text PRIMARY KEY,
	value      jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS room_leases (
	id         uuid PRIMARY KEY,
	path       text NOT NULL,
	fields     jsonb NOT NULL,
	expires_at timestamptz NOT NULL
);
`

// Store implements store.Store on a Postgres pool. Watchers open their own
// connections so LISTEN does not pin pool connections.
type Store struct {
	pool     *pgxpool.Pool
	dsn      string
	leaseTTL time.Duration

	leases *leaseSet
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, dsn string, leaseTTL time.Duration) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	s := &Store{pool: pool, dsn: dsn, leaseTTL: leaseTTL}
	s.leases = newLeaseSet(s)
	return s, nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM room_kv WHERE path = $1`, path).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", path, err)
	}
	return value, nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, value FROM room_kv WHERE path LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var path string
		var value []byte
		if err := rows.Scan(&path, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[path] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_kv (path, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		path, value)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", path, err)
	}
	return s.notify(ctx, path)
}

func (s *Store) Create(ctx context.Context, path string, value []byte) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO room_kv (path, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (path) DO NOTHING`,
		path, value)
	if err != nil {
		return fmt.Errorf("insert %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return s.notify(ctx, path)
}

// Merge applies the field set atomically with jsonb concatenation; removed
// keys are stripped with the jsonb - text[] operator. Creating the row and
// merging into an existing one are a single upsert, so concurrent mergers
// cannot lose fields.
func (s *Store) Merge(ctx context.Context, path string, fields map[string]any) error {
	sets := make(map[string]any, len(fields))
	var removals []string
	for k, v := range fields {
		if v == nil {
			removals = append(removals, k)
			continue
		}
		sets[k] = v
	}
	setsJSON, err := json.Marshal(sets)
	if err != nil {
		return fmt.Errorf("encode merge fields: %w", err)
	}
	if removals == nil {
		removals = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO room_kv (path, value, updated_at) VALUES ($1, $2::jsonb, now())
		ON CONFLICT (path) DO UPDATE
		SET value = (room_kv.value || $2::jsonb) - $3::text[], updated_at = now()`,
		path, setsJSON, removals)
	if err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return s.notify(ctx, path)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM room_kv WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return s.notify(ctx, path)
}

// notify carries only the path; watchers re-read the row, which keeps the
// payload under the NOTIFY size limit.
func (s *Store) notify(ctx context.Context, path string) error {
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (store.Watcher, error) {
	// Dedicated connection: LISTEN holds the session open for the life of
	// the watcher.
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect watcher: %w", err)
	}
	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("listen: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &watcher{
		ch:     make(chan store.Update, 64),
		cancel: cancel,
	}

	go func() {
		defer close(w.ch)
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			conn.Close(closeCtx)
			closeCancel()
		}()

		// Initial replay so subscribers start from current state.
		initial, err := s.List(watchCtx, prefix)
		if err != nil {
			log.Warn().Err(err).Str("prefix", prefix).Msg("watch initial replay failed")
			return
		}
		for path, value := range initial {
			if !w.send(store.Update{Path: path, Value: value}) {
				return
			}
		}

		for {
			note, err := conn.WaitForNotification(watchCtx)
			if watchCtx.Err() != nil {
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("watch notification wait failed")
				return
			}
			path := note.Payload
			if !strings.HasPrefix(path, prefix) {
				continue
			}

			value, err := s.Get(watchCtx, path)
			if errors.Is(err, store.ErrKeyNotFound) {
				value = nil // deletion
			} else if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("watch re-read failed")
				continue
			}
			if !w.send(store.Update{Path: path, Value: value}) {
				return
			}
		}
	}()

	return w, nil
}

func (s *Store) OnDisconnect(ctx context.Context, path string, fields map[string]any) (store.CancelFunc, error) {
	return s.leases.register(ctx, path, fields)
}

func (s *Store) ServerNow(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("select now: %w", err)
	}
	return now, nil
}

// RunLeaseReaper applies disconnect writes from clients that stopped
// renewing their lease. The server binary runs one instance.
func (s *Store) RunLeaseReaper(ctx context.Context) {
	s.leases.runReaper(ctx)
}

func (s *Store) Close() error {
	s.leases.stopAll()
	s.pool.Close()
	return nil
}

type watcher struct {
	ch     chan store.Update
	cancel context.CancelFunc
}

func (w *watcher) send(u store.Update) bool {
	select {
	case w.ch <- u:
		return true
	default:
		log.Warn().Str("path", u.Path).Msg("watch buffer full, dropping update")
		return true
	}
}

func (w *watcher) Updates() <-chan store.Update { return w.ch }

func (w *watcher) Stop() { w.cancel() }
