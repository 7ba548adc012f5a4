// Package natsstore backs the store contract with a NATS JetStream
// key/value bucket. Watch maps onto KV watchers; disconnect-triggered
// writes are emulated with heartbeat leases (see lease.go) because NATS has
// no server-side disconnect hook that can write on the client's behalf.
//
// NATS also exposes no server clock, so ServerNow falls back to the local
// clock: anchor timestamps carry the client's wall-clock skew. Acceptable
// for a cooperative small-group timer; deployments that need tighter skew
// should front this with the Postgres backend.
package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/store"
)

// Config holds connection settings for the NATS backend.
type Config struct {
	URL           string
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
	LeaseTTL      time.Duration
}

// DefaultConfig returns defaults suitable for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Bucket:        "focusroom",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		LeaseTTL:      10 * time.Second,
	}
}

// Store implements store.Store on a JetStream KV bucket.
type Store struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	clock  clockwork.Clock
	config Config

	leases *leaseSet
}

// New connects to NATS and ensures the KV bucket exists.
func New(ctx context.Context, config Config, clock clockwork.Clock) (*Store, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "focusroom shared room state",
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure KV bucket %s: %w", config.Bucket, err)
	}

	s := &Store{
		nc:     nc,
		kv:     kv,
		clock:  clock,
		config: config,
	}
	s.leases = newLeaseSet(s)
	return s, nil
}

// KV keys cannot contain slashes; store paths map onto dot hierarchies.
func toKey(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

func toPath(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, toKey(path))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", path, err)
	}
	return entry.Value(), nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}

	out := make(map[string][]byte)
	for key := range lister.Keys() {
		path := toPath(key)
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue // deleted between listing and read
		}
		if err != nil {
			return nil, fmt.Errorf("kv get %s: %w", path, err)
		}
		out[path] = entry.Value()
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	if _, err := s.kv.Put(ctx, toKey(path), value); err != nil {
		return fmt.Errorf("kv put %s: %w", path, err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, path string, value []byte) error {
	_, err := s.kv.Create(ctx, toKey(path), value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("kv create %s: %w", path, err)
	}
	return nil
}

// Merge is a compare-and-swap loop on the document revision, so the whole
// field set lands as one atomic update.
func (s *Store) Merge(ctx context.Context, path string, fields map[string]any) error {
	key := toKey(path)
	for {
		entry, err := s.kv.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			data, err := mergeDoc(nil, fields)
			if err != nil {
				return err
			}
			_, err = s.kv.Create(ctx, key, data)
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue // lost the race, retry against the new value
			}
			if err != nil {
				return fmt.Errorf("kv create %s: %w", path, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("kv get %s: %w", path, err)
		}

		data, err := mergeDoc(entry.Value(), fields)
		if err != nil {
			return err
		}
		_, err = s.kv.Update(ctx, key, data, entry.Revision())
		if errors.Is(err, jetstream.ErrKeyExists) {
			continue // revision moved underneath us
		}
		if err != nil {
			return fmt.Errorf("kv update %s: %w", path, err)
		}
		return nil
	}
}

func mergeDoc(current []byte, fields map[string]any) ([]byte, error) {
	doc := make(map[string]any)
	if current != nil {
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, fmt.Errorf("decode document for merge: %w", err)
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	return json.Marshal(doc)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	err := s.kv.Delete(ctx, toKey(path))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (store.Watcher, error) {
	keyPrefix := toKey(prefix)
	filters := []string{keyPrefix + ">"}
	if !strings.HasSuffix(keyPrefix, ".") {
		// Match both the document at the prefix itself and everything
		// below it.
		filters = []string{keyPrefix, keyPrefix + ".>"}
	}

	kw, err := s.kv.WatchFiltered(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", prefix, err)
	}

	w := &watcher{
		ch:   make(chan store.Update, 64),
		stop: func() { _ = kw.Stop() },
	}

	go func() {
		defer close(w.ch)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-kw.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// End-of-initial-replay marker.
					continue
				}
				u := store.Update{Path: toPath(entry.Key())}
				if entry.Operation() == jetstream.KeyValuePut {
					u.Value = entry.Value()
				}
				select {
				case w.ch <- u:
				default:
					log.Warn().Str("path", u.Path).Msg("watch buffer full, dropping update")
				}
			}
		}
	}()

	return w, nil
}

func (s *Store) OnDisconnect(ctx context.Context, path string, fields map[string]any) (store.CancelFunc, error) {
	return s.leases.register(ctx, path, fields)
}

func (s *Store) ServerNow(ctx context.Context) (time.Time, error) {
	return s.clock.Now(), nil
}

// RunLeaseReaper applies disconnect writes whose owners stopped renewing.
// Any process may run it; the server binary does. Detection latency is up
// to two lease TTLs.
func (s *Store) RunLeaseReaper(ctx context.Context) {
	s.leases.runReaper(ctx)
}

func (s *Store) Close() error {
	s.leases.stopAll()
	s.nc.Close()
	return nil
}

type watcher struct {
	ch   chan store.Update
	stop func()
}

func (w *watcher) Updates() <-chan store.Update { return w.ch }

func (w *watcher) Stop() { w.stop() }
