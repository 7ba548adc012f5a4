// Package redisstore backs the store contract with Redis. Documents are
// plain keys, change notification rides a single pub/sub channel, and
// disconnect writes use a pending-write key guarded by a TTL heartbeat
// key. ServerNow uses the Redis TIME command.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/store"
)

const (
	keyPrefix      = "fr:doc:"
	updatesChannel = "fr:updates"
)

// Config holds connection settings for the Redis backend.
type Config struct {
	Addr     string
	Password string
	DB       int
	LeaseTTL time.Duration
}

// DefaultConfig returns defaults suitable for a local Redis server.
func DefaultConfig() Config {
	return Config{
		Addr:     "localhost:6379",
		LeaseTTL: 10 * time.Second,
	}
}

// Store implements store.Store on a Redis client.
type Store struct {
	client   *redis.Client
	leaseTTL time.Duration

	leases *leaseSet
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := &Store{client: client, leaseTTL: config.LeaseTTL}
	s.leases = newLeaseSet(s)
	return s, nil
}

func docKey(path string) string { return keyPrefix + path }

func docPath(key string) string { return strings.TrimPrefix(key, keyPrefix) }

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	value, err := s.client.Get(ctx, docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return value, nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	iter := s.client.Scan(ctx, 0, docKey(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		value, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and read
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", docPath(key), err)
		}
		out[docPath(key)] = value
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	if err := s.client.Set(ctx, docKey(path), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return s.publish(ctx, path)
}

func (s *Store) Create(ctx context.Context, path string, value []byte) error {
	ok, err := s.client.SetNX(ctx, docKey(path), value, 0).Result()
	if err != nil {
		return fmt.Errorf("setnx %s: %w", path, err)
	}
	if !ok {
		return store.ErrAlreadyExists
	}
	return s.publish(ctx, path)
}

// Merge is an optimistic WATCH/MULTI loop so the whole field set lands
// atomically even under concurrent writers.
func (s *Store) Merge(ctx context.Context, path string, fields map[string]any) error {
	key := docKey(path)

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		doc := make(map[string]any)
		if current != nil {
			if err := json.Unmarshal(current, &doc); err != nil {
				return fmt.Errorf("decode document for merge: %w", err)
			}
		}
		for k, v := range fields {
			if v == nil {
				delete(doc, k)
				continue
			}
			doc[k] = v
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 10; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // key moved underneath us, retry
		}
		if err != nil {
			return fmt.Errorf("merge %s: %w", path, err)
		}
		return s.publish(ctx, path)
	}
	return fmt.Errorf("merge %s: too many concurrent writers", path)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, docKey(path)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", path, err)
	}
	return s.publish(ctx, path)
}

// publish carries only the path; subscribers re-read the document.
func (s *Store) publish(ctx context.Context, path string) error {
	if err := s.client.Publish(ctx, updatesChannel, path).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (store.Watcher, error) {
	pubsub := s.client.Subscribe(ctx, updatesChannel)
	// Force the subscription before the initial replay so no update can
	// slip between them.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &watcher{
		ch:     make(chan store.Update, 64),
		cancel: cancel,
	}

	go func() {
		defer close(w.ch)
		defer pubsub.Close()

		initial, err := s.List(watchCtx, prefix)
		if err != nil {
			log.Warn().Err(err).Str("prefix", prefix).Msg("watch initial replay failed")
			return
		}
		for path, value := range initial {
			w.send(store.Update{Path: path, Value: value})
		}

		msgs := pubsub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				path := msg.Payload
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
				w.send(store.Update{Path: path, Value: value})
			}
		}
	}()

	return w, nil
}

func (s *Store) OnDisconnect(ctx context.Context, path string, fields map[string]any) (store.CancelFunc, error) {
	return s.leases.register(ctx, path, fields)
}

func (s *Store) ServerNow(ctx context.Context) (time.Time, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis time: %w", err)
	}
	return now, nil
}

// RunLeaseReaper applies disconnect writes from clients whose heartbeat
// key expired. The server binary runs one instance.
func (s *Store) RunLeaseReaper(ctx context.Context) {
	s.leases.runReaper(ctx)
}

func (s *Store) Close() error {
	s.leases.stopAll()
	return s.client.Close()
}

type watcher struct {
	ch     chan store.Update
	cancel context.CancelFunc
}

func (w *watcher) send(u store.Update) {
	select {
	case w.ch <- u:
	default:
		log.Warn().Str("path", u.Path).Msg("watch buffer full, dropping update")
	}
}

func (w *watcher) Updates() <-chan store.Update { return w.ch }

func (w *watcher) Stop() { w.cancel() }
