package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/store"
)

const (
	pendingPrefix   = "fr:lease:pending:"
	heartbeatPrefix = "fr:lease:alive:"
)

// A lease is two keys: a durable pending-write record and a heartbeat key
// with a TTL. While the owner renews the heartbeat the pending write sits
// idle; once the heartbeat expires the reaper applies it. The record
// itself never carries a TTL, otherwise the write would vanish with the
// client that registered it.
type leaseRecord struct {
	Path   string         `json:"path"`
	Fields map[string]any `json:"fields"`
}

type leaseSet struct {
	store *Store

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newLeaseSet(s *Store) *leaseSet {
	return &leaseSet{
		store:   s,
		cancels: make(map[string]context.CancelFunc),
	}
}

func (ls *leaseSet) register(ctx context.Context, path string, fields map[string]any) (store.CancelFunc, error) {
	id := uuid.NewString()
	ttl := ls.store.leaseTTL

	data, err := json.Marshal(leaseRecord{Path: path, Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("encode lease record: %w", err)
	}
	if err := ls.store.client.Set(ctx, pendingPrefix+id, data, 0).Err(); err != nil {
		return nil, fmt.Errorf("write pending lease: %w", err)
	}
	if err := ls.store.client.Set(ctx, heartbeatPrefix+id, "1", ttl).Err(); err != nil {
		ls.store.client.Del(ctx, pendingPrefix+id)
		return nil, fmt.Errorf("write lease heartbeat: %w", err)
	}

	hbCtx, hbCancel := context.WithCancel(context.Background())
	ls.mu.Lock()
	ls.cancels[id] = hbCancel
	ls.mu.Unlock()

	go ls.heartbeat(hbCtx, id, ttl)

	cancel := func(ctx context.Context) error {
		hbCancel()
		ls.mu.Lock()
		delete(ls.cancels, id)
		ls.mu.Unlock()
		if err := ls.store.client.Del(ctx, pendingPrefix+id, heartbeatPrefix+id).Err(); err != nil {
			return fmt.Errorf("release lease %s: %w", id, err)
		}
		return nil
	}
	return cancel, nil
}

func (ls *leaseSet) heartbeat(ctx context.Context, id string, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(context.Background(), ttl/2)
			// SET rather than EXPIRE so a reaped heartbeat key comes
			// back if the client recovers before cancelling.
			err := ls.store.client.Set(renewCtx, heartbeatPrefix+id, "1", ttl).Err()
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("lease_id", id).Msg("lease renewal failed")
			}
		}
	}
}

func (ls *leaseSet) runReaper(ctx context.Context) {
	ticker := time.NewTicker(ls.store.leaseTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ls.sweep(ctx); err != nil {
				log.Warn().Err(err).Msg("lease sweep failed")
			}
		}
	}
}

func (ls *leaseSet) sweep(ctx context.Context) error {
	iter := ls.store.client.Scan(ctx, 0, pendingPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		pendingKey := iter.Val()
		id := strings.TrimPrefix(pendingKey, pendingPrefix)

		alive, err := ls.store.client.Exists(ctx, heartbeatPrefix+id).Result()
		if err != nil {
			return fmt.Errorf("check heartbeat %s: %w", id, err)
		}
		if alive > 0 {
			continue
		}

		// Claim the record with GETDEL semantics via DEL-after-read; a
		// lost race just means another reaper applied it first.
		data, err := ls.store.client.Get(ctx, pendingKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read pending lease %s: %w", id, err)
		}
		deleted, err := ls.store.client.Del(ctx, pendingKey).Result()
		if err != nil {
			return fmt.Errorf("claim pending lease %s: %w", id, err)
		}
		if deleted == 0 {
			continue
		}

		var rec leaseRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Warn().Err(err).Str("lease_id", id).Msg("dropping undecodable lease record")
			continue
		}

		log.Info().Str("path", rec.Path).Msg("applying expired disconnect lease")
		if err := ls.store.Merge(ctx, rec.Path, rec.Fields); err != nil {
			log.Warn().Err(err).Str("path", rec.Path).Msg("failed to apply disconnect write")
		}
	}
	return iter.Err()
}

func (ls *leaseSet) stopAll() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for id, cancel := range ls.cancels {
		cancel()
		delete(ls.cancels, id)
	}
}
