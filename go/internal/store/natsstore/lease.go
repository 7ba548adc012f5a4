package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/store"
)

const leasePrefix = "_leases."

// leaseRecord is the pending disconnect write, stored in the bucket itself
// so any surviving process can apply it once the owner goes quiet.
type leaseRecord struct {
	Path      string         `json:"path"`
	Fields    map[string]any `json:"fields"`
	ExpiresAt int64          `json:"expiresAt"`
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
	leaseID := uuid.NewString()
	key := leasePrefix + leaseID
	ttl := ls.store.config.LeaseTTL

	if err := ls.writeRecord(ctx, key, path, fields, ttl); err != nil {
		return nil, err
	}

	hbCtx, hbCancel := context.WithCancel(context.Background())
	ls.mu.Lock()
	ls.cancels[leaseID] = hbCancel
	ls.mu.Unlock()

	go ls.heartbeat(hbCtx, key, path, fields, ttl)

	cancel := func(ctx context.Context) error {
		hbCancel()
		ls.mu.Lock()
		delete(ls.cancels, leaseID)
		ls.mu.Unlock()
		if err := ls.store.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("release lease %s: %w", leaseID, err)
		}
		return nil
	}
	return cancel, nil
}

func (ls *leaseSet) writeRecord(ctx context.Context, key, path string, fields map[string]any, ttl time.Duration) error {
	rec := leaseRecord{
		Path:      path,
		Fields:    fields,
		ExpiresAt: ls.store.clock.Now().Add(ttl).UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode lease record: %w", err)
	}
	if _, err := ls.store.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write lease record: %w", err)
	}
	return nil
}

// heartbeat renews the lease at half the TTL so a single missed renewal
// does not trip the reaper.
func (ls *leaseSet) heartbeat(ctx context.Context, key, path string, fields map[string]any, ttl time.Duration) {
	ticker := ls.store.clock.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			renewCtx, cancel := context.WithTimeout(context.Background(), ttl/2)
			err := ls.writeRecord(renewCtx, key, path, fields, ttl)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("lease renewal failed")
			}
		}
	}
}

// runReaper sweeps expired leases and applies their pending writes. Sweep
// interval matches the TTL, so a dead client's write lands within 2x TTL.
func (ls *leaseSet) runReaper(ctx context.Context) {
	ticker := ls.store.clock.NewTicker(ls.store.config.LeaseTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := ls.sweep(ctx); err != nil {
				log.Warn().Err(err).Msg("lease sweep failed")
			}
		}
	}
}

func (ls *leaseSet) sweep(ctx context.Context) error {
	lister, err := ls.store.kv.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("list lease keys: %w", err)
	}
	now := ls.store.clock.Now().UnixMilli()

	for key := range lister.Keys() {
		if !strings.HasPrefix(key, leasePrefix) {
			continue
		}
		entry, err := ls.store.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read lease %s: %w", key, err)
		}

		var rec leaseRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("dropping undecodable lease record")
			_ = ls.store.kv.Delete(ctx, key)
			continue
		}
		if rec.ExpiresAt > now {
			continue
		}

		log.Info().Str("path", rec.Path).Msg("applying expired disconnect lease")
		if err := ls.store.Merge(ctx, rec.Path, rec.Fields); err != nil {
			log.Warn().Err(err).Str("path", rec.Path).Msg("failed to apply disconnect write")
			continue
		}
		if err := ls.store.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("failed to delete reaped lease")
		}
	}
	return nil
}

func (ls *leaseSet) stopAll() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for id, cancel := range ls.cancels {
		cancel()
		delete(ls.cancels, id)
	}
}
