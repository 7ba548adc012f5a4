package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/store"
)

// leaseSet tracks this process's disconnect leases and keeps them renewed.
// The reaper side lives in sweep, which applies writes from any client
// whose lease expired.
type leaseSet struct {
	store *Store

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func newLeaseSet(s *Store) *leaseSet {
	return &leaseSet{
		store:   s,
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

func (ls *leaseSet) register(ctx context.Context, path string, fields map[string]any) (store.CancelFunc, error) {
	id := uuid.New()
	ttl := ls.store.leaseTTL

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode lease fields: %w", err)
	}
	_, err = ls.store.pool.Exec(ctx, `
		INSERT INTO room_leases (id, path, fields, expires_at)
		VALUES ($1, $2, $3, now() + $4)`,
		id, path, fieldsJSON, ttl)
	if err != nil {
		return nil, fmt.Errorf("register lease: %w", err)
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
		if _, err := ls.store.pool.Exec(ctx, `DELETE FROM room_leases WHERE id = $1`, id); err != nil {
			return fmt.Errorf("release lease %s: %w", id, err)
		}
		return nil
	}
	return cancel, nil
}

func (ls *leaseSet) heartbeat(ctx context.Context, id uuid.UUID, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(context.Background(), ttl/2)
			_, err := ls.store.pool.Exec(renewCtx,
				`UPDATE room_leases SET expires_at = now() + $2 WHERE id = $1`, id, ttl)
			cancel()
			if err != nil {
				log.Warn().Err(err).Stringer("lease_id", id).Msg("lease renewal failed")
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

// sweep claims expired leases with DELETE ... RETURNING so concurrent
// reapers never apply the same write twice.
func (ls *leaseSet) sweep(ctx context.Context) error {
	rows, err := ls.store.pool.Query(ctx, `
		DELETE FROM room_leases WHERE expires_at <= now()
		RETURNING path, fields`)
	if err != nil {
		return fmt.Errorf("claim expired leases: %w", err)
	}
	defer rows.Close()

	type pending struct {
		path   string
		fields map[string]any
	}
	var claimed []pending
	for rows.Next() {
		var p pending
		var fieldsJSON []byte
		if err := rows.Scan(&p.path, &fieldsJSON); err != nil {
			return fmt.Errorf("scan lease: %w", err)
		}
		if err := json.Unmarshal(fieldsJSON, &p.fields); err != nil {
			log.Warn().Err(err).Str("path", p.path).Msg("dropping undecodable lease fields")
			continue
		}
		claimed = append(claimed, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate leases: %w", err)
	}

	for _, p := range claimed {
		log.Info().Str("path", p.path).Msg("applying expired disconnect lease")
		if err := ls.store.Merge(ctx, p.path, p.fields); err != nil {
			log.Warn().Err(err).Str("path", p.path).Msg("failed to apply disconnect write")
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
