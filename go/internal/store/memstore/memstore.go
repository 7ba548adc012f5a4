// Package memstore is an in-process implementation of the store contract.
// It backs tests and single-process deployments; watch fan-out and
// disconnect-triggered writes behave like the networked backends, minus the
// network.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/store"
)

const watchBuffer = 64

// Store holds all documents in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	docs        map[string]map[string]any
	watchers    map[*watcher]struct{}
	disconnects map[int64]*pendingWrite
	nextPending int64
	clock       clockwork.Clock
	closed      bool
}

type pendingWrite struct {
	path   string
	fields map[string]any
}

// New creates an empty in-memory store. The clock feeds ServerNow, so tests
// can drive it with a clockwork fake.
func New(clock clockwork.Clock) *Store {
	return &Store{
		docs:        make(map[string]map[string]any),
		watchers:    make(map[*watcher]struct{}),
		disconnects: make(map[int64]*pendingWrite),
		clock:       clock,
	}
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return json.Marshal(doc)
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte)
	for path, doc := range s.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", path, err)
		}
		out[path] = data
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	doc, err := decode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.docs[path] = doc
	s.notifyLocked(path, doc)
	s.mu.Unlock()
	return nil
}

func (s *Store) Create(ctx context.Context, path string, value []byte) error {
	doc, err := decode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[path]; exists {
		return store.ErrAlreadyExists
	}
	s.docs[path] = doc
	s.notifyLocked(path, doc)
	return nil
}

func (s *Store) Merge(ctx context.Context, path string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked(path, fields)
	return nil
}

func (s *Store) mergeLocked(path string, fields map[string]any) {
	doc, ok := s.docs[path]
	if !ok {
		doc = make(map[string]any)
		s.docs[path] = doc
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	s.notifyLocked(path, doc)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[path]; !ok {
		return nil
	}
	delete(s.docs, path)
	s.notifyLocked(path, nil)
	return nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (store.Watcher, error) {
	w := &watcher{
		prefix: prefix,
		ch:     make(chan store.Update, watchBuffer),
		store:  s,
	}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	// Deliver current values before live changes.
	for path, doc := range s.docs {
		if strings.HasPrefix(path, prefix) {
			w.send(path, doc)
		}
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return w, nil
}

func (s *Store) OnDisconnect(ctx context.Context, path string, fields map[string]any) (store.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextPending
	s.nextPending++
	s.disconnects[id] = &pendingWrite{path: path, fields: fields}

	cancel := func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.disconnects, id)
		return nil
	}
	return cancel, nil
}

func (s *Store) ServerNow(ctx context.Context) (time.Time, error) {
	return s.clock.Now(), nil
}

// Close applies every registered disconnect write, mirroring what a realtime
// backend does when the client's connection drops.
func (s *Store) Close() error {
	s.SimulateDisconnect()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// SimulateDisconnect fires all registered disconnect-triggered writes in
// place, as the backing service would on abrupt connection loss.
func (s *Store) SimulateDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pw := range s.disconnects {
		s.mergeLocked(pw.path, pw.fields)
		delete(s.disconnects, id)
	}
}

func (s *Store) notifyLocked(path string, doc map[string]any) {
	for w := range s.watchers {
		if strings.HasPrefix(path, w.prefix) {
			w.send(path, doc)
		}
	}
}

func decode(value []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, fmt.Errorf("store document must be a JSON object: %w", err)
	}
	return doc, nil
}

type watcher struct {
	prefix string
	ch     chan store.Update
	store  *Store

	stopOnce sync.Once
}

func (w *watcher) Updates() <-chan store.Update {
	return w.ch
}

func (w *watcher) Stop() {
	w.stopOnce.Do(func() {
		w.store.mu.Lock()
		delete(w.store.watchers, w)
		w.store.mu.Unlock()
		close(w.ch)
	})
}

// send marshals and delivers one update, dropping it if the subscriber is not
// keeping up. Subscribers always receive at least the latest value via a
// later write; the contract promises no more than that.
func (w *watcher) send(path string, doc map[string]any) {
	var value []byte
	if doc != nil {
		var err error
		value, err = json.Marshal(doc)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to marshal watch update")
			return
		}
	}
	select {
	case w.ch <- store.Update{Path: path, Value: value}:
	default:
		log.Warn().Str("path", path).Msg("watch buffer full, dropping update")
	}
}
