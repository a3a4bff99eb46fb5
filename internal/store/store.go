// Package store holds the event categories and persists them through a KV
// backend. Each category is replaced as a whole.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	appLog "notiflow/internal/log"
	"notiflow/internal/model"
	"notiflow/internal/normalize"
)

// ErrNotFound is returned when deleting an event that is not stored.
var ErrNotFound = errors.New("event not found")

type snapshot struct {
	UpdatedAt time.Time      `json:"updated_at"`
	Events    []model.Record `json:"events"`
}

// Store is safe for concurrent use. Readers always see a complete category:
// the previous one until a replacement is persisted, then the new one.
type Store struct {
	kv         KV
	normalizer *normalize.Normalizer

	writeMu sync.Mutex // serializes Replace and Delete

	mu        sync.RWMutex
	cats      map[model.Kind][]model.Event
	updatedAt map[model.Kind]time.Time
}

func New(kv KV, n *normalize.Normalizer) *Store {
	return &Store{
		kv:         kv,
		normalizer: n,
		cats:       make(map[model.Kind][]model.Event),
		updatedAt:  make(map[model.Kind]time.Time),
	}
}

// Category returns a copy of one category, loading it on first use.
func (s *Store) Category(ctx context.Context, kind model.Kind) ([]model.Event, error) {
	s.mu.RLock()
	events, ok := s.cats[kind]
	s.mu.RUnlock()
	if ok {
		return slices.Clone(events), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if events, ok := s.cats[kind]; ok {
		return slices.Clone(events), nil
	}
	events, updated, err := s.load(ctx, kind)
	if err != nil {
		return nil, err
	}
	s.cats[kind] = events
	s.updatedAt[kind] = updated
	return slices.Clone(events), nil
}

// All returns every category in model.Kinds order.
func (s *Store) All(ctx context.Context) ([]model.Event, error) {
	var out []model.Event
	for _, kind := range model.Kinds {
		events, err := s.Category(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", kind, err)
		}
		out = append(out, events...)
	}
	return out, nil
}

// UpdatedAt reports when a category was last replaced; zero if never.
func (s *Store) UpdatedAt(ctx context.Context, kind model.Kind) (time.Time, error) {
	if _, err := s.Category(ctx, kind); err != nil {
		return time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt[kind], nil
}

// Replace swaps the whole category. Events sharing a key with an earlier
// one are dropped and returned as rejections. Nothing changes when the
// backend write fails or ctx is done.
func (s *Store) Replace(ctx context.Context, kind model.Kind, events []model.Event) ([]model.Rejection, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.replaceLocked(ctx, kind, events)
}

func (s *Store) replaceLocked(ctx context.Context, kind model.Kind, events []model.Event) ([]model.Rejection, error) {
	var rejected []model.Rejection
	seen := make(map[model.Key]bool, len(events))
	kept := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Kind != kind {
			return nil, fmt.Errorf("%w: %s event in %s category", model.ErrRejectedInput, ev.Kind, kind)
		}
		if seen[ev.Key()] {
			rejected = append(rejected, model.Rejection{
				Item:   ev.Record(),
				Reason: fmt.Errorf("%w: %s", model.ErrDuplicate, ev.Key()),
			})
			continue
		}
		seen[ev.Key()] = true
		kept = append(kept, ev)
	}

	now := time.Now().UTC()
	data, err := json.Marshal(snapshot{UpdatedAt: now, Events: model.Records(kept)})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.kv.Set(ctx, string(kind), data); err != nil {
		return nil, fmt.Errorf("persist %s: %w", kind, err)
	}

	s.mu.Lock()
	s.cats[kind] = kept
	s.updatedAt[kind] = now
	s.mu.Unlock()

	appLog.Info("store: category replaced", "kind", kind, "events", len(kept), "duplicates", len(rejected))
	return rejected, nil
}

// DeleteClassMeeting removes one user-entered class meeting.
func (s *Store) DeleteClassMeeting(ctx context.Context, key model.Key) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	events, err := s.Category(ctx, model.KindClassMeeting)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(events, func(ev model.Event) bool { return ev.Key() == key })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	_, err = s.replaceLocked(ctx, model.KindClassMeeting, slices.Delete(events, idx, idx+1))
	return err
}

// load reads and re-validates a persisted category. A missing key is an
// empty category. Stored records that no longer validate are dropped.
func (s *Store) load(ctx context.Context, kind model.Kind) ([]model.Event, time.Time, error) {
	data, ok, err := s.kv.Get(ctx, string(kind))
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		return []model.Event{}, time.Time{}, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode %s: %w", kind, err)
	}
	res := s.normalizer.NormalizeAll(snap.Events, kind)
	for _, r := range res.Rejections {
		appLog.Warn("store: dropping stored record", "kind", kind, "reason", r.Reason)
	}
	return res.Events, snap.UpdatedAt, nil
}
