package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/storage"
)

// AlertStore keeps alerts deduplicated by fingerprint.
type AlertStore struct {
	mu     sync.RWMutex
	clock  scraper.Clock
	nextID int64
	alerts map[int64]*storage.StoredAlert
	byFP   map[string]int64
}

// NewAlertStore constructs an AlertStore stamping rows with clock.
func NewAlertStore(clock scraper.Clock) *AlertStore {
	return &AlertStore{
		clock:  clock,
		alerts: make(map[int64]*storage.StoredAlert),
		byFP:   make(map[string]int64),
	}
}

// Save stores the alerts that are not already known and returns them.
func (s *AlertStore) Save(_ context.Context, source string, alerts []scraper.NormalizedAlert) ([]scraper.NormalizedAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()
	var saved []scraper.NormalizedAlert
	for _, a := range alerts {
		fp := storage.Fingerprint(source, a)
		if _, ok := s.byFP[fp]; ok {
			continue
		}
		s.nextID++
		s.alerts[s.nextID] = &storage.StoredAlert{
			ID:          s.nextID,
			Source:      source,
			Fingerprint: fp,
			CreatedAt:   now,
			Alert:       a,
		}
		s.byFP[fp] = s.nextID
		saved = append(saved, a)
	}
	return saved, nil
}

// MarkRead flags an alert as read so it becomes eligible for purge.
func (s *AlertStore) MarkRead(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert %d: %w", id, storage.ErrNotFound)
	}
	a.Read = true
	return nil
}

// PurgeRead deletes read alerts of source stored before cutoff.
func (s *AlertStore) PurgeRead(_ context.Context, source string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.alerts {
		if a.Source != source || !a.Read || !a.CreatedAt.Before(cutoff) {
			continue
		}
		delete(s.alerts, id)
		delete(s.byFP, a.Fingerprint)
		n++
	}
	return n, nil
}

// ListAlerts returns matching alerts, newest first.
func (s *AlertStore) ListAlerts(_ context.Context, f storage.AlertFilter) ([]storage.StoredAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.StoredAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if f.Source != "" && a.Source != f.Source {
			continue
		}
		if f.UnreadOnly && a.Read {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
