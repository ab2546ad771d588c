package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/storage"
)

// TenderStore keeps tenders keyed by nomenclature.
type TenderStore struct {
	mu      sync.RWMutex
	tenders map[string]scraper.TenderRecord
}

// NewTenderStore constructs an empty TenderStore.
func NewTenderStore() *TenderStore {
	return &TenderStore{tenders: make(map[string]scraper.TenderRecord)}
}

// UpsertTender inserts or replaces the tender. Stages are replaced as a whole.
func (s *TenderStore) UpsertTender(_ context.Context, tender scraper.TenderRecord) error {
	key := strings.TrimSpace(tender.Nomenclatura)
	if key == "" {
		return fmt.Errorf("nomenclatura is required")
	}
	tender.Nomenclatura = key

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenders[key] = cloneTender(tender)
	return nil
}

// GetTender returns the tender stored under nomenclatura.
func (s *TenderStore) GetTender(_ context.Context, nomenclatura string) (scraper.TenderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenders[nomenclatura]
	if !ok {
		return scraper.TenderRecord{}, fmt.Errorf("tender %q: %w", nomenclatura, storage.ErrNotFound)
	}
	return cloneTender(t), nil
}

// ListTenders returns every tender ordered by nomenclature.
func (s *TenderStore) ListTenders(_ context.Context) ([]scraper.TenderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.TenderRecord, 0, len(s.tenders))
	for _, t := range s.tenders {
		out = append(out, cloneTender(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nomenclatura < out[j].Nomenclatura })
	return out, nil
}

func cloneTender(t scraper.TenderRecord) scraper.TenderRecord {
	t.Stages = append([]scraper.Stage(nil), t.Stages...)
	if t.KeyDates != nil {
		dates := make(map[string]time.Time, len(t.KeyDates))
		for k, v := range t.KeyDates {
			dates[k] = v
		}
		t.KeyDates = dates
	}
	return t
}
