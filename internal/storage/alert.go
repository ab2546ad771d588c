// Package storage holds the persistence types shared by the store backends.
package storage

import (
	"errors"
	"time"

	"github.com/JakeFAU/govwatch/internal/hash/sha256"
	"github.com/JakeFAU/govwatch/internal/scraper"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// StoredAlert is an alert as persisted by an AlertStore.
type StoredAlert struct {
	ID          int64                   `json:"id"`
	Source      string                  `json:"source"`
	Fingerprint string                  `json:"fingerprint"`
	Read        bool                    `json:"read"`
	CreatedAt   time.Time               `json:"created_at"`
	Alert       scraper.NormalizedAlert `json:"alert"`
}

// AlertFilter narrows a listing. Zero values match everything.
type AlertFilter struct {
	Source     string
	UnreadOnly bool
	Limit      int
}

// DefaultListLimit caps listings that do not set a limit.
const DefaultListLimit = 100

// EffectiveLimit returns the limit to apply.
func (f AlertFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return DefaultListLimit
	}
	return f.Limit
}

var hasher = sha256.New()

// Fingerprint identifies an alert for deduplication. The publication date is
// left out because undated items are stamped with the ingestion time.
func Fingerprint(source string, a scraper.NormalizedAlert) string {
	return hasher.Fields(source, a.Titulo, a.URLOrigen)
}
