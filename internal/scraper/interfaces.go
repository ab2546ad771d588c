package scraper

import (
	"context"
	"io"
	"time"
)

// TenderRepository persists tenders keyed by nomenclature.
type TenderRepository interface {
	// UpsertTender inserts or updates the tender and replaces its stages.
	UpsertTender(ctx context.Context, tender TenderRecord) error
}

// AlertStore is the distribution collaborator's persistence contract.
type AlertStore interface {
	// Save stores the alerts of source and returns the ones not seen before.
	Save(ctx context.Context, source string, alerts []NormalizedAlert) ([]NormalizedAlert, error)
	// PurgeRead deletes alerts of source stored before cutoff that are
	// already marked read.
	PurgeRead(ctx context.Context, source string, cutoff time.Time) (int64, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes alert notifications to Pub/Sub, Kafka or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
