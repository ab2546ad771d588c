// Package queue defines the background run queue contract.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/govwatch/internal/scraper"
)

// ErrClosed is returned by queues that were shut down.
var ErrClosed = errors.New("queue closed")

// Item is a run whose session was already opened and which waits for a
// worker.
type Item struct {
	SessionID  string             `json:"session_id"`
	Options    scraper.RunOptions `json:"options"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
}

// Queue hands items from the API to the workers.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context) (Item, error)
}
