package sessionlog

import "context"

// Sink consumes batches of entries. Each batch holds a single session's
// entries in append order. Implementations must be safe for repeated calls
// and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Entry) error
	Close(ctx context.Context) error
}
