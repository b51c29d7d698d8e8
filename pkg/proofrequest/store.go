package proofrequest

import (
	"context"
	"time"
)

// Store is the durable home of proof requests. Implementations apply
// transitions with Apply against their authoritative copy and must serialize
// writes to the same id.
type Store interface {
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Create(ctx context.Context, rec Record) (Record, error)
	ApplyTransition(ctx context.Context, id string, t Transition) (Record, error)
	// BulkApplyTransition applies t to each id independently and returns one
	// result per id in input order.
	BulkApplyTransition(ctx context.Context, ids []string, t Transition) ([]TransitionResult, error)
}

type TransitionResult struct {
	ID     string
	Record Record
	Err    error
}

// AttachmentStore turns an opaque attachment reference into a URL the
// browser can fetch. ok is false when there is nothing to link to.
type AttachmentStore interface {
	ResolveURL(ctx context.Context, ref string) (url string, ok bool)
}

// EventPublisher matches the platform's kafka producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

func bulkApplyEach(ctx context.Context, ids []string, t Transition, apply func(context.Context, string, Transition) (Record, error)) []TransitionResult {
	results := make([]TransitionResult, 0, len(ids))
	for _, id := range ids {
		rec, err := apply(ctx, id, t)
		results = append(results, TransitionResult{ID: id, Record: rec, Err: err})
	}
	return results
}
