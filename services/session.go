package services

import (
	"context"
	"fmt"
	"time"

	"complex-watch/models"
)

// Pager performs one pagination step (a scroll) and reports whether the
// viewport moved.
type Pager interface {
	Advance(ctx context.Context) (moved bool, err error)
}

// PagerFunc adapts a function to the Pager interface.
type PagerFunc func(ctx context.Context) (bool, error)

func (f PagerFunc) Advance(ctx context.Context) (bool, error) { return f(ctx) }

// RunSession drives a collection session until the aggregator decides it is
// complete. Each round advances the pager, waits delay so in-flight responses
// can land, then drains every queued event into agg before asking
// agg.ShouldContinue. All aggregator calls happen on the calling goroutine.
// Cancelling ctx abandons the session; nothing is committed.
func RunSession(ctx context.Context, agg *Aggregator, pager Pager, events <-chan models.ResponseEvent, delay time.Duration) error {
	drain(agg, events)

	for {
		moved, err := pager.Advance(ctx)
		if err != nil {
			return fmt.Errorf("session: advance: %w", err)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		drain(agg, events)
		if !agg.ShouldContinue(moved) {
			return nil
		}
	}
}

// drain ingests every event currently queued without blocking.
func drain(agg *Aggregator, events <-chan models.ResponseEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			Dispatch(agg, ev)
		default:
			return
		}
	}
}

// Dispatch gates, classifies and ingests one response event. Events that are
// not successful JSON responses, or whose kind is unrecognized, are dropped.
func Dispatch(agg *Aggregator, ev models.ResponseEvent) models.Kind {
	payload, ok := DecodeEvent(ev)
	if !ok {
		return models.KindUnrecognized
	}
	kind := Classify(ev.SourceURL, payload)
	if kind != models.KindUnrecognized {
		agg.Ingest(kind, payload, ev.SourceURL)
	}
	return kind
}
