package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"complex-watch/models"
	"complex-watch/storage"
	"complex-watch/utils"
)

var (
	// ErrSessionInProgress is returned when a collection already has a
	// session running in this process.
	ErrSessionInProgress = errors.New("collection session already in progress")

	// ErrEmptySnapshot marks a session that collected no listings and was
	// discarded instead of committed.
	ErrEmptySnapshot = errors.New("session collected no listings")
)

// Collector runs one collection session against the marketplace, feeding
// every captured response into agg until agg reports completion.
type Collector interface {
	Collect(ctx context.Context, agg *Aggregator) error
}

// TrackerOptions tune a Tracker. Zero limits fall back to the aggregator
// defaults.
type TrackerOptions struct {
	StallLimit  int
	MaxAttempts int
	CommitEmpty bool
	// Names labels collections in digests, keyed by collection id.
	Names map[string]string
}

// TrackResult is the outcome of one Track call.
type TrackResult struct {
	Generation *models.Generation
	Changes    []models.ChangeRecord
	Summary    models.Summary
	Skipped    bool
	// NewTransactions counts real-transaction records stored for the first time.
	NewTransactions int
}

// TrackOutcome pairs a collection with the result of tracking it.
type TrackOutcome struct {
	CollectionID string
	Result       *TrackResult
	Err          error
}

// Tracker runs collect, commit, detect and summarize for tracked complexes.
type Tracker struct {
	collector Collector
	store     storage.Store
	logger    *utils.Logger
	opts      TrackerOptions
	inFlight  *utils.KeySet

	now   func() time.Time
	newID func() string
}

// NewTracker wires a Tracker.
func NewTracker(collector Collector, store storage.Store, logger *utils.Logger, opts TrackerOptions) *Tracker {
	return &Tracker{
		collector: collector,
		store:     store,
		logger:    logger,
		opts:      opts,
		inFlight:  utils.NewKeySet(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Track collects one new generation for collectionID, commits it and diffs
// it against the previous generation. Detected changes are appended to the
// change log before returning.
func (t *Tracker) Track(ctx context.Context, collectionID string) (*TrackResult, error) {
	if !t.inFlight.Acquire(collectionID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionInProgress, collectionID)
	}
	defer t.inFlight.Release(collectionID)

	agg := NewAggregator(collectionID, t.newID())
	agg.SetLimits(t.opts.StallLimit, t.opts.MaxAttempts)

	start := t.now()
	t.logger.Info("[tracker] %s: session %s started", collectionID, agg.GenerationID())

	if err := t.collector.Collect(ctx, agg); err != nil {
		return nil, fmt.Errorf("collect %s: %w", collectionID, err)
	}

	records := agg.Finalize()
	collected, reported := agg.Progress()
	t.logger.Info("[tracker] %s: collected %d/%d listings in %d attempts (%s)",
		collectionID, collected, reported, agg.Attempts(), t.now().Sub(start).Round(time.Millisecond))

	gen := &models.Generation{
		CollectionID: collectionID,
		GenerationID: agg.GenerationID(),
		CapturedAt:   t.now().UTC(),
		Records:      records,
	}
	result := &TrackResult{Generation: gen, Changes: []models.ChangeRecord{}}

	if len(records) == 0 && !t.opts.CommitEmpty {
		t.logger.Warn("[tracker] %s: empty session discarded", collectionID)
		result.Skipped = true
		return result, fmt.Errorf("%w: %s", ErrEmptySnapshot, collectionID)
	}

	if err := t.store.Commit(ctx, gen); err != nil {
		return nil, fmt.Errorf("commit %s: %w", collectionID, err)
	}

	if meta := agg.Collection(); meta != nil {
		if err := t.store.SaveCollection(ctx, *meta); err != nil {
			t.logger.Warn("[tracker] %s: save metadata: %v", collectionID, err)
		}
	}

	if txs := agg.Transactions(); len(txs) > 0 {
		saved, err := t.store.SaveTransactions(ctx, txs)
		if err != nil {
			t.logger.Warn("[tracker] %s: save transactions: %v", collectionID, err)
		} else {
			result.NewTransactions = saved
			t.logger.Info("[tracker] %s: %d transactions seen, %d new", collectionID, len(txs), saved)
		}
	}

	older, newer, err := t.store.LatestTwoGenerations(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("load generations %s: %w", collectionID, err)
	}
	if older == nil || newer == nil {
		t.logger.Info("[tracker] %s: first generation stored, nothing to compare yet", collectionID)
		return result, nil
	}

	changes := Detect(older, newer)
	if err := t.store.SaveChanges(ctx, changes); err != nil {
		return nil, fmt.Errorf("save changes %s: %w", collectionID, err)
	}

	result.Changes = changes
	result.Summary = Summarize(changes)
	t.logger.Info("[tracker] %s: %d changes (new %d, removed %d, up %d, down %d)",
		collectionID, result.Summary.Total, result.Summary.New, result.Summary.Removed,
		result.Summary.PriceUp, result.Summary.PriceDown)
	return result, nil
}

// TrackAll tracks every collection on pool. Outcomes keep the order of ids.
func (t *Tracker) TrackAll(ctx context.Context, ids []string, pool *utils.WorkerPool) []TrackOutcome {
	outcomes := make([]TrackOutcome, len(ids))
	var mu sync.Mutex

	for i, id := range ids {
		i, id := i, id
		pool.Submit(func() {
			if ctx.Err() != nil {
				mu.Lock()
				outcomes[i] = TrackOutcome{CollectionID: id, Err: ctx.Err()}
				mu.Unlock()
				return
			}
			res, err := t.Track(ctx, id)
			if err != nil && !errors.Is(err, ErrEmptySnapshot) {
				t.logger.Error("[tracker] %s: %v", id, err)
			}
			mu.Lock()
			outcomes[i] = TrackOutcome{CollectionID: id, Result: res, Err: err}
			mu.Unlock()
		})
	}
	pool.Wait()

	return outcomes
}

// CollectionDigest is the change activity of one collection over a window.
type CollectionDigest struct {
	CollectionID string
	Name         string
	Changes      []models.ChangeRecord
	Summary      models.Summary
	Unread       int
	// Transactions registered on or after the window start, newest first.
	Transactions []models.Transaction
}

// Digest loads the changes detected between since and now for every id,
// along with the real transactions dated inside the window.
func (t *Tracker) Digest(ctx context.Context, ids []string, since time.Time) ([]CollectionDigest, error) {
	until := t.now()
	digests := make([]CollectionDigest, 0, len(ids))
	for _, id := range ids {
		stored, err := t.store.ChangesSince(ctx, id, since)
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", id, err)
		}
		changes := Window(stored, since, until)
		unread, err := t.store.UnreadCount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", id, err)
		}
		txs, err := t.store.TransactionsSince(ctx, id, since.Format("20060102"))
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", id, err)
		}
		digests = append(digests, CollectionDigest{
			CollectionID: id,
			Name:         t.opts.Names[id],
			Changes:      changes,
			Summary:      Summarize(changes),
			Unread:       unread,
			Transactions: txs,
		})
	}
	return digests, nil
}

// MarkRead flags every change detected before until as read for each id and
// returns the total number of records updated.
func (t *Tracker) MarkRead(ctx context.Context, ids []string, until time.Time) (int, error) {
	total := 0
	for _, id := range ids {
		n, err := t.store.MarkRead(ctx, id, until)
		if err != nil {
			return total, fmt.Errorf("mark read %s: %w", id, err)
		}
		total += n
	}
	return total, nil
}
