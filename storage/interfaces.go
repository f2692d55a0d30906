package storage

import (
	"context"
	"time"

	"complex-watch/models"
)

// SnapshotStore persists generations. Commit must be all-or-nothing: a
// reader never observes a partially written generation.
type SnapshotStore interface {
	Commit(ctx context.Context, gen *models.Generation) error
	// LatestTwoGenerations returns the two newest generations ordered by
	// capture time, or two nils when fewer than two exist.
	LatestTwoGenerations(ctx context.Context, collectionID string) (older, newer *models.Generation, err error)
	Close() error
}

// ChangeStore is the append-only log of detected changes. Saving the same
// change twice is a no-op.
type ChangeStore interface {
	SaveChanges(ctx context.Context, changes []models.ChangeRecord) error
	ChangesSince(ctx context.Context, collectionID string, since time.Time) ([]models.ChangeRecord, error)
	UnreadCount(ctx context.Context, collectionID string) (int, error)
	MarkRead(ctx context.Context, collectionID string, until time.Time) (int, error)
}

// CollectionStore keeps descriptive metadata about tracked complexes.
type CollectionStore interface {
	SaveCollection(ctx context.Context, c models.Collection) error
}

// TransactionStore keeps real-transaction records. Saving a transaction that
// is already stored is a no-op; the returned count covers new records only.
type TransactionStore interface {
	SaveTransactions(ctx context.Context, txs []models.Transaction) (int, error)
	TransactionsSince(ctx context.Context, collectionID, fromDate string) ([]models.Transaction, error)
}

// Store is the full persistence surface used by the tracker.
type Store interface {
	SnapshotStore
	ChangeStore
	CollectionStore
	TransactionStore
}

// ChangeWriter exports change records to an external sink.
type ChangeWriter interface {
	WriteChanges(changes []models.ChangeRecord) error
	Close() error
}
