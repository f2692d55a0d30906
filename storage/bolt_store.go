package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"complex-watch/models"
)

var (
	bucketGenerations  = []byte("generations")
	bucketChanges      = []byte("changes")
	bucketCollections  = []byte("collections")
	bucketTransactions = []byte("transactions")
)

// BoltStore is a single-file embedded Store for running without PostgreSQL.
//
// Layout: generations/<collection>/<capturedAt>_<generationID>,
// changes/<collection>/<detectedAt>|<change key>, collections/<collection>,
// transactions/<collection>/<tradeDate>|<transaction key>.
// Time prefixes are zero-padded UnixNano so keys sort chronologically.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt: create dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketGenerations, bucketChanges, bucketCollections, bucketTransactions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// timeKey clamps pre-epoch times (including the zero Time, whose UnixNano
// overflows) to the smallest key.
func timeKey(t time.Time) string {
	if t.Before(time.Unix(0, 0)) {
		return fmt.Sprintf("%020d", 0)
	}
	return fmt.Sprintf("%020d", t.UnixNano())
}

// Commit stores the whole generation under one key in a single transaction.
func (s *BoltStore) Commit(ctx context.Context, gen *models.Generation) error {
	if gen == nil || gen.GenerationID == "" || gen.CollectionID == "" {
		return fmt.Errorf("bolt: commit: incomplete generation")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(gen)
	if err != nil {
		return fmt.Errorf("bolt: commit: encode: %w", err)
	}
	key := []byte(timeKey(gen.CapturedAt) + "_" + gen.GenerationID)

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketGenerations).CreateBucketIfNotExists([]byte(gen.CollectionID))
		if err != nil {
			return fmt.Errorf("bolt: commit: %w", err)
		}
		if b.Get(key) != nil {
			return fmt.Errorf("bolt: commit: generation %s already exists", gen.GenerationID)
		}
		return b.Put(key, payload)
	})
}

// LatestTwoGenerations walks the collection's generations from the newest end.
func (s *BoltStore) LatestTwoGenerations(ctx context.Context, collectionID string) (*models.Generation, *models.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var gens []*models.Generation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGenerations).Bucket([]byte(collectionID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(gens) < 2; k, v = c.Prev() {
			var g models.Generation
			if err := json.Unmarshal(v, &g); err != nil {
				return fmt.Errorf("decode generation %s: %w", k, err)
			}
			gens = append(gens, &g)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bolt: latest generations: %w", err)
	}
	if len(gens) < 2 {
		return nil, nil, nil
	}
	return gens[1], gens[0], nil
}

func changeKey(c models.ChangeRecord) []byte {
	return []byte(timeKey(c.DetectedAt) + "|" + c.Key())
}

// SaveChanges appends changes; existing keys are left untouched so the read
// flag of an already stored change survives a repeated save.
func (s *BoltStore) SaveChanges(ctx context.Context, changes []models.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, c := range changes {
			b, err := tx.Bucket(bucketChanges).CreateBucketIfNotExists([]byte(c.CollectionID))
			if err != nil {
				return fmt.Errorf("bolt: save changes: %w", err)
			}
			key := changeKey(c)
			if b.Get(key) != nil {
				continue
			}
			payload, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("bolt: encode change %s: %w", c.Key(), err)
			}
			if err := b.Put(key, payload); err != nil {
				return fmt.Errorf("bolt: save change %s: %w", c.Key(), err)
			}
		}
		return nil
	})
}

// ChangesSince returns changes detected at or after since, newest first.
func (s *BoltStore) ChangesSince(ctx context.Context, collectionID string, since time.Time) ([]models.ChangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var changes []models.ChangeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges).Bucket([]byte(collectionID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek([]byte(timeKey(since))); k != nil; k, v = c.Next() {
			var rec models.ChangeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode change %s: %w", k, err)
			}
			changes = append(changes, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: changes since: %w", err)
	}

	sort.SliceStable(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if !a.DetectedAt.Equal(b.DetectedAt) {
			return a.DetectedAt.After(b.DetectedAt)
		}
		if a.ChangeType != b.ChangeType {
			return a.ChangeType < b.ChangeType
		}
		return a.ListingID < b.ListingID
	})
	return changes, nil
}

// UnreadCount returns the number of stored changes not yet marked as read.
func (s *BoltStore) UnreadCount(ctx context.Context, collectionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges).Bucket([]byte(collectionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec models.ChangeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode change %s: %w", k, err)
			}
			if !rec.Read {
				n++
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("bolt: unread count: %w", err)
	}
	return n, nil
}

// MarkRead flags every unread change detected before until as read.
func (s *BoltStore) MarkRead(ctx context.Context, collectionID string, until time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges).Bucket([]byte(collectionID))
		if b == nil {
			return nil
		}

		// Collect first; writing through a live cursor can invalidate it.
		var keys, values [][]byte
		limit := []byte(timeKey(until))
		c := b.Cursor()
		for k, v := c.First(); k != nil && string(k) < string(limit); k, v = c.Next() {
			var rec models.ChangeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode change %s: %w", k, err)
			}
			if rec.Read {
				continue
			}
			rec.Read = true
			payload, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			keys = append(keys, append([]byte(nil), k...))
			values = append(values, payload)
		}

		for i := range keys {
			if err := b.Put(keys[i], values[i]); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt: mark read: %w", err)
	}
	return n, nil
}

// SaveCollection merges metadata into the stored record; empty fields keep
// the previously known value.
func (s *BoltStore) SaveCollection(ctx context.Context, c models.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCollections)
		merged := c
		if prev := b.Get([]byte(c.ID)); prev != nil {
			var old models.Collection
			if err := json.Unmarshal(prev, &old); err != nil {
				return fmt.Errorf("bolt: decode collection %s: %w", c.ID, err)
			}
			if merged.Name == "" {
				merged.Name = old.Name
			}
			if merged.Households == 0 {
				merged.Households = old.Households
			}
			if merged.Address == "" {
				merged.Address = old.Address
			}
		}
		payload, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return b.Put([]byte(c.ID), payload)
	})
}

func transactionKey(t models.Transaction) []byte {
	return []byte(t.TradeDate + "|" + t.Key())
}

// SaveTransactions stores transactions not seen before and returns how many
// were new.
func (s *BoltStore) SaveTransactions(ctx context.Context, txs []models.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	saved := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, t := range txs {
			b, err := tx.Bucket(bucketTransactions).CreateBucketIfNotExists([]byte(t.CollectionID))
			if err != nil {
				return err
			}
			key := transactionKey(t)
			if b.Get(key) != nil {
				continue
			}
			payload, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode transaction %s: %w", t.Key(), err)
			}
			if err := b.Put(key, payload); err != nil {
				return err
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt: save transactions: %w", err)
	}
	return saved, nil
}

// TransactionsSince returns transactions traded on or after fromDate
// (YYYYMMDD), newest first. An empty fromDate returns everything.
func (s *BoltStore) TransactionsSince(ctx context.Context, collectionID, fromDate string) ([]models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var txs []models.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions).Bucket([]byte(collectionID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek([]byte(fromDate)); k != nil; k, v = c.Next() {
			var t models.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode transaction %s: %w", k, err)
			}
			// Undated deals sort after every date; keep them only for an open window.
			if t.TradeDate < fromDate {
				continue
			}
			txs = append(txs, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: transactions since: %w", err)
	}

	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return txs, nil
}

// Collection returns the stored metadata for id, or nil if none is known.
func (s *BoltStore) Collection(id string) (*models.Collection, error) {
	var out *models.Collection
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCollections).Get([]byte(id))
		if v == nil {
			return nil
		}
		out = &models.Collection{}
		return json.Unmarshal(v, out)
	})
	return out, err
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
