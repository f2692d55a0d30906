package utils

import (
	"sync"
	"time"
)

// WorkerPool manages a pool of goroutines with rate limiting.
type WorkerPool struct {
	rateLimitMs int
	semaphore   chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	lastStart   time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate limit.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		rateLimitMs: rateLimitMs,
		semaphore:   make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job for execution in the pool. It blocks while all
// workers are busy.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		wp.enforceRateLimit()
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) enforceRateLimit() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	minInterval := time.Duration(wp.rateLimitMs) * time.Millisecond
	if !wp.lastStart.IsZero() {
		if elapsed := time.Since(wp.lastStart); elapsed < minInterval {
			time.Sleep(minInterval - elapsed)
		}
	}
	wp.lastStart = time.Now()
}

// KeySet is a thread-safe set of keys currently held by someone, used to
// keep at most one collection session per complex in flight.
type KeySet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{held: make(map[string]struct{})}
}

// Acquire returns true if the key was free and is now held.
func (s *KeySet) Acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.held[key]; exists {
		return false
	}
	s.held[key] = struct{}{}
	return true
}

// Release frees a held key. Releasing a free key is a no-op.
func (s *KeySet) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
}

// Contains reports whether the key is currently held.
func (s *KeySet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.held[key]
	return exists
}

// Size returns the number of held keys.
func (s *KeySet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}
