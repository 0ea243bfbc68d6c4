package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// memoryRecord wraps a Record with the access watermark used by cleanup.
type memoryRecord struct {
	rec        Record
	lastAccess time.Time
}

// MemoryStore implements Store with in-memory storage. Suitable for a
// single process (tests, development, single-instance deployments); use
// the Redis, Postgres, or Mongo store when multiple instances must share
// one global quota.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord

	// Configuration
	cleanupInterval time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// State management
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	// Observability metrics
	recordsCreated atomic.Int64
	recordsRemoved atomic.Int64
}

// MemoryStoreStats provides observability metrics for monitoring and debugging.
type MemoryStoreStats struct {
	RecordsCreated int64 // Total number of records created
	RecordsRemoved int64 // Total number of stale records removed
	ActiveRecords  int   // Current number of active records
	IsRunning      bool  // Whether the cleanup goroutine is running
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets the cleanup interval for removing stale records.
// Set to 0 to disable automatic cleanup. Removing an idle record is safe:
// it reappears at full capacity on the owner's next request.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.cleanupInterval = interval
	}
}

// WithMemoryStoreShutdownTimeout sets the graceful shutdown timeout.
func WithMemoryStoreShutdownTimeout(timeout time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if timeout > 0 {
			ms.shutdownTimeout = timeout
		}
	}
}

// WithMemoryStoreLogger sets the logger for internal operations.
func WithMemoryStoreLogger(logger *slog.Logger) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if logger != nil {
			ms.logger = logger
		}
	}
}

// NewMemoryStore creates a new in-memory store.
// Call Start() to begin background cleanup.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		records:         make(map[string]*memoryRecord),
		cleanupInterval: 5 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(ms)
	}

	return ms
}

// GetByOwner returns the owner's record or ErrRecordNotFound.
func (ms *MemoryStore) GetByOwner(ctx context.Context, ownerID string) (Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	mr, ok := ms.records[ownerID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	mr.lastAccess = time.Now()

	return mr.rec, nil
}

// Insert persists a new record, failing with ErrRecordConflict when the
// owner already has one.
func (ms *MemoryStore) Insert(ctx context.Context, rec Record) (Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.records[rec.OwnerID]; ok {
		return Record{}, ErrRecordConflict
	}

	rec.Version = 1
	ms.records[rec.OwnerID] = &memoryRecord{rec: rec, lastAccess: time.Now()}
	ms.recordsCreated.Add(1)

	return rec, nil
}

// Update overwrites the mutable fields if the stored version matches.
func (ms *MemoryStore) Update(ctx context.Context, ownerID string, tokens int, lastRefill time.Time, expectedVersion int64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	mr, ok := ms.records[ownerID]
	if !ok {
		return ErrRecordNotFound
	}
	if mr.rec.Version != expectedVersion {
		return ErrRecordConflict
	}

	mr.rec.Tokens = tokens
	mr.rec.LastRefill = lastRefill
	mr.rec.Version++
	mr.lastAccess = time.Now()

	return nil
}

// UpsertFull creates or overwrites the owner's record at full capacity.
func (ms *MemoryStore) UpsertFull(ctx context.Context, ownerID string, capacity int, now time.Time) (Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	mr, ok := ms.records[ownerID]
	if !ok {
		rec := Record{
			OwnerID:    ownerID,
			Tokens:     capacity,
			Capacity:   capacity,
			LastRefill: now,
			Version:    1,
		}
		ms.records[ownerID] = &memoryRecord{rec: rec, lastAccess: time.Now()}
		ms.recordsCreated.Add(1)
		return rec, nil
	}

	mr.rec.Tokens = capacity
	mr.rec.Capacity = capacity
	mr.rec.LastRefill = now
	mr.rec.Version++
	mr.lastAccess = time.Now()

	return mr.rec, nil
}

// Start begins the background cleanup goroutine. This is a blocking operation
// that runs until the context is cancelled. Use Run() for errgroup pattern or
// call this in a goroutine.
func (ms *MemoryStore) Start(ctx context.Context) error {
	ms.mu.Lock()
	if ms.cancel != nil {
		ms.mu.Unlock()
		return fmt.Errorf("memory store already started")
	}

	if ms.cleanupInterval <= 0 {
		ms.mu.Unlock()
		return fmt.Errorf("cleanup is not configured, got interval %v (use WithCleanupInterval)", ms.cleanupInterval)
	}

	ms.ctx, ms.cancel = context.WithCancel(ctx)
	ms.mu.Unlock()

	ms.running.Store(true)
	defer ms.running.Store(false)

	ms.logger.InfoContext(ms.ctx, "memory store cleanup started",
		slog.Duration("cleanup_interval", ms.cleanupInterval))

	ticker := time.NewTicker(ms.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ms.ctx.Done():
			ms.logger.InfoContext(context.Background(), "memory store cleanup stopping")
			return ms.ctx.Err()
		case <-ticker.C:
			ms.cleanupWithWait()
		}
	}
}

// Stop gracefully shuts down the background cleanup with a timeout.
// Returns an error if the shutdown timeout is exceeded.
func (ms *MemoryStore) Stop() error {
	ms.mu.Lock()
	if ms.cancel == nil {
		ms.mu.Unlock()
		return fmt.Errorf("memory store not started")
	}

	cancel := ms.cancel
	ms.cancel = nil
	ms.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), ms.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		ms.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ms.logger.InfoContext(context.Background(), "memory store stopped cleanly")
		return nil
	case <-ctx.Done():
		ms.logger.WarnContext(context.Background(), "memory store shutdown timeout exceeded",
			slog.Duration("timeout", ms.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", ms.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the cleanup, monitors context cancellation,
// and performs graceful shutdown when the context is cancelled.
func (ms *MemoryStore) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- ms.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = ms.Stop() // Ignore stop error in normal shutdown
			<-errCh       // Wait for Start() to exit
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// cleanupWithWait wraps removeStale so Stop can wait for an in-progress pass.
func (ms *MemoryStore) cleanupWithWait() {
	ms.mu.Lock()
	if ms.cancel == nil {
		ms.mu.Unlock()
		return
	}
	ms.wg.Add(1)
	ms.mu.Unlock()

	defer ms.wg.Done()
	ms.removeStale()
}

// removeStale removes records that haven't been accessed for over an hour.
// An evicted owner simply gets a fresh full-capacity record on their next
// request, so eviction never tightens anyone's quota.
func (ms *MemoryStore) removeStale() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	const staleThreshold = 1 * time.Hour

	removed := 0
	for ownerID, mr := range ms.records {
		if now.Sub(mr.lastAccess) > staleThreshold {
			delete(ms.records, ownerID)
			removed++
		}
	}

	if removed > 0 {
		ms.recordsRemoved.Add(int64(removed))
	}
}

// Stats returns current memory store statistics for observability.
// Thread-safe, can be called at any time.
func (ms *MemoryStore) Stats() MemoryStoreStats {
	ms.mu.Lock()
	isRunning := ms.cancel != nil
	activeRecords := len(ms.records)
	ms.mu.Unlock()

	return MemoryStoreStats{
		RecordsCreated: ms.recordsCreated.Load(),
		RecordsRemoved: ms.recordsRemoved.Load(),
		ActiveRecords:  activeRecords,
		IsRunning:      isRunning,
	}
}

// Healthcheck validates that the memory store is operational.
// Returns nil if healthy, suitable for use in health check endpoints.
func (ms *MemoryStore) Healthcheck(ctx context.Context) error {
	stats := ms.Stats()

	if ms.cleanupInterval > 0 && !stats.IsRunning {
		return fmt.Errorf("cleanup is configured but not running")
	}

	return nil
}

// Close stops the cleanup goroutine, ignoring lifecycle errors.
func (ms *MemoryStore) Close() {
	_ = ms.Stop()
}

var _ Store = (*MemoryStore)(nil)
