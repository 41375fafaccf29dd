package catalog

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rondot/internal"
)

// Snapshot is an immutable, timestamped copy of the client and product
// catalogs. Resolvers scan it freely; nothing mutates it after Build.
type Snapshot struct {
	Clients  []internal.ReferenceClient
	Products map[string]internal.ReferenceProduct
	BuiltAt  time.Time
}

// ProductByCode looks a product up by its case-normalized code.
func (s *Snapshot) ProductByCode(code string) (internal.ReferenceProduct, bool) {
	p, ok := s.Products[NormalizeCode(code)]
	return p, ok
}

// NormalizeCode is the canonical form product codes are indexed under.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Build assembles a Snapshot from raw catalog rows, indexing products by
// normalized code.
func Build(clients []internal.ReferenceClient, products []internal.ReferenceProduct) *Snapshot {
	byCode := make(map[string]internal.ReferenceProduct, len(products))
	for _, p := range products {
		key := NormalizeCode(p.Code)
		if key == "" {
			continue
		}
		byCode[key] = p
	}
	return &Snapshot{Clients: clients, Products: byCode, BuiltAt: time.Now().UTC()}
}

// Source supplies the full catalogs from the system of record.
type Source interface {
	FetchClients(ctx context.Context) ([]internal.ReferenceClient, error)
	FetchProducts(ctx context.Context) ([]internal.ReferenceProduct, error)
}

// Store holds the active Snapshot behind an atomic pointer. Refresh builds a
// complete replacement and swaps it in; in-flight readers keep whatever
// snapshot they already hold. A failed refresh never drops the previous one.
type Store struct {
	source Source
	maxAge time.Duration
	log    *zap.Logger

	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	lastErr     error
	lastAttempt time.Time
}

func NewStore(source Source, maxAge time.Duration, log *zap.Logger) *Store {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Store{source: source, maxAge: maxAge, log: log}
}

// Current returns the active snapshot, or nil when no refresh has succeeded yet.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	s.lastAttempt = time.Now().UTC()
	s.mu.Unlock()

	clients, err := s.source.FetchClients(ctx)
	if err != nil {
		return s.recordFailure(err)
	}
	products, err := s.source.FetchProducts(ctx)
	if err != nil {
		return s.recordFailure(err)
	}

	snap := Build(clients, products)
	s.current.Store(snap)

	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()

	s.log.Info("snapshot refreshed",
		zap.Int("clients", len(snap.Clients)),
		zap.Int("products", len(snap.Products)))
	return snap, nil
}

func (s *Store) recordFailure(err error) (*Snapshot, error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	prev := s.current.Load()
	if prev != nil {
		s.log.Warn("snapshot refresh failed, keeping previous snapshot",
			zap.Time("builtAt", prev.BuiltAt), zap.Error(err))
	} else {
		s.log.Warn("snapshot refresh failed, no snapshot available", zap.Error(err))
	}
	return prev, err
}

// SyncStatus describes snapshot freshness for callers deciding whether a
// resolution ran degraded.
type SyncStatus struct {
	HasSnapshot bool
	BuiltAt     time.Time
	Age         time.Duration
	Stale       bool
	LastError   string
}

func (s *Store) Status() SyncStatus {
	st := SyncStatus{}
	if snap := s.current.Load(); snap != nil {
		st.HasSnapshot = true
		st.BuiltAt = snap.BuiltAt
		st.Age = time.Since(snap.BuiltAt)
		st.Stale = st.Age > s.maxAge
	} else {
		st.Stale = true
	}

	s.mu.Lock()
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()
	return st
}

// Due reports whether a refresh should run: no snapshot at all, or the active
// one is past the configured max age.
func (s *Store) Due() bool {
	snap := s.current.Load()
	return snap == nil || time.Since(snap.BuiltAt) > s.maxAge
}
