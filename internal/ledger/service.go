package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sitestock-erp/sitestock/internal/shared"
)

// RepositoryPort abstracts repository usage for the store.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	QueryByKey(ctx context.Context, filter QueryFilter) ([]Entry, error)
	CurrentBalance(ctx context.Context, key Key) (decimal.Decimal, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	ListKeys(ctx context.Context) ([]Key, error)
	SumMovements(ctx context.Context, key Key) (decimal.Decimal, error)
}

// Metrics receives posting outcomes for observability counters.
type Metrics interface {
	MovementPosted(refType string)
	InsufficientStock()
}

// Store is the append-only movement engine: the single write path into the
// ledger and the read surface over the balance projection.
type Store struct {
	repo    RepositoryPort
	cache   *Cache
	metrics Metrics
}

// NewStore builds Store. Cache and metrics are optional.
func NewStore(repo RepositoryPort, cache *Cache, metrics Metrics) *Store {
	return &Store{repo: repo, cache: cache, metrics: metrics}
}

// Append posts a single movement in its own transaction.
func (s *Store) Append(ctx context.Context, mv Movement) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		entry, err = tx.Post(ctx, mv)
		return err
	})
	if err != nil {
		s.observeFailure(err)
		return Entry{}, err
	}
	s.ObservePosted(ctx, mv.RefType)
	return entry, nil
}

// ObservePosted records a successful posting and invalidates the register
// cache. Workflows that post through their own transaction call this after
// commit so cached balances never outlive the entries behind them.
func (s *Store) ObservePosted(ctx context.Context, refType RefType) {
	if s.metrics != nil {
		s.metrics.MovementPosted(string(refType))
	}
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
}

// ObserveRejection counts a posting rejected for insufficient stock.
func (s *Store) ObserveRejection(err error) {
	s.observeFailure(err)
}

func (s *Store) observeFailure(err error) {
	if s.metrics != nil && errors.Is(err, ErrNegativeBalance) {
		s.metrics.InsufficientStock()
	}
}

// CurrentBalance reads the projection for one key, zero when unseen.
func (s *Store) CurrentBalance(ctx context.Context, key Key) (decimal.Decimal, error) {
	return s.repo.CurrentBalance(ctx, key)
}

// QueryByKey lists the ledger for one key in stable ascending order. The
// result is capped at filter.Limit entries, DefaultQueryLimit when unset;
// hasMore reports whether the cap truncated the ledger.
func (s *Store) QueryByKey(ctx context.Context, filter QueryFilter) (entries []Entry, hasMore bool, err error) {
	if filter.ProjectID == 0 || filter.LocationID == 0 || filter.MaterialID == 0 {
		return nil, false, fmt.Errorf("ledger: project, location and material are required: %w", shared.ErrValidation)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	filter.Limit = limit + 1
	entries, err = s.repo.QueryByKey(ctx, filter)
	if err != nil {
		return nil, false, err
	}
	if len(entries) > limit {
		return entries[:limit], true, nil
	}
	return entries, false, nil
}

// ListBalances returns the stock register, served from cache when available.
func (s *Store) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	if filter.ProjectID == 0 {
		return nil, fmt.Errorf("ledger: project is required: %w", shared.ErrValidation)
	}
	if s.cache == nil {
		return s.repo.ListBalances(ctx, filter)
	}
	key, err := s.cache.BuildKey(ctx, "stock", "balances",
		fmt.Sprintf("%d", filter.ProjectID), fmt.Sprintf("%d", filter.LocationID))
	if err != nil {
		return s.repo.ListBalances(ctx, filter)
	}
	var balances []Balance
	err = s.cache.FetchJSON(ctx, key, &balances, func(ctx context.Context) (any, error) {
		return s.repo.ListBalances(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

// Drift reports a divergence between the projection and a full replay.
type Drift struct {
	Key       Key
	Projected decimal.Decimal
	Replayed  decimal.Decimal
}

// CheckConsistency replays every known key and compares against the
// projection. An empty result means the projection has not drifted.
func (s *Store) CheckConsistency(ctx context.Context) ([]Drift, error) {
	keys, err := s.repo.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu     sync.Mutex
		drifts []Drift
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			projected, err := s.repo.CurrentBalance(ctx, key)
			if err != nil {
				return err
			}
			replayed, err := s.repo.SumMovements(ctx, key)
			if err != nil {
				return err
			}
			if !projected.Equal(replayed) {
				mu.Lock()
				drifts = append(drifts, Drift{Key: key, Projected: projected, Replayed: replayed})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return drifts, nil
}
