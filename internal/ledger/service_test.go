package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitestock-erp/sitestock/internal/shared"
)

// memoryRepo implements RepositoryPort with a real append-only entry slice
// and a separately maintained projection, so replay checks exercise the same
// two sources of truth as the SQL store.
type memoryRepo struct {
	entries  []Entry
	balances map[Key]decimal.Decimal
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: map[Key]decimal.Decimal{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	snapshot := len(m.entries)
	balanceSnapshot := make(map[Key]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		balanceSnapshot[k] = v
	}
	if err := fn(ctx, &memoryTxStore{repo: m}); err != nil {
		m.entries = m.entries[:snapshot]
		m.balances = balanceSnapshot
		return err
	}
	return nil
}

func (m *memoryRepo) QueryByKey(_ context.Context, filter QueryFilter) ([]Entry, error) {
	var out []Entry
	for _, entry := range m.entries {
		if entry.Key() == filter.Key {
			out = append(out, entry)
		}
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryRepo) CurrentBalance(_ context.Context, key Key) (decimal.Decimal, error) {
	return m.balances[key], nil
}

func (m *memoryRepo) ListBalances(_ context.Context, filter BalanceFilter) ([]Balance, error) {
	var out []Balance
	for key, quantity := range m.balances {
		if key.ProjectID != filter.ProjectID {
			continue
		}
		if filter.LocationID != 0 && key.LocationID != filter.LocationID {
			continue
		}
		out = append(out, Balance{ProjectID: key.ProjectID, LocationID: key.LocationID, MaterialID: key.MaterialID, Quantity: quantity})
	}
	return out, nil
}

func (m *memoryRepo) ListKeys(_ context.Context) ([]Key, error) {
	seen := map[Key]bool{}
	var keys []Key
	for _, entry := range m.entries {
		if !seen[entry.Key()] {
			seen[entry.Key()] = true
			keys = append(keys, entry.Key())
		}
	}
	return keys, nil
}

func (m *memoryRepo) SumMovements(_ context.Context, key Key) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, entry := range m.entries {
		if entry.Key() == key {
			sum = sum.Add(entry.QtyIn).Sub(entry.QtyOut)
		}
	}
	return sum, nil
}

type memoryTxStore struct {
	repo *memoryRepo
}

func (t *memoryTxStore) Post(_ context.Context, mv Movement) (Entry, error) {
	if err := mv.Validate(); err != nil {
		return Entry{}, err
	}
	key := mv.Key()
	next := t.repo.balances[key].Add(mv.QtyIn).Sub(mv.QtyOut)
	if next.IsNegative() {
		return Entry{}, ErrNegativeBalance
	}
	t.repo.balances[key] = next
	entry := Entry{
		ID:         uuid.New(),
		Seq:        int64(len(t.repo.entries) + 1),
		ProjectID:  mv.ProjectID,
		LocationID: mv.LocationID,
		MaterialID: mv.MaterialID,
		RefType:    mv.RefType,
		RefID:      mv.RefID,
		QtyIn:      mv.QtyIn,
		QtyOut:     mv.QtyOut,
		Balance:    next,
		Remarks:    mv.Remarks,
	}
	t.repo.entries = append(t.repo.entries, entry)
	return entry, nil
}

type countingMetrics struct {
	posted       map[string]int
	insufficient int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{posted: map[string]int{}}
}

func (m *countingMetrics) MovementPosted(refType string) { m.posted[refType]++ }
func (m *countingMetrics) InsufficientStock()            { m.insufficient++ }

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func inbound(key Key, quantity string) Movement {
	return Movement{
		ProjectID:  key.ProjectID,
		LocationID: key.LocationID,
		MaterialID: key.MaterialID,
		RefType:    RefTypeGRN,
		RefID:      uuid.New(),
		QtyIn:      qty(quantity),
	}
}

func outbound(key Key, quantity string) Movement {
	return Movement{
		ProjectID:  key.ProjectID,
		LocationID: key.LocationID,
		MaterialID: key.MaterialID,
		RefType:    RefTypeIssue,
		RefID:      uuid.New(),
		QtyOut:     qty(quantity),
	}
}

func TestAppendMaintainsRunningBalance(t *testing.T) {
	repo := newMemoryRepo()
	store := NewStore(repo, nil, nil)
	key := Key{ProjectID: 1, LocationID: 2, MaterialID: 7}

	first, err := store.Append(context.Background(), inbound(key, "100"))
	require.NoError(t, err)
	require.True(t, first.Balance.Equal(qty("100")))

	second, err := store.Append(context.Background(), outbound(key, "30"))
	require.NoError(t, err)
	require.True(t, second.Balance.Equal(qty("70")))
	require.Greater(t, second.Seq, first.Seq)

	balance, err := store.CurrentBalance(context.Background(), key)
	require.NoError(t, err)
	require.True(t, balance.Equal(qty("70")))
}

func TestAppendRejectsNegativeBalance(t *testing.T) {
	repo := newMemoryRepo()
	metrics := newCountingMetrics()
	store := NewStore(repo, nil, metrics)
	key := Key{ProjectID: 1, LocationID: 2, MaterialID: 7}

	_, err := store.Append(context.Background(), inbound(key, "10"))
	require.NoError(t, err)

	_, err = store.Append(context.Background(), outbound(key, "11"))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 1, metrics.insufficient)

	// Rejected movement leaves no trace.
	require.Len(t, repo.entries, 1)
	balance, err := store.CurrentBalance(context.Background(), key)
	require.NoError(t, err)
	require.True(t, balance.Equal(qty("10")))
}

func TestAppendExactDrainToZeroAllowed(t *testing.T) {
	repo := newMemoryRepo()
	store := NewStore(repo, nil, nil)
	key := Key{ProjectID: 1, LocationID: 2, MaterialID: 7}

	_, err := store.Append(context.Background(), inbound(key, "10"))
	require.NoError(t, err)
	entry, err := store.Append(context.Background(), outbound(key, "10"))
	require.NoError(t, err)
	require.True(t, entry.Balance.IsZero())
}

func TestAppendCountsMovementsByRefType(t *testing.T) {
	repo := newMemoryRepo()
	metrics := newCountingMetrics()
	store := NewStore(repo, nil, metrics)
	key := Key{ProjectID: 1, LocationID: 2, MaterialID: 7}

	_, err := store.Append(context.Background(), inbound(key, "100"))
	require.NoError(t, err)
	_, err = store.Append(context.Background(), outbound(key, "5"))
	require.NoError(t, err)

	require.Equal(t, 1, metrics.posted["GRN"])
	require.Equal(t, 1, metrics.posted["ISSUE"])
}

func TestReplayMatchesProjection(t *testing.T) {
	repo := newMemoryRepo()
	store := NewStore(repo, nil, nil)
	keyA := Key{ProjectID: 1, LocationID: 2, MaterialID: 7}
	keyB := Key{ProjectID: 1, LocationID: 3, MaterialID: 7}

	for _, mv := range []Movement{
		inbound(keyA, "100"),
		outbound(keyA, "25.5"),
		inbound(keyB, "40"),
		outbound(keyA, "0.5"),
	} {
		_, err := store.Append(context.Background(), mv)
		require.NoError(t, err)
	}

	drifts, err := store.CheckConsistency(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestCheckConsistencyReportsDrift(t *testing.T) {
	repo := newMemoryRepo()
	store := NewStore(repo, nil, nil)
	key := Key{ProjectID: 1, LocationID: 2, MaterialID: 7}

	_, err := store.Append(context.Background(), inbound(key, "100"))
	require.NoError(t, err)

	// Corrupt the projection behind the ledger's back.
	repo.balances[key] = qty("90")

	drifts, err := store.CheckConsistency(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, key, drifts[0].Key)
	require.True(t, drifts[0].Projected.Equal(qty("90")))
	require.True(t, drifts[0].Replayed.Equal(qty("100")))
}

func TestQueryByKeyRequiresFullKey(t *testing.T) {
	store := NewStore(newMemoryRepo(), nil, nil)

	_, _, err := store.QueryByKey(context.Background(), QueryFilter{Key: Key{ProjectID: 1}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestQueryByKeyReportsTruncation(t *testing.T) {
	repo := newMemoryRepo()
	store := NewStore(repo, nil, nil)
	key := Key{ProjectID: 1, LocationID: 2, MaterialID: 7}

	for i := 0; i < 3; i++ {
		_, err := store.Append(context.Background(), Movement{
			ProjectID: key.ProjectID, LocationID: key.LocationID, MaterialID: key.MaterialID,
			RefType: RefTypeGRN, RefID: uuid.New(), QtyIn: qty("10"),
		})
		require.NoError(t, err)
	}

	entries, hasMore, err := store.QueryByKey(context.Background(), QueryFilter{Key: key, Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, hasMore)

	entries, hasMore, err = store.QueryByKey(context.Background(), QueryFilter{Key: key, Limit: 3})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.False(t, hasMore)
}

func TestListBalancesRequiresProject(t *testing.T) {
	store := NewStore(newMemoryRepo(), nil, nil)

	_, err := store.ListBalances(context.Background(), BalanceFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMovementValidate(t *testing.T) {
	key := Key{ProjectID: 1, LocationID: 2, MaterialID: 7}

	cases := []struct {
		name string
		mv   Movement
	}{
		{"missing key", Movement{RefType: RefTypeGRN, RefID: uuid.New(), QtyIn: qty("1")}},
		{"unknown ref type", Movement{ProjectID: 1, LocationID: 2, MaterialID: 7, RefType: "ADJUST", RefID: uuid.New(), QtyIn: qty("1")}},
		{"missing ref id", Movement{ProjectID: 1, LocationID: 2, MaterialID: 7, RefType: RefTypeGRN, QtyIn: qty("1")}},
		{"both sides zero", Movement{ProjectID: 1, LocationID: 2, MaterialID: 7, RefType: RefTypeGRN, RefID: uuid.New()}},
		{"both sides positive", Movement{ProjectID: 1, LocationID: 2, MaterialID: 7, RefType: RefTypeGRN, RefID: uuid.New(), QtyIn: qty("1"), QtyOut: qty("1")}},
		{"negative quantity", Movement{ProjectID: 1, LocationID: 2, MaterialID: 7, RefType: RefTypeGRN, RefID: uuid.New(), QtyIn: qty("-1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.mv.Validate(), shared.ErrValidation)
		})
	}

	require.NoError(t, inbound(key, "0.001").Validate())
	require.NoError(t, outbound(key, "3").Validate())
}
