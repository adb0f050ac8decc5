package transfer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitestock-erp/sitestock/internal/ledger"
	"github.com/sitestock-erp/sitestock/internal/shared"
)

type memoryRepo struct {
	nextID    int64
	transfers map[int64]StockTransfer
	lines     map[int64][]Line
	entries   []ledger.Entry
	balances  map[ledger.Key]decimal.Decimal
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextID:    1,
		transfers: map[int64]StockTransfer{},
		lines:     map[int64][]Line{},
		balances:  map[ledger.Key]decimal.Decimal{},
	}
}

func (m *memoryRepo) seed(key ledger.Key, quantity string) {
	m.balances[key] = decimal.RequireFromString(quantity)
}

func (m *memoryRepo) total(projectID, materialID int64) decimal.Decimal {
	sum := decimal.Zero
	for key, balance := range m.balances {
		if key.ProjectID == projectID && key.MaterialID == materialID {
			sum = sum.Add(balance)
		}
	}
	return sum
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	entriesSnapshot := len(m.entries)
	balanceSnapshot := make(map[ledger.Key]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		balanceSnapshot[k] = v
	}
	transfersSnapshot := make(map[int64]StockTransfer, len(m.transfers))
	for k, v := range m.transfers {
		transfersSnapshot[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.entries = m.entries[:entriesSnapshot]
		m.balances = balanceSnapshot
		m.transfers = transfersSnapshot
		return err
	}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (StockTransfer, []Line, error) {
	transfer, ok := m.transfers[id]
	if !ok {
		return StockTransfer{}, nil, shared.ErrNotFound
	}
	return transfer, m.lines[id], nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) CreateTransfer(_ context.Context, transfer StockTransfer) (int64, error) {
	transfer.ID = t.repo.nextID
	t.repo.nextID++
	t.repo.transfers[transfer.ID] = transfer
	return transfer.ID, nil
}

func (t *memoryTx) InsertLine(_ context.Context, line Line) error {
	line.ID = t.repo.nextID
	t.repo.nextID++
	t.repo.lines[line.TransferID] = append(t.repo.lines[line.TransferID], line)
	return nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, transferID int64, status Status) error {
	transfer, ok := t.repo.transfers[transferID]
	if !ok {
		return shared.ErrNotFound
	}
	transfer.Status = status
	t.repo.transfers[transferID] = transfer
	return nil
}

func (t *memoryTx) SetApproval(_ context.Context, transferID int64, actorID int64) error {
	transfer, ok := t.repo.transfers[transferID]
	if !ok {
		return shared.ErrNotFound
	}
	transfer.ApprovedBy = actorID
	t.repo.transfers[transferID] = transfer
	return nil
}

func (t *memoryTx) SetExecution(_ context.Context, transferID int64, actorID int64) error {
	transfer, ok := t.repo.transfers[transferID]
	if !ok {
		return shared.ErrNotFound
	}
	transfer.ExecutedBy = actorID
	t.repo.transfers[transferID] = transfer
	return nil
}

func (t *memoryTx) PostLedger(_ context.Context, mv ledger.Movement) (ledger.Entry, error) {
	if err := mv.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	key := mv.Key()
	next := t.repo.balances[key].Add(mv.QtyIn).Sub(mv.QtyOut)
	if next.IsNegative() {
		return ledger.Entry{}, ledger.ErrNegativeBalance
	}
	t.repo.balances[key] = next
	entry := ledger.Entry{
		Seq:        int64(len(t.repo.entries) + 1),
		ProjectID:  mv.ProjectID,
		LocationID: mv.LocationID,
		MaterialID: mv.MaterialID,
		RefType:    mv.RefType,
		RefID:      mv.RefID,
		QtyIn:      mv.QtyIn,
		QtyOut:     mv.QtyOut,
		Balance:    next,
	}
	t.repo.entries = append(t.repo.entries, entry)
	return entry, nil
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func draftTransfer(t *testing.T, svc *Service, lines []CreateLineInput) StockTransfer {
	t.Helper()
	transfer, err := svc.Create(context.Background(), CreateInput{
		ProjectID:      1,
		FromLocationID: 2,
		ToLocationID:   3,
		Lines:          lines,
	}, shared.Actor{ID: 9})
	require.NoError(t, err)
	return transfer
}

func TestTransferExecuteMovesStockAndConservesTotal(t *testing.T) {
	repo := newMemoryRepo()
	from := ledger.Key{ProjectID: 1, LocationID: 2, MaterialID: 7}
	to := ledger.Key{ProjectID: 1, LocationID: 3, MaterialID: 7}
	repo.seed(from, "100")
	svc := NewService(repo, nil, nil, nil, nil)
	actor := shared.Actor{ID: 9}

	transfer := draftTransfer(t, svc, []CreateLineInput{{MaterialID: 7, Qty: qty("30")}})
	before := repo.total(1, 7)

	_, err := svc.Approve(context.Background(), transfer.ID, actor)
	require.NoError(t, err)
	executed, err := svc.Execute(context.Background(), transfer.ID, actor)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, executed.Status)
	require.Equal(t, actor.ID, executed.ExecutedBy)

	require.True(t, repo.balances[from].Equal(qty("70")))
	require.True(t, repo.balances[to].Equal(qty("30")))
	require.True(t, repo.total(1, 7).Equal(before), "project stock must be conserved")

	// Both sides carry the same reference.
	require.Len(t, repo.entries, 2)
	require.Equal(t, repo.entries[0].RefID, repo.entries[1].RefID)
	require.Equal(t, ledger.RefTypeTransfer, repo.entries[0].RefType)
	require.True(t, repo.entries[0].QtyOut.Equal(qty("30")))
	require.True(t, repo.entries[1].QtyIn.Equal(qty("30")))
}

func TestTransferExecuteInsufficientSourceLeavesBothSidesUntouched(t *testing.T) {
	repo := newMemoryRepo()
	from := ledger.Key{ProjectID: 1, LocationID: 2, MaterialID: 7}
	to := ledger.Key{ProjectID: 1, LocationID: 3, MaterialID: 7}
	repo.seed(from, "10")
	svc := NewService(repo, nil, nil, nil, nil)
	actor := shared.Actor{ID: 9}

	transfer := draftTransfer(t, svc, []CreateLineInput{{MaterialID: 7, Qty: qty("30")}})
	_, err := svc.Approve(context.Background(), transfer.ID, actor)
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), transfer.ID, actor)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	require.Empty(t, repo.entries)
	require.True(t, repo.balances[from].Equal(qty("10")))
	require.True(t, repo.balances[to].IsZero())

	stored, _, err := svc.Get(context.Background(), transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, stored.Status)
}

func TestTransferExecutePartialCoverageRollsBackAllLines(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(ledger.Key{ProjectID: 1, LocationID: 2, MaterialID: 7}, "100")
	repo.seed(ledger.Key{ProjectID: 1, LocationID: 2, MaterialID: 8}, "1")
	svc := NewService(repo, nil, nil, nil, nil)
	actor := shared.Actor{ID: 9}

	transfer := draftTransfer(t, svc, []CreateLineInput{
		{MaterialID: 7, Qty: qty("50")},
		{MaterialID: 8, Qty: qty("5")},
	})
	_, err := svc.Approve(context.Background(), transfer.ID, actor)
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), transfer.ID, actor)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	require.Empty(t, repo.entries)
	require.True(t, repo.balances[ledger.Key{ProjectID: 1, LocationID: 2, MaterialID: 7}].Equal(qty("100")))
}

func TestTransferCreateRejectsSameLocation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID:      1,
		FromLocationID: 2,
		ToLocationID:   2,
		Lines:          []CreateLineInput{{MaterialID: 7, Qty: qty("1")}},
	}, shared.Actor{ID: 9})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferExecuteRequiresApproved(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(ledger.Key{ProjectID: 1, LocationID: 2, MaterialID: 7}, "100")
	svc := NewService(repo, nil, nil, nil, nil)

	transfer := draftTransfer(t, svc, []CreateLineInput{{MaterialID: 7, Qty: qty("1")}})

	_, err := svc.Execute(context.Background(), transfer.ID, shared.Actor{ID: 9})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

// stubRefs allows only the ids it lists.
type stubRefs struct {
	projects  map[int64]bool
	locations map[int64]bool
	materials map[int64]bool
}

func (s stubRefs) CheckProject(_ context.Context, id int64) error {
	if s.projects[id] {
		return nil
	}
	return shared.ErrNotFound
}

func (s stubRefs) CheckLocation(_ context.Context, _ int64, id int64) error {
	if s.locations[id] {
		return nil
	}
	return shared.ErrNotFound
}

func (s stubRefs) CheckMaterials(_ context.Context, ids []int64) error {
	for _, id := range ids {
		if !s.materials[id] {
			return shared.ErrNotFound
		}
	}
	return nil
}

func TestTransferCreateKeepsVehicleAndDriver(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	created, err := svc.Create(context.Background(), CreateInput{
		ProjectID:      1,
		FromLocationID: 2,
		ToLocationID:   3,
		VehicleNo:      "KA-01-AB-1234",
		DriverName:     "Ravi Kumar",
		Lines:          []CreateLineInput{{MaterialID: 7, Qty: qty("5")}},
	}, shared.Actor{ID: 9})
	require.NoError(t, err)
	require.Equal(t, "KA-01-AB-1234", created.VehicleNo)
	require.Equal(t, "Ravi Kumar", created.DriverName)

	stored, _, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "KA-01-AB-1234", stored.VehicleNo)
	require.Equal(t, "Ravi Kumar", stored.DriverName)
}

func TestTransferCreateRejectsUnknownReferences(t *testing.T) {
	refs := stubRefs{
		projects:  map[int64]bool{1: true},
		locations: map[int64]bool{2: true, 3: true},
		materials: map[int64]bool{7: true},
	}
	svc := NewService(newMemoryRepo(), refs, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID:      1,
		FromLocationID: 2,
		ToLocationID:   3,
		Lines:          []CreateLineInput{{MaterialID: 99, Qty: qty("1")}},
	}, shared.Actor{ID: 9})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(context.Background(), CreateInput{
		ProjectID:      1,
		FromLocationID: 2,
		ToLocationID:   4,
		Lines:          []CreateLineInput{{MaterialID: 7, Qty: qty("1")}},
	}, shared.Actor{ID: 9})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(context.Background(), CreateInput{
		ProjectID:      5,
		FromLocationID: 2,
		ToLocationID:   3,
		Lines:          []CreateLineInput{{MaterialID: 7, Qty: qty("1")}},
	}, shared.Actor{ID: 9})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
