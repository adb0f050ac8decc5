package grn

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitestock-erp/sitestock/internal/ledger"
	"github.com/sitestock-erp/sitestock/internal/procurement"
	"github.com/sitestock-erp/sitestock/internal/shared"
)

type memoryRepo struct {
	nextID  int64
	grns    map[int64]GoodsReceipt
	lines   map[int64][]Line
	entries []ledger.Entry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, grns: map[int64]GoodsReceipt{}, lines: map[int64][]Line{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := len(m.entries)
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.entries = m.entries[:snapshot]
		return err
	}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (GoodsReceipt, []Line, error) {
	grn, ok := m.grns[id]
	if !ok {
		return GoodsReceipt{}, nil, shared.ErrNotFound
	}
	return grn, m.lines[id], nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) CreateGRN(_ context.Context, grn GoodsReceipt) (int64, error) {
	grn.ID = t.repo.nextID
	t.repo.nextID++
	t.repo.grns[grn.ID] = grn
	return grn.ID, nil
}

func (t *memoryTx) InsertLine(_ context.Context, line Line) error {
	line.ID = t.repo.nextID
	t.repo.nextID++
	t.repo.lines[line.GRNID] = append(t.repo.lines[line.GRNID], line)
	return nil
}

func (t *memoryTx) UpdateLineReceipt(_ context.Context, lineID int64, received, accepted, rejected decimal.Decimal) error {
	for grnID, lines := range t.repo.lines {
		for i, line := range lines {
			if line.ID == lineID {
				line.ReceivedQty = received
				line.AcceptedQty = accepted
				line.RejectedQty = rejected
				t.repo.lines[grnID][i] = line
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (t *memoryTx) UpdateStatus(_ context.Context, grnID int64, status Status) error {
	grn, ok := t.repo.grns[grnID]
	if !ok {
		return shared.ErrNotFound
	}
	grn.Status = status
	t.repo.grns[grnID] = grn
	return nil
}

func (t *memoryTx) SetApproval(_ context.Context, grnID int64, actorID int64) error {
	grn, ok := t.repo.grns[grnID]
	if !ok {
		return shared.ErrNotFound
	}
	grn.ApprovedBy = actorID
	t.repo.grns[grnID] = grn
	return nil
}

func (t *memoryTx) PostLedger(_ context.Context, mv ledger.Movement) (ledger.Entry, error) {
	if err := mv.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	entry := ledger.Entry{
		Seq:        int64(len(t.repo.entries) + 1),
		ProjectID:  mv.ProjectID,
		LocationID: mv.LocationID,
		MaterialID: mv.MaterialID,
		RefType:    mv.RefType,
		RefID:      mv.RefID,
		QtyIn:      mv.QtyIn,
		QtyOut:     mv.QtyOut,
	}
	t.repo.entries = append(t.repo.entries, entry)
	return entry, nil
}

type memoryPO struct {
	po       procurement.PurchaseOrder
	lines    []procurement.POLine
	received []procurement.ReceivedLine
}

func (m *memoryPO) GetApprovedPO(_ context.Context, poID int64) (procurement.PurchaseOrder, []procurement.POLine, error) {
	if poID != m.po.ID {
		return procurement.PurchaseOrder{}, nil, shared.ErrNotFound
	}
	return m.po, m.lines, nil
}

func (m *memoryPO) NotifyReceived(_ context.Context, _ int64, lines []procurement.ReceivedLine) error {
	m.received = append(m.received, lines...)
	return nil
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(po *memoryPO) (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	return NewService(repo, po, nil, nil, nil, nil), repo
}

func approvedPO() *memoryPO {
	return &memoryPO{
		po: procurement.PurchaseOrder{ID: 10, Status: procurement.POStatusApproved},
		lines: []procurement.POLine{
			{ID: 100, POID: 10, MaterialID: 7, OrderedQty: qty("500")},
		},
	}
}

func TestGRNPartialAcceptancePostsAcceptedOnly(t *testing.T) {
	po := approvedPO()
	svc, repo := newTestService(po)
	actor := shared.Actor{ID: 42, Name: "storekeeper"}

	grn, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  1,
		LocationID: 2,
		POID:       10,
		Lines:      []CreateLineInput{{POLineID: 100}},
	}, actor)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, grn.Status)

	err = svc.RecordReceipt(context.Background(), grn.ID, []ReceiptLineInput{
		{POLineID: 100, ReceivedQty: qty("480"), AcceptedQty: qty("470"), RejectedQty: qty("10")},
	}, actor)
	require.NoError(t, err)

	stored, _, err := svc.Get(context.Background(), grn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQCPending, stored.Status)

	approved, err := svc.Approve(context.Background(), grn.ID, actor)
	require.NoError(t, err)
	require.Equal(t, StatusPartialApproved, approved.Status)
	require.Equal(t, actor.ID, approved.ApprovedBy)

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	require.Equal(t, ledger.RefTypeGRN, entry.RefType)
	require.True(t, entry.QtyIn.Equal(qty("470")), "ledger must carry accepted qty, got %s", entry.QtyIn)
	require.True(t, entry.QtyOut.IsZero())

	require.Len(t, po.received, 1)
	require.True(t, po.received[0].AcceptedQty.Equal(qty("470")))
}

func TestGRNFullRejectionLeavesLedgerUntouched(t *testing.T) {
	po := approvedPO()
	svc, repo := newTestService(po)
	actor := shared.Actor{ID: 42, Name: "storekeeper"}

	grn, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  1,
		LocationID: 2,
		POID:       10,
		Lines: []CreateLineInput{
			{POLineID: 100, ReceivedQty: qty("500"), AcceptedQty: qty("0"), RejectedQty: qty("500")},
		},
	}, actor)
	require.NoError(t, err)
	require.Equal(t, StatusQCPending, grn.Status)

	approved, err := svc.Approve(context.Background(), grn.ID, actor)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, approved.Status)
	require.Empty(t, repo.entries)
	require.Empty(t, po.received)
}

func TestGRNFullAcceptanceApproves(t *testing.T) {
	po := approvedPO()
	svc, repo := newTestService(po)
	actor := shared.Actor{ID: 1}

	grn, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  1,
		LocationID: 2,
		POID:       10,
		Lines: []CreateLineInput{
			{POLineID: 100, ReceivedQty: qty("500"), AcceptedQty: qty("500"), RejectedQty: qty("0")},
		},
	}, actor)
	require.NoError(t, err)

	approved, err := svc.Approve(context.Background(), grn.ID, actor)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Len(t, repo.entries, 1)
}

func TestGRNReceiptRejectsMismatchedQuantities(t *testing.T) {
	po := approvedPO()
	svc, _ := newTestService(po)
	actor := shared.Actor{ID: 1}

	grn, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  1,
		LocationID: 2,
		POID:       10,
		Lines:      []CreateLineInput{{POLineID: 100}},
	}, actor)
	require.NoError(t, err)

	err = svc.RecordReceipt(context.Background(), grn.ID, []ReceiptLineInput{
		{POLineID: 100, ReceivedQty: qty("480"), AcceptedQty: qty("470"), RejectedQty: qty("5")},
	}, actor)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGRNCreateRejectsForeignPOLine(t *testing.T) {
	po := approvedPO()
	svc, _ := newTestService(po)

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  1,
		LocationID: 2,
		POID:       10,
		Lines:      []CreateLineInput{{POLineID: 999}},
	}, shared.Actor{ID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGRNApproveRequiresQCPending(t *testing.T) {
	po := approvedPO()
	svc, _ := newTestService(po)
	actor := shared.Actor{ID: 1}

	grn, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  1,
		LocationID: 2,
		POID:       10,
		Lines:      []CreateLineInput{{POLineID: 100}},
	}, actor)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), grn.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestGRNApprovedIsImmutable(t *testing.T) {
	po := approvedPO()
	svc, _ := newTestService(po)
	actor := shared.Actor{ID: 1}

	grn, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  1,
		LocationID: 2,
		POID:       10,
		Lines: []CreateLineInput{
			{POLineID: 100, ReceivedQty: qty("500"), AcceptedQty: qty("500"), RejectedQty: qty("0")},
		},
	}, actor)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), grn.ID, actor)
	require.NoError(t, err)

	err = svc.RecordReceipt(context.Background(), grn.ID, []ReceiptLineInput{
		{POLineID: 100, ReceivedQty: qty("1"), AcceptedQty: qty("1"), RejectedQty: qty("0")},
	}, actor)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

// stubRefs allows only the ids it lists.
type stubRefs struct {
	projects  map[int64]bool
	locations map[int64]bool
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

func TestGRNCreateRejectsUnknownReferences(t *testing.T) {
	refs := stubRefs{projects: map[int64]bool{1: true}, locations: map[int64]bool{2: true}}
	svc := NewService(newMemoryRepo(), approvedPO(), refs, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  8,
		LocationID: 2,
		POID:       10,
		Lines:      []CreateLineInput{{POLineID: 100}},
	}, shared.Actor{ID: 9})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(context.Background(), CreateInput{
		ProjectID:  1,
		LocationID: 5,
		POID:       10,
		Lines:      []CreateLineInput{{POLineID: 100}},
	}, shared.Actor{ID: 9})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
