package procurement

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitestock-erp/sitestock/internal/shared"
)

type memoryRepo struct {
	nextID int64
	pos    map[int64]PurchaseOrder
	lines  map[int64][]POLine
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, pos: map[int64]PurchaseOrder{}, lines: map[int64][]POLine{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) Get(_ context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, ok := m.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, shared.ErrNotFound
	}
	return po, m.lines[id], nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) CreatePO(_ context.Context, po PurchaseOrder) (int64, error) {
	po.ID = t.repo.nextID
	t.repo.nextID++
	t.repo.pos[po.ID] = po
	return po.ID, nil
}

func (t *memoryTx) InsertPOLine(_ context.Context, line POLine) error {
	line.ID = t.repo.nextID
	t.repo.nextID++
	t.repo.lines[line.POID] = append(t.repo.lines[line.POID], line)
	return nil
}

func (t *memoryTx) UpdatePOStatus(_ context.Context, poID int64, status POStatus) error {
	po, ok := t.repo.pos[poID]
	if !ok {
		return shared.ErrNotFound
	}
	po.Status = status
	t.repo.pos[poID] = po
	return nil
}

func (t *memoryTx) SetPOApproval(_ context.Context, poID int64, actorID int64) error {
	po, ok := t.repo.pos[poID]
	if !ok {
		return shared.ErrNotFound
	}
	po.ApprovedBy = actorID
	t.repo.pos[poID] = po
	return nil
}

func (t *memoryTx) AddReceivedQty(_ context.Context, poLineID int64, qty decimal.Decimal) error {
	for poID, lines := range t.repo.lines {
		for i, line := range lines {
			if line.ID == poLineID {
				line.ReceivedQty = line.ReceivedQty.Add(qty)
				t.repo.lines[poID][i] = line
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPOLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	actor := shared.Actor{ID: 3, Name: "buyer"}

	po, err := svc.Create(context.Background(), CreatePOInput{
		ProjectID:  1,
		SupplierID: 4,
		Lines:      []POLineInput{{MaterialID: 7, OrderedQty: qty("500")}},
	}, actor)
	require.NoError(t, err)
	require.Equal(t, POStatusDraft, po.Status)
	require.NotEmpty(t, po.Number)

	_, _, err = svc.GetApprovedPO(context.Background(), po.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, svc.Submit(context.Background(), po.ID, actor))
	require.NoError(t, svc.Approve(context.Background(), po.ID, actor))

	approved, lines, err := svc.GetApprovedPO(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusApproved, approved.Status)
	require.Len(t, lines, 1)
}

func TestPOSubmitRequiresDraft(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	actor := shared.Actor{ID: 3}

	po, err := svc.Create(context.Background(), CreatePOInput{
		ProjectID: 1,
		Lines:     []POLineInput{{MaterialID: 7, OrderedQty: qty("1")}},
	}, actor)
	require.NoError(t, err)

	require.NoError(t, svc.Submit(context.Background(), po.ID, actor))
	require.ErrorIs(t, svc.Submit(context.Background(), po.ID, actor), shared.ErrInvalidState)
}

func TestPOApproveRequiresSubmission(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	actor := shared.Actor{ID: 3}

	po, err := svc.Create(context.Background(), CreatePOInput{
		ProjectID: 1,
		Lines:     []POLineInput{{MaterialID: 7, OrderedQty: qty("1")}},
	}, actor)
	require.NoError(t, err)

	require.ErrorIs(t, svc.Approve(context.Background(), po.ID, actor), shared.ErrInvalidState)
}

func TestPOCreateRejectsNonPositiveLine(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)

	_, err := svc.Create(context.Background(), CreatePOInput{
		ProjectID: 1,
		Lines:     []POLineInput{{MaterialID: 7, OrderedQty: qty("0")}},
	}, shared.Actor{ID: 3})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNotifyReceivedAccumulates(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	actor := shared.Actor{ID: 3}

	po, err := svc.Create(context.Background(), CreatePOInput{
		ProjectID: 1,
		Lines:     []POLineInput{{MaterialID: 7, OrderedQty: qty("500")}},
	}, actor)
	require.NoError(t, err)
	lineID := repo.lines[po.ID][0].ID

	require.NoError(t, svc.NotifyReceived(context.Background(), po.ID, []ReceivedLine{{POLineID: lineID, AcceptedQty: qty("200")}}))
	require.NoError(t, svc.NotifyReceived(context.Background(), po.ID, []ReceivedLine{{POLineID: lineID, AcceptedQty: qty("250")}}))

	_, lines, err := svc.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.True(t, lines[0].ReceivedQty.Equal(qty("450")))
}

// stubRefs allows only the ids it lists.
type stubRefs struct {
	projects  map[int64]bool
	materials map[int64]bool
}

func (s stubRefs) CheckProject(_ context.Context, id int64) error {
	if s.projects[id] {
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

func TestPOCreateRejectsUnknownReferences(t *testing.T) {
	refs := stubRefs{
		projects:  map[int64]bool{1: true},
		materials: map[int64]bool{7: true},
	}
	svc := NewService(newMemoryRepo(), refs, nil)

	_, err := svc.Create(context.Background(), CreatePOInput{
		ProjectID: 3,
		Lines:     []POLineInput{{MaterialID: 7, OrderedQty: qty("10")}},
	}, shared.Actor{ID: 9})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(context.Background(), CreatePOInput{
		ProjectID: 1,
		Lines:     []POLineInput{{MaterialID: 99, OrderedQty: qty("10")}},
	}, shared.Actor{ID: 9})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
