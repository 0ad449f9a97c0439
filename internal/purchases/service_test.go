package purchases

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stockledger"
)

type mockState struct {
	stock     map[int64]int64
	contacts  map[int64]decimal.Decimal
	purchases map[int64]*Purchase
	items     map[int64][]PurchaseItem
	nextID    int64
	nextItem  int64
}

func (s *mockState) clone() *mockState {
	out := &mockState{
		stock:     map[int64]int64{},
		contacts:  map[int64]decimal.Decimal{},
		purchases: map[int64]*Purchase{},
		items:     map[int64][]PurchaseItem{},
		nextID:    s.nextID,
		nextItem:  s.nextItem,
	}
	for k, v := range s.stock {
		out.stock[k] = v
	}
	for k, v := range s.contacts {
		out.contacts[k] = v
	}
	for k, v := range s.purchases {
		c := *v
		out.purchases[k] = &c
	}
	for k, v := range s.items {
		out.items[k] = append([]PurchaseItem{}, v...)
	}
	return out
}

type mockRepository struct {
	state *mockState
}

func newMockRepository() *mockRepository {
	return &mockRepository{state: &mockState{
		stock:     map[int64]int64{},
		contacts:  map[int64]decimal.Decimal{},
		purchases: map[int64]*Purchase{},
		items:     map[int64][]PurchaseItem{},
		nextID:    1,
		nextItem:  1,
	}}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := m.state.clone()
	if err := fn(ctx, &mockTx{state: snapshot}); err != nil {
		return err
	}
	m.state = snapshot
	return nil
}

func (m *mockRepository) GetPurchaseDetail(ctx context.Context, id int64) (*PurchaseDetail, error) {
	p, ok := m.state.purchases[id]
	if !ok {
		return nil, fmt.Errorf("%w: purchase", shared.ErrNotFound)
	}
	c := *p
	return &PurchaseDetail{Purchase: c, Items: append([]PurchaseItem{}, m.state.items[id]...)}, nil
}

func (m *mockRepository) ListPurchases(ctx context.Context, req ListPurchasesRequest) ([]Purchase, int, error) {
	out := []Purchase{}
	for _, p := range m.state.purchases {
		out = append(out, *p)
	}
	return out, len(out), nil
}

type mockTx struct {
	state *mockState
}

func (t *mockTx) PurchaseNumberExists(ctx context.Context, number string) (bool, error) {
	for _, p := range t.state.purchases {
		if p.PurchaseNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (t *mockTx) InsertPurchase(ctx context.Context, p Purchase) (int64, error) {
	id := t.state.nextID
	t.state.nextID++
	p.ID = id
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	t.state.purchases[id] = &p
	return id, nil
}

func (t *mockTx) InsertPurchaseItems(ctx context.Context, purchaseID int64, items []PurchaseItemInput) error {
	for _, in := range items {
		id := t.state.nextItem
		t.state.nextItem++
		t.state.items[purchaseID] = append(t.state.items[purchaseID], PurchaseItem{
			ID: id, PurchaseID: purchaseID, ProductID: in.ProductID, Quantity: in.Quantity, Price: in.Price,
		})
	}
	return nil
}

func (t *mockTx) GetPurchaseForUpdate(ctx context.Context, id int64) (*Purchase, error) {
	p, ok := t.state.purchases[id]
	if !ok {
		return nil, fmt.Errorf("%w: purchase", shared.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (t *mockTx) GetPurchaseItems(ctx context.Context, purchaseID int64) ([]PurchaseItem, error) {
	return append([]PurchaseItem{}, t.state.items[purchaseID]...), nil
}

func (t *mockTx) DeletePurchaseItems(ctx context.Context, purchaseID int64) error {
	delete(t.state.items, purchaseID)
	return nil
}

func (t *mockTx) UpdatePurchaseFields(ctx context.Context, id int64, updates map[string]any) error {
	p, ok := t.state.purchases[id]
	if !ok {
		return fmt.Errorf("%w: purchase", shared.ErrNotFound)
	}
	for col, val := range updates {
		switch col {
		case "total_amount":
			p.TotalAmount = val.(decimal.Decimal)
		case "paid_amount":
			p.PaidAmount = val.(decimal.Decimal)
		case "contact_id":
			p.ContactID = val.(*int64)
		default:
			return fmt.Errorf("unexpected column %q", col)
		}
	}
	return nil
}

func (t *mockTx) DeletePurchase(ctx context.Context, id int64) error {
	if _, ok := t.state.purchases[id]; !ok {
		return fmt.Errorf("%w: purchase", shared.ErrNotFound)
	}
	delete(t.state.purchases, id)
	delete(t.state.items, id)
	return nil
}

func (t *mockTx) ReserveStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error {
	current, ok := t.state.stock[productID]
	if !ok {
		return fmt.Errorf("%w: product", shared.ErrNotFound)
	}
	if current < qty {
		return &stockledger.InsufficientStockError{ProductID: productID, Requested: qty, Available: current}
	}
	t.state.stock[productID] = current - qty
	return nil
}

func (t *mockTx) ReleaseStock(ctx context.Context, productID, qty int64, ref stockledger.Ref) error {
	current, ok := t.state.stock[productID]
	if !ok {
		return fmt.Errorf("%w: product", shared.ErrNotFound)
	}
	t.state.stock[productID] = current + qty
	return nil
}

func (t *mockTx) AdjustContactBalance(ctx context.Context, contactID int64, delta decimal.Decimal) error {
	current, ok := t.state.contacts[contactID]
	if !ok {
		return fmt.Errorf("%w: contact", shared.ErrNotFound)
	}
	t.state.contacts[contactID] = current.Add(delta)
	return nil
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestCreatePurchaseAddsStockAndBooksSupplier(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 0
	supplierID := int64(4)
	repo.state.contacts[supplierID] = decimal.Zero
	svc := NewService(repo, nil)

	p, err := svc.CreatePurchase(context.Background(), CreatePurchaseRequest{
		Items:      []PurchaseItemInput{{ProductID: 1, Quantity: 40, Price: dec(25)}},
		PaidAmount: dec(600),
		ContactID:  &supplierID,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(40), repo.state.stock[1])
	assert.True(t, p.TotalAmount.Equal(dec(1000)))
	assert.True(t, strings.HasPrefix(p.PurchaseNumber, "PO-"))
	// shop still owes supplier 400
	assert.True(t, repo.state.contacts[supplierID].Equal(dec(-400)))
}

func TestDeletePurchaseReversesStock(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 0
	svc := NewService(repo, nil)

	p, err := svc.CreatePurchase(context.Background(), CreatePurchaseRequest{
		Items: []PurchaseItemInput{{ProductID: 1, Quantity: 10, Price: dec(5)}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), repo.state.stock[1])

	require.NoError(t, svc.DeletePurchase(context.Background(), p.ID))
	assert.Equal(t, int64(0), repo.state.stock[1])
	assert.Empty(t, repo.state.purchases)
}

func TestDeletePurchaseFailsWhenGoodsAlreadySold(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 0
	svc := NewService(repo, nil)

	p, err := svc.CreatePurchase(context.Background(), CreatePurchaseRequest{
		Items: []PurchaseItemInput{{ProductID: 1, Quantity: 10, Price: dec(5)}},
	})
	require.NoError(t, err)

	// six of the ten have been sold elsewhere
	repo.state.stock[1] = 4

	err = svc.DeletePurchase(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.Equal(t, int64(4), repo.state.stock[1])
	assert.Len(t, repo.state.purchases, 1)
}

func TestUpdatePurchaseSwapsStockAndRebooks(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 0
	repo.state.stock[2] = 0
	supplierID := int64(4)
	repo.state.contacts[supplierID] = decimal.Zero
	svc := NewService(repo, nil)

	p, err := svc.CreatePurchase(context.Background(), CreatePurchaseRequest{
		Items:      []PurchaseItemInput{{ProductID: 1, Quantity: 10, Price: dec(10)}},
		PaidAmount: dec(0),
		ContactID:  &supplierID,
	})
	require.NoError(t, err)
	require.True(t, repo.state.contacts[supplierID].Equal(dec(-100)))

	updated, err := svc.UpdatePurchase(context.Background(), p.ID, UpdatePurchaseRequest{
		Items:      []PurchaseItemInput{{ProductID: 2, Quantity: 5, Price: dec(20)}},
		PaidAmount: dec(100),
		ContactID:  &supplierID,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), repo.state.stock[1])
	assert.Equal(t, int64(5), repo.state.stock[2])
	assert.True(t, updated.TotalAmount.Equal(dec(100)))
	assert.True(t, repo.state.contacts[supplierID].Equal(dec(0)))
}

func TestCreatePurchaseValidation(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, nil)

	_, err := svc.CreatePurchase(context.Background(), CreatePurchaseRequest{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreatePurchase(context.Background(), CreatePurchaseRequest{
		Items:      []PurchaseItemInput{{ProductID: 1, Quantity: 1, Price: dec(5)}},
		PaidAmount: dec(-1),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
