package sales

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stockledger"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockState struct {
	stock        map[int64]int64
	contacts     map[int64]decimal.Decimal
	sales        map[int64]*Sale
	saleItems    map[int64][]SaleItem
	returns      map[int64]*SaleReturn
	returnOrder  []int64
	nextSaleID   int64
	nextReturnID int64
	nextItemID   int64
}

func (s *mockState) clone() *mockState {
	out := &mockState{
		stock:        map[int64]int64{},
		contacts:     map[int64]decimal.Decimal{},
		sales:        map[int64]*Sale{},
		saleItems:    map[int64][]SaleItem{},
		returns:      map[int64]*SaleReturn{},
		returnOrder:  append([]int64{}, s.returnOrder...),
		nextSaleID:   s.nextSaleID,
		nextReturnID: s.nextReturnID,
		nextItemID:   s.nextItemID,
	}
	for k, v := range s.stock {
		out.stock[k] = v
	}
	for k, v := range s.contacts {
		out.contacts[k] = v
	}
	for k, v := range s.sales {
		c := *v
		out.sales[k] = &c
	}
	for k, v := range s.saleItems {
		out.saleItems[k] = append([]SaleItem{}, v...)
	}
	for k, v := range s.returns {
		c := *v
		c.Items = append([]SaleReturnItem{}, v.Items...)
		out.returns[k] = &c
	}
	return out
}

type mockRepository struct {
	state *mockState
}

func newMockRepository() *mockRepository {
	return &mockRepository{state: &mockState{
		stock:        map[int64]int64{},
		contacts:     map[int64]decimal.Decimal{},
		sales:        map[int64]*Sale{},
		saleItems:    map[int64][]SaleItem{},
		returns:      map[int64]*SaleReturn{},
		nextSaleID:   1,
		nextReturnID: 1,
		nextItemID:   1,
	}}
}

// WithTx runs fn against a snapshot; the snapshot replaces the live state only
// on success, mirroring transaction rollback.
func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := m.state.clone()
	if err := fn(ctx, &mockTx{state: snapshot}); err != nil {
		return err
	}
	m.state = snapshot
	return nil
}

func (m *mockRepository) GetSaleDetail(ctx context.Context, id int64) (*SaleDetail, error) {
	tx := &mockTx{state: m.state}
	sale, err := tx.GetSaleForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	items, _ := tx.GetSaleItems(ctx, id)
	returns, _ := tx.GetReturnsBySale(ctx, id)
	return &SaleDetail{Sale: *sale, Items: items, Returns: returns}, nil
}

func (m *mockRepository) ListSales(ctx context.Context, req ListSalesRequest) ([]SaleDetail, int, error) {
	ids := make([]int64, 0, len(m.state.sales))
	for id := range m.state.sales {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	details := []SaleDetail{}
	for _, id := range ids {
		if req.ContactID != nil {
			sale := m.state.sales[id]
			if sale.ContactID == nil || *sale.ContactID != *req.ContactID {
				continue
			}
		}
		detail, err := m.GetSaleDetail(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		details = append(details, *detail)
	}
	return details, len(details), nil
}

type mockTx struct {
	state *mockState
}

func (t *mockTx) BillNumberExists(ctx context.Context, billNumber string) (bool, error) {
	for _, s := range t.state.sales {
		if s.BillNumber == billNumber {
			return true, nil
		}
	}
	return false, nil
}

func (t *mockTx) InsertSale(ctx context.Context, s Sale) (int64, error) {
	id := t.state.nextSaleID
	t.state.nextSaleID++
	s.ID = id
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	t.state.sales[id] = &s
	return id, nil
}

func (t *mockTx) InsertSaleItems(ctx context.Context, saleID int64, items []SaleItemInput) error {
	for _, in := range items {
		id := t.state.nextItemID
		t.state.nextItemID++
		t.state.saleItems[saleID] = append(t.state.saleItems[saleID], SaleItem{
			ID: id, SaleID: saleID, ProductID: in.ProductID, Quantity: in.Quantity, Price: in.Price,
		})
	}
	return nil
}

func (t *mockTx) GetSaleForUpdate(ctx context.Context, id int64) (*Sale, error) {
	s, ok := t.state.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: sale", shared.ErrNotFound)
	}
	c := *s
	return &c, nil
}

func (t *mockTx) GetSaleItems(ctx context.Context, saleID int64) ([]SaleItem, error) {
	return append([]SaleItem{}, t.state.saleItems[saleID]...), nil
}

func (t *mockTx) DeleteSaleItems(ctx context.Context, saleID int64) error {
	delete(t.state.saleItems, saleID)
	return nil
}

func (t *mockTx) UpdateSaleFields(ctx context.Context, id int64, updates map[string]any) error {
	s, ok := t.state.sales[id]
	if !ok {
		return fmt.Errorf("%w: sale", shared.ErrNotFound)
	}
	for col, val := range updates {
		switch col {
		case "total_amount":
			s.TotalAmount = val.(decimal.Decimal)
		case "original_total_amount":
			s.OriginalTotalAmount = val.(decimal.Decimal)
		case "discount":
			s.Discount = val.(decimal.Decimal)
		case "paid_amount":
			s.PaidAmount = val.(decimal.Decimal)
		case "contact_id":
			s.ContactID = val.(*int64)
		case "refund_mode":
			s.RefundMode = RefundMode(val.(string))
		default:
			return fmt.Errorf("unexpected column %q", col)
		}
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (t *mockTx) DeleteSale(ctx context.Context, id int64) error {
	if _, ok := t.state.sales[id]; !ok {
		return fmt.Errorf("%w: sale", shared.ErrNotFound)
	}
	delete(t.state.sales, id)
	delete(t.state.saleItems, id)
	for retID, ret := range t.state.returns {
		if ret.SaleID == id {
			delete(t.state.returns, retID)
		}
	}
	return nil
}

func (t *mockTx) ReturnNumberExists(ctx context.Context, number string) (bool, error) {
	for _, r := range t.state.returns {
		if r.ReturnNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (t *mockTx) GetReturn(ctx context.Context, id int64) (*SaleReturn, error) {
	r, ok := t.state.returns[id]
	if !ok {
		return nil, fmt.Errorf("%w: return", shared.ErrNotFound)
	}
	c := *r
	c.Items = append([]SaleReturnItem{}, r.Items...)
	return &c, nil
}

func (t *mockTx) GetReturnsBySale(ctx context.Context, saleID int64) ([]SaleReturn, error) {
	out := []SaleReturn{}
	for _, id := range t.state.returnOrder {
		r, ok := t.state.returns[id]
		if !ok || r.SaleID != saleID {
			continue
		}
		c := *r
		c.Items = append([]SaleReturnItem{}, r.Items...)
		out = append(out, c)
	}
	return out, nil
}

func (t *mockTx) InsertReturn(ctx context.Context, ret SaleReturn) (int64, error) {
	id := t.state.nextReturnID
	t.state.nextReturnID++
	ret.ID = id
	ret.CreatedAt = time.Now()
	t.state.returns[id] = &ret
	t.state.returnOrder = append(t.state.returnOrder, id)
	return id, nil
}

func (t *mockTx) InsertReturnItems(ctx context.Context, returnID int64, items []ReturnItemInput) error {
	r := t.state.returns[returnID]
	for _, in := range items {
		id := t.state.nextItemID
		t.state.nextItemID++
		r.Items = append(r.Items, SaleReturnItem{
			ID: id, ReturnID: returnID, ProductID: in.ProductID, Quantity: in.Quantity, Price: in.Price,
		})
	}
	return nil
}

func (t *mockTx) SetReturnRefund(ctx context.Context, returnID int64, amount decimal.Decimal, paidAt time.Time) error {
	r, ok := t.state.returns[returnID]
	if !ok {
		return fmt.Errorf("%w: return", shared.ErrNotFound)
	}
	r.RefundAmount = amount
	r.RefundPaid = true
	r.RefundDate = &paidAt
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

type mockIdempotency struct {
	keys map[string]bool
}

func (m *mockIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *mockIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func newTestService(repo *mockRepository) *Service {
	return NewService(repo, nil, nil, nil)
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func makeSale(t *testing.T, svc *Service, repo *mockRepository, qty int64, price, paid int64) *SaleDetail {
	t.Helper()
	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{
		Items:      []SaleItemInput{{ProductID: 1, Quantity: qty, Price: dec(price)}},
		PaidAmount: dec(paid),
	})
	require.NoError(t, err)
	return sale
}

// ============================================================================
// SALE ENGINE
// ============================================================================

func TestCreateSaleReservesStockAndBooksContact(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	contactID := int64(7)
	repo.state.contacts[contactID] = decimal.Zero
	svc := newTestService(repo)

	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{
		Items:      []SaleItemInput{{ProductID: 1, Quantity: 5, Price: dec(100)}},
		PaidAmount: dec(300),
		ContactID:  &contactID,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), repo.state.stock[1])
	assert.True(t, sale.OriginalTotalAmount.Equal(dec(500)))
	assert.True(t, sale.TotalAmount.Equal(dec(500)))
	assert.Equal(t, RefundModeNone, sale.RefundMode)
	assert.Len(t, sale.BillNumber, 7)
	// customer still owes 200
	assert.True(t, repo.state.contacts[contactID].Equal(dec(200)))
}

func TestCreateSalePersistsPostDiscountTotal(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{
		Items:      []SaleItemInput{{ProductID: 1, Quantity: 5, Price: dec(100)}},
		Discount:   dec(50),
		PaidAmount: dec(450),
	})
	require.NoError(t, err)

	assert.True(t, sale.TotalAmount.Equal(dec(450)))
	assert.True(t, sale.OriginalTotalAmount.Equal(dec(500)))

	// returns decrement from the discounted figure, not the subtotal
	_, err = svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
	})
	require.NoError(t, err)

	detail, err := repo.GetSaleDetail(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.True(t, detail.TotalAmount.Equal(dec(350)))
}

func TestUpdateSalePersistsPostDiscountTotal(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)
	updated, err := svc.UpdateSale(context.Background(), sale.ID, UpdateSaleRequest{
		Items:      []SaleItemInput{{ProductID: 1, Quantity: 4, Price: dec(100)}},
		Discount:   dec(40),
		PaidAmount: dec(360),
	})
	require.NoError(t, err)

	assert.True(t, updated.TotalAmount.Equal(dec(360)))
	assert.True(t, updated.OriginalTotalAmount.Equal(dec(400)))
}

func TestCreateSaleInsufficientStockRollsBack(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	repo.state.stock[2] = 1
	svc := newTestService(repo)

	_, err := svc.CreateSale(context.Background(), CreateSaleRequest{
		Items: []SaleItemInput{
			{ProductID: 1, Quantity: 5, Price: dec(100)},
			{ProductID: 2, Quantity: 3, Price: dec(50)},
		},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	assert.Equal(t, int64(10), repo.state.stock[1])
	assert.Equal(t, int64(1), repo.state.stock[2])
	assert.Empty(t, repo.state.sales)
}

func TestCreateSaleValidation(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	_, err := svc.CreateSale(context.Background(), CreateSaleRequest{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateSale(context.Background(), CreateSaleRequest{
		Items:    []SaleItemInput{{ProductID: 1, Quantity: 1, Price: dec(10)}},
		Discount: dec(50),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateSale(context.Background(), CreateSaleRequest{
		Items: []SaleItemInput{{ProductID: 1, Quantity: -1, Price: dec(10)}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateSaleBillCollisionRetries(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	svc.genBill = func() string { return "1111111" }
	first := makeSale(t, svc, repo, 1, 100, 100)
	require.Equal(t, "1111111", first.BillNumber)

	calls := 0
	svc.genBill = func() string {
		calls++
		if calls < 3 {
			return "1111111"
		}
		return "2222222"
	}
	second := makeSale(t, svc, repo, 1, 100, 100)
	assert.Equal(t, "2222222", second.BillNumber)
	assert.Equal(t, 3, calls)
}

func TestCreateSaleBillCollisionExhaustion(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	svc.genBill = func() string { return "1111111" }
	makeSale(t, svc, repo, 1, 100, 100)

	_, err := svc.CreateSale(context.Background(), CreateSaleRequest{
		Items: []SaleItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	assert.Equal(t, int64(9), repo.state.stock[1])
}

func TestCreateSaleIdempotency(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	idem := &mockIdempotency{}
	svc := NewService(repo, nil, idem, nil)

	req := CreateSaleRequest{
		Items:          []SaleItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
		IdempotencyKey: "4a1f0c1e-1b9c-4a6c-9f6d-3f9f3f6f9f6f",
	}
	_, err := svc.CreateSale(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.CreateSale(context.Background(), req)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Len(t, repo.state.sales, 1)
}

func TestCreateSaleIdempotencyKeyReleasedOnFailure(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 0
	idem := &mockIdempotency{}
	svc := NewService(repo, nil, idem, nil)

	req := CreateSaleRequest{
		Items:          []SaleItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
		IdempotencyKey: "4a1f0c1e-1b9c-4a6c-9f6d-3f9f3f6f9f6f",
	}
	_, err := svc.CreateSale(context.Background(), req)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.False(t, idem.keys[req.IdempotencyKey])
}

// ============================================================================
// SALE EDIT / DELETE
// ============================================================================

func TestUpdateSaleSwapsStockAndRebooksContact(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	repo.state.stock[2] = 10
	contactID := int64(3)
	repo.state.contacts[contactID] = decimal.Zero
	svc := newTestService(repo)

	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{
		Items:      []SaleItemInput{{ProductID: 1, Quantity: 4, Price: dec(100)}},
		PaidAmount: dec(100),
		ContactID:  &contactID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(6), repo.state.stock[1])
	require.True(t, repo.state.contacts[contactID].Equal(dec(300)))

	updated, err := svc.UpdateSale(context.Background(), sale.ID, UpdateSaleRequest{
		Items:      []SaleItemInput{{ProductID: 2, Quantity: 2, Price: dec(50)}},
		PaidAmount: dec(100),
		ContactID:  &contactID,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10), repo.state.stock[1])
	assert.Equal(t, int64(8), repo.state.stock[2])
	assert.True(t, updated.OriginalTotalAmount.Equal(dec(100)))
	assert.True(t, repo.state.contacts[contactID].Equal(dec(0)))
}

func TestUpdateSaleRejectedOnceReturned(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)
	_, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateSale(context.Background(), sale.ID, UpdateSaleRequest{
		Items: []SaleItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeleteSaleRestoresUnreturnedStock(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)
	require.Equal(t, int64(5), repo.state.stock[1])

	// restocking return puts 2 back
	_, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), repo.state.stock[1])

	require.NoError(t, svc.DeleteSale(context.Background(), sale.ID))
	assert.Equal(t, int64(10), repo.state.stock[1])
	assert.Empty(t, repo.state.sales)
	assert.Empty(t, repo.state.returns)
}

func TestDeleteSaleLeavesDiscardMovementsAlone(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)

	// discarded return deducts 2 more
	_, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items:           []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
		RemoveFromStock: true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), repo.state.stock[1])

	// delete restores the full sold quantity; the discard stands
	require.NoError(t, svc.DeleteSale(context.Background(), sale.ID))
	assert.Equal(t, int64(8), repo.state.stock[1])
}

func TestDeleteSaleReversesContactBalance(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	contactID := int64(9)
	repo.state.contacts[contactID] = decimal.Zero
	svc := newTestService(repo)

	sale, err := svc.CreateSale(context.Background(), CreateSaleRequest{
		Items:      []SaleItemInput{{ProductID: 1, Quantity: 5, Price: dec(100)}},
		PaidAmount: dec(200),
		ContactID:  &contactID,
	})
	require.NoError(t, err)
	require.True(t, repo.state.contacts[contactID].Equal(dec(300)))

	require.NoError(t, svc.DeleteSale(context.Background(), sale.ID))
	assert.True(t, repo.state.contacts[contactID].Equal(dec(0)))
}

// ============================================================================
// RETURN ENGINE
// ============================================================================

func TestCreateReturnCeilingPerProduct(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)

	_, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 6, Price: dec(100)}},
	})
	require.ErrorIs(t, err, shared.ErrOverReturn)
	var overErr *OverReturnError
	require.ErrorAs(t, err, &overErr)
	assert.Equal(t, int64(5), overErr.Returnable)
}

func TestCreateReturnCeilingIsCumulative(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)

	_, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 3, Price: dec(100)}},
	})
	require.NoError(t, err)

	_, err = svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 3, Price: dec(100)}},
	})
	require.ErrorIs(t, err, shared.ErrOverReturn)

	_, err = svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.NoError(t, err)
}

func TestCreateReturnRejectsForeignProduct(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	repo.state.stock[2] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)

	_, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 2, Quantity: 1, Price: dec(100)}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateReturnStockPolicies(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 4, 100, 400)
	require.Equal(t, int64(6), repo.state.stock[1])

	ret, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
	})
	require.NoError(t, err)
	assert.False(t, ret.RemovedFromStock)
	assert.Equal(t, int64(7), repo.state.stock[1])

	ret, err = svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items:           []ReturnItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
		RemoveFromStock: true,
	})
	require.NoError(t, err)
	assert.True(t, ret.RemovedFromStock)
	assert.Equal(t, int64(6), repo.state.stock[1])
}

func TestCreateReturnDecrementsAdvisoryTotal(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)
	_, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.NoError(t, err)

	detail, err := repo.GetSaleDetail(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.True(t, detail.TotalAmount.Equal(dec(300)))
	assert.True(t, detail.OriginalTotalAmount.Equal(dec(500)))
}

// ============================================================================
// REFUND ENGINE
// ============================================================================

func TestPayReturnRefundCeiling(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)
	ret, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.NoError(t, err)

	_, err = svc.PayReturnRefund(context.Background(), ret.ID, RefundRequest{Amount: dec(250)})
	require.ErrorIs(t, err, shared.ErrRefundExceedsCeiling)

	paid, err := svc.PayReturnRefund(context.Background(), ret.ID, RefundRequest{Amount: dec(200)})
	require.NoError(t, err)
	assert.True(t, paid.RefundPaid)
	assert.True(t, paid.RefundAmount.Equal(dec(200)))
	require.NotNil(t, paid.RefundDate)
}

func TestPayReturnRefundCappedByPaidAmount(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	// partially paid sale: customer paid 100 of 500
	sale := makeSale(t, svc, repo, 5, 100, 100)
	ret, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.NoError(t, err)

	_, err = svc.PayReturnRefund(context.Background(), ret.ID, RefundRequest{Amount: dec(200)})
	require.ErrorIs(t, err, shared.ErrRefundExceedsCeiling)

	_, err = svc.PayReturnRefund(context.Background(), ret.ID, RefundRequest{Amount: dec(100)})
	require.NoError(t, err)
}

func TestPayReturnRefundRunningTotalCapped(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 4, 100, 150)
	ret1, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
	})
	require.NoError(t, err)
	ret2, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
	})
	require.NoError(t, err)

	_, err = svc.PayReturnRefund(context.Background(), ret1.ID, RefundRequest{Amount: dec(100)})
	require.NoError(t, err)

	// 100 of the 150 paid is already refunded; only 50 remains
	_, err = svc.PayReturnRefund(context.Background(), ret2.ID, RefundRequest{Amount: dec(100)})
	require.ErrorIs(t, err, shared.ErrRefundExceedsCeiling)

	_, err = svc.PayReturnRefund(context.Background(), ret2.ID, RefundRequest{Amount: dec(50)})
	require.NoError(t, err)
}

func TestPayReturnRefundTwiceRejected(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)
	ret, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
	})
	require.NoError(t, err)

	_, err = svc.PayReturnRefund(context.Background(), ret.ID, RefundRequest{Amount: dec(100)})
	require.NoError(t, err)

	_, err = svc.PayReturnRefund(context.Background(), ret.ID, RefundRequest{Amount: dec(100)})
	require.ErrorIs(t, err, shared.ErrAlreadyRefunded)
}

func TestRefundModesAreMutuallyExclusive(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	// per-return path blocks whole-sale refund
	sale := makeSale(t, svc, repo, 5, 100, 500)
	ret, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
	})
	require.NoError(t, err)
	_, err = svc.PayReturnRefund(context.Background(), ret.ID, RefundRequest{Amount: dec(100)})
	require.NoError(t, err)

	_, err = svc.PaySaleRefund(context.Background(), sale.ID, RefundRequest{Amount: dec(100)})
	require.ErrorIs(t, err, shared.ErrAlreadyRefunded)

	// whole-sale path blocks per-return refund
	sale2 := makeSale(t, svc, repo, 5, 100, 500)
	ret2, err := svc.CreateReturn(context.Background(), sale2.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.NoError(t, err)
	_, err = svc.PaySaleRefund(context.Background(), sale2.ID, RefundRequest{Amount: dec(200)})
	require.NoError(t, err)

	_, err = svc.PayReturnRefund(context.Background(), ret2.ID, RefundRequest{Amount: dec(100)})
	require.ErrorIs(t, err, shared.ErrAlreadyRefunded)
}

func TestPaySaleRefundRequiresReturns(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)
	_, err := svc.PaySaleRefund(context.Background(), sale.ID, RefundRequest{Amount: dec(100)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPaySaleRefundAllocatesOldestFirst(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	sale := makeSale(t, svc, repo, 5, 100, 500)
	ret1, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 1, Price: dec(100)}},
	})
	require.NoError(t, err)
	ret2, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.NoError(t, err)

	detail, err := svc.PaySaleRefund(context.Background(), sale.ID, RefundRequest{Amount: dec(250)})
	require.NoError(t, err)
	assert.Equal(t, RefundModeFullSale, detail.RefundMode)

	first := repo.state.returns[ret1.ID]
	second := repo.state.returns[ret2.ID]
	assert.True(t, first.RefundPaid)
	assert.True(t, first.RefundAmount.Equal(dec(100)))
	assert.True(t, second.RefundPaid)
	assert.True(t, second.RefundAmount.Equal(dec(150)))
}

func TestPaySaleRefundCeiling(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	// paid only 100; returned 200
	sale := makeSale(t, svc, repo, 5, 100, 100)
	_, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.NoError(t, err)

	_, err = svc.PaySaleRefund(context.Background(), sale.ID, RefundRequest{Amount: dec(200)})
	require.ErrorIs(t, err, shared.ErrRefundExceedsCeiling)

	_, err = svc.PaySaleRefund(context.Background(), sale.ID, RefundRequest{Amount: dec(100)})
	require.NoError(t, err)
}

// ============================================================================
// END TO END LEDGER WALK
// ============================================================================

func TestSaleReturnRefundRoundTrip(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 10
	svc := newTestService(repo)

	// sell 5 x 100, fully paid
	sale := makeSale(t, svc, repo, 5, 100, 500)
	view, err := svc.GetSaleWithStatus(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFullyPaid, view.Status.State)
	require.Equal(t, int64(5), repo.state.stock[1])

	// customer returns 2; shop now owes 200
	ret, err := svc.CreateReturn(context.Background(), sale.ID, CreateReturnRequest{
		Items: []ReturnItemInput{{ProductID: 1, Quantity: 2, Price: dec(100)}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), repo.state.stock[1])

	view, err = svc.GetSaleWithStatus(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCreditBalance, view.Status.State)
	assert.True(t, view.Status.NetAmount.Equal(dec(300)))
	assert.True(t, view.Status.Balance.Equal(dec(-200)))
	assert.True(t, view.Status.CreditAmount.Equal(dec(200)))

	// shop pays the 200 back; everything settles
	_, err = svc.PayReturnRefund(context.Background(), ret.ID, RefundRequest{Amount: dec(200)})
	require.NoError(t, err)

	view, err = svc.GetSaleWithStatus(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.True(t, view.Status.Balance.Equal(dec(0)))
	assert.Equal(t, StateSettled, view.Status.State)
	assert.True(t, view.Status.TotalRefunded.Equal(dec(200)))
}

func TestListSalesCarriesStatusBadges(t *testing.T) {
	repo := newMockRepository()
	repo.state.stock[1] = 20
	svc := newTestService(repo)

	makeSale(t, svc, repo, 2, 100, 200)
	owing := makeSale(t, svc, repo, 3, 100, 100)
	_ = owing

	views, pagination, err := svc.ListSales(context.Background(), ListSalesRequest{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, 2, pagination.Total)

	states := map[PaymentState]int{}
	for _, v := range views {
		states[v.Status.State]++
	}
	assert.Equal(t, 1, states[StateFullyPaid])
	assert.Equal(t, 1, states[StatePaymentDue])
}
