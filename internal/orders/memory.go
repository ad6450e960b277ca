package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-shop-checkout/internal/payments"
)

// MemoryStore is a Store kept in process memory, used for tests and local
// runs without Postgres. Product rows are locked one semaphore per row and
// writes are buffered until commit, so WithinTx has the same all-or-nothing
// and serialization behaviour as the Postgres store.
type MemoryStore struct {
	// LockTimeout bounds row lock waits. Zero waits until ctx is done.
	LockTimeout time.Duration

	mu          sync.Mutex
	products    map[int64]Product
	rowLocks    map[int64]chan struct{}
	methods     map[int64]payments.StoredMethod
	orders      map[int64]*Order
	byRef       map[string]int64
	nextOrderID int64
	nextItemID  int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(products []Product, methods []payments.StoredMethod) *MemoryStore {
	s := &MemoryStore{
		products: make(map[int64]Product, len(products)),
		rowLocks: make(map[int64]chan struct{}),
		methods:  make(map[int64]payments.StoredMethod, len(methods)),
		orders:   make(map[int64]*Order),
		byRef:    make(map[string]int64),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	for _, m := range methods {
		s.methods[m.ID] = m
	}
	return s
}

// PutProduct inserts or replaces a catalog row.
func (s *MemoryStore) PutProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *MemoryStore) Product(id int64) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// DeleteProduct removes a catalog row; order items keep their snapshot and
// lose the product reference.
func (s *MemoryStore) DeleteProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	for _, o := range s.orders {
		for i := range o.Items {
			if o.Items[i].ProductID != nil && *o.Items[i].ProductID == id {
				o.Items[i].ProductID = nil
			}
		}
	}
}

func (s *MemoryStore) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *MemoryStore) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		n += len(o.Items)
	}
	return n
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memTx{
		s:          s,
		items:      map[int64][]OrderItem{},
		decrements: map[int64]int{},
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) rowLock(id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.rowLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[id] = ch
	}
	return ch
}

func (s *MemoryStore) GetByReference(_ context.Context, ref string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	o := cloneOrder(s.orders[id])
	return &o, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID int64, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Order{}
	for _, o := range s.orders {
		if o.Customer.UserID != nil && *o.Customer.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.After(out[j].PlacedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListActiveProducts(_ context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Product{}
	for _, p := range s.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, ref string, to Status) (*Order, Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, "", ErrNotFound
	}
	o := s.orders[id]
	from := o.Status
	if err := Transition(from, to); err != nil {
		return nil, from, err
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	c := cloneOrder(o)
	return &c, from, nil
}

type memTx struct {
	s          *MemoryStore
	held       []chan struct{}
	heldIDs    map[int64]bool
	orders     []*Order
	items      map[int64][]OrderItem
	decrements map[int64]int
}

func (t *memTx) LockProductsForUpdate(ctx context.Context, ids []int64) ([]Product, error) {
	uniq := make([]int64, 0, len(ids))
	seen := map[int64]bool{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	if t.heldIDs == nil {
		t.heldIDs = map[int64]bool{}
	}
	for _, id := range uniq {
		if t.heldIDs[id] {
			continue
		}
		if err := t.acquire(ctx, t.s.rowLock(id)); err != nil {
			return nil, err
		}
		t.heldIDs[id] = true
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make([]Product, 0, len(uniq))
	for _, id := range uniq {
		p, ok := t.s.products[id]
		if !ok || !p.Active {
			continue
		}
		p.Stock -= t.decrements[id]
		out = append(out, p)
	}
	return out, nil
}

func (t *memTx) acquire(ctx context.Context, lock chan struct{}) error {
	var timeout <-chan time.Time
	if t.s.LockTimeout > 0 {
		timer := time.NewTimer(t.s.LockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case lock <- struct{}{}:
		t.held = append(t.held, lock)
		return nil
	case <-timeout:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTx) release() {
	for _, l := range t.held {
		<-l
	}
	t.held = nil
}

func (t *memTx) ResolveStoredPaymentMethod(_ context.Context, id, ownerID int64) (payments.StoredMethod, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	m, ok := t.s.methods[id]
	if !ok || m.OwnerID != ownerID {
		return payments.StoredMethod{}, payments.ErrNotFound
	}
	return m, nil
}

func (t *memTx) ReferenceExists(_ context.Context, ref string) (bool, error) {
	if t.pendingRef(ref) {
		return true, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	_, ok := t.s.byRef[ref]
	return ok, nil
}

func (t *memTx) pendingRef(ref string) bool {
	for _, o := range t.orders {
		if o.PublicRef == ref {
			return true
		}
	}
	return false
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if t.pendingRef(o.PublicRef) {
		return ErrReferenceTaken
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.byRef[o.PublicRef]; ok {
		return ErrReferenceTaken
	}
	t.s.nextOrderID++
	o.ID = t.s.nextOrderID
	o.UpdatedAt = o.PlacedAt
	c := cloneOrder(o)
	c.Items = nil
	t.orders = append(t.orders, &c)
	return nil
}

func (t *memTx) InsertOrderItems(_ context.Context, orderID int64, items []OrderItem) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := range items {
		t.s.nextItemID++
		items[i].ID = t.s.nextItemID
		items[i].OrderID = orderID
		t.items[orderID] = append(t.items[orderID], cloneItem(items[i]))
	}
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, productID int64, qty int) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[productID]
	if !ok || p.Stock-t.decrements[productID] < qty {
		return fmt.Errorf("%w: product %d", ErrStockConflict, productID)
	}
	t.decrements[productID] += qty
	return nil
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range t.orders {
		if _, ok := s.byRef[o.PublicRef]; ok {
			return ErrReferenceTaken
		}
	}
	for id, qty := range t.decrements {
		p, ok := s.products[id]
		if !ok || p.Stock < qty {
			return fmt.Errorf("%w: product %d", ErrStockConflict, id)
		}
	}

	for id, qty := range t.decrements {
		p := s.products[id]
		p.Stock -= qty
		s.products[id] = p
	}
	for _, o := range t.orders {
		o.Items = t.items[o.ID]
		if o.Items == nil {
			o.Items = []OrderItem{}
		}
		s.orders[o.ID] = o
		s.byRef[o.PublicRef] = o.ID
	}
	return nil
}

func cloneOrder(o *Order) Order {
	c := *o
	if o.Customer.UserID != nil {
		id := *o.Customer.UserID
		c.Customer.UserID = &id
	}
	if o.PaymentMethodID != nil {
		id := *o.PaymentMethodID
		c.PaymentMethodID = &id
	}
	c.Items = make([]OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		c.Items = append(c.Items, cloneItem(it))
	}
	return c
}

func cloneItem(it OrderItem) OrderItem {
	c := it
	if it.ProductID != nil {
		id := *it.ProductID
		c.ProductID = &id
	}
	if it.SelectedOptions != nil {
		c.SelectedOptions = make(map[string]string, len(it.SelectedOptions))
		for k, v := range it.SelectedOptions {
			c.SelectedOptions[k] = v
		}
	}
	return c
}
