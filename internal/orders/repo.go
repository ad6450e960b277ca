package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-shop-checkout/internal/payments"
)

const orderColumns = `id, public_ref, status, user_id, customer_name, customer_email, customer_phone,
	ship_line1, ship_line2, ship_city, ship_postal, ship_country, currency,
	subtotal_cents, shipping_cents, tax_cents, total_cents,
	payment_method_id, payment_brand, payment_last4, placed_at, updated_at`

const itemColumns = `id, order_id, product_id, product_name, product_slug, product_sku,
	coalesce(variant_key, ''), selected_options, quantity, unit_price_cents, line_total_cents`

// PgStore is the Postgres implementation of Store.
type PgStore struct {
	DB *pgxpool.Pool
	// LockTimeout bounds row lock waits inside WithinTx. Zero keeps the
	// server default.
	LockTimeout time.Duration
}

var _ Store = (*PgStore)(nil)

func (s *PgStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.LockTimeout > 0 {
		// set_config(..., true) is SET LOCAL: scoped to this transaction.
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.LockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapPgErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapPgErr turns lock_not_available and deadlock_detected into ErrLockTimeout.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "55P03" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockProductsForUpdate(ctx context.Context, ids []int64) ([]Product, error) {
	// ORDER BY id keeps the lock acquisition order stable across checkouts.
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, slug, sku, price::text, is_active, stock
		FROM products
		WHERE id = ANY($1) AND is_active
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	return scanProducts(rows)
}

func (t *pgTx) ResolveStoredPaymentMethod(ctx context.Context, id, ownerID int64) (payments.StoredMethod, error) {
	var m payments.StoredMethod
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, brand, last4, exp_month, exp_year
		FROM payment_methods WHERE id=$1 AND user_id=$2`, id, ownerID).
		Scan(&m.ID, &m.OwnerID, &m.Brand, &m.Last4, &m.ExpMonth, &m.ExpYear)
	if errors.Is(err, pgx.ErrNoRows) {
		return payments.StoredMethod{}, payments.ErrNotFound
	}
	if err != nil {
		return payments.StoredMethod{}, fmt.Errorf("resolve payment method: %w", err)
	}
	return m, nil
}

func (t *pgTx) ReferenceExists(ctx context.Context, ref string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE public_ref=$1)`, ref).Scan(&exists); err != nil {
		return false, fmt.Errorf("check reference: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(public_ref, status, user_id, customer_name, customer_email, customer_phone,
			ship_line1, ship_line2, ship_city, ship_postal, ship_country, currency,
			subtotal_cents, shipping_cents, tax_cents, total_cents,
			payment_method_id, payment_brand, payment_last4, placed_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$20)
		ON CONFLICT (public_ref) DO NOTHING
		RETURNING id`,
		o.PublicRef, string(o.Status), o.Customer.UserID, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		o.Shipping.Line1, o.Shipping.Line2, o.Shipping.City, o.Shipping.PostalCode, o.Shipping.Country, o.Currency,
		o.SubtotalCents, o.ShippingCents, o.TaxCents, o.TotalCents,
		o.PaymentMethodID, o.PaymentBrand, o.PaymentLast4, o.PlacedAt,
	).Scan(&o.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrReferenceTaken
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	o.UpdatedAt = o.PlacedAt
	return nil
}

func (t *pgTx) InsertOrderItems(ctx context.Context, orderID int64, items []OrderItem) error {
	for i := range items {
		it := &items[i]
		var variant any
		if it.VariantKey != "" {
			variant = it.VariantKey
		}
		var options []byte
		if len(it.SelectedOptions) > 0 {
			b, err := json.Marshal(it.SelectedOptions)
			if err != nil {
				return fmt.Errorf("marshal options: %w", err)
			}
			options = b
		}
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, product_name, product_slug, product_sku,
				variant_key, selected_options, quantity, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING id`,
			orderID, it.ProductID, it.ProductName, it.ProductSlug, it.ProductSKU,
			variant, options, it.Quantity, it.UnitPriceCents, it.LineTotalCents,
		).Scan(&it.ID); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		it.OrderID = orderID
	}
	return nil
}

func (t *pgTx) DecrementStock(ctx context.Context, productID int64, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id=$1 AND stock >= $2`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: product %d", ErrStockConflict, productID)
	}
	return nil
}

func (s *PgStore) GetByReference(ctx context.Context, ref string) (*Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE public_ref=$1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	list := []Order{*o}
	if err := s.attachItems(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *PgStore) ListByUser(ctx context.Context, userID int64, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id=$1 ORDER BY placed_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) ListActiveProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, slug, sku, price::text, is_active, stock
		FROM products WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return scanProducts(rows)
}

func (s *PgStore) UpdateStatus(ctx context.Context, ref string, to Status) (*Order, Status, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE public_ref=$1 FOR UPDATE`, ref).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", mapPgErr(fmt.Errorf("lock order: %w", err))
	}
	if err := Transition(Status(from), to); err != nil {
		return nil, Status(from), err
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE public_ref=$1`, ref, string(to)); err != nil {
		return nil, "", fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", mapPgErr(fmt.Errorf("commit: %w", err))
	}

	o, err := s.GetByReference(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	return o, Status(from), nil
}

func (s *PgStore) attachItems(ctx context.Context, list []Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(list))
	pos := make(map[int64]int, len(list))
	for i := range list {
		ids = append(ids, list[i].ID)
		pos[list[i].ID] = i
		list[i].Items = []OrderItem{}
	}
	rows, err := s.DB.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it OrderItem
		var options []byte
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductSlug, &it.ProductSKU,
			&it.VariantKey, &options, &it.Quantity, &it.UnitPriceCents, &it.LineTotalCents); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &it.SelectedOptions); err != nil {
				return fmt.Errorf("decode selected options: %w", err)
			}
		}
		i := pos[it.OrderID]
		list[i].Items = append(list[i].Items, it)
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	if err := row.Scan(&o.ID, &o.PublicRef, &status, &o.Customer.UserID, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Shipping.Line1, &o.Shipping.Line2, &o.Shipping.City, &o.Shipping.PostalCode, &o.Shipping.Country, &o.Currency,
		&o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
		&o.PaymentMethodID, &o.PaymentBrand, &o.PaymentLast4, &o.PlacedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	return &o, nil
}

func scanProducts(rows pgx.Rows) ([]Product, error) {
	defer rows.Close()
	out := []Product{}
	for rows.Next() {
		var p Product
		var price string
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.SKU, &price, &p.Active, &p.Stock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("product %d price %q: %w", p.ID, price, err)
		}
		p.Price = d
		out = append(out, p)
	}
	return out, rows.Err()
}
