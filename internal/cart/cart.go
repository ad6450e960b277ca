// Package cart keeps the pre-checkout session cart in Redis.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-shop-checkout/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout/internal/redisx"
)

var ErrInvalidLine = errors.New("cart line needs a product id and a positive quantity")

type Cart struct {
	Session   string              `json:"session"`
	Lines     []checkout.CartLine `json:"lines"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type Store struct {
	rdb    *redis.Client
	maxQty int
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(rdb *redis.Client, maxQty int) *Store {
	return &Store{rdb: rdb, maxQty: maxQty, ttl: redisx.TTLCart, now: time.Now}
}

func key(session string) string { return fmt.Sprintf(redisx.KeyCart, session) }

// Get returns the session cart, or an empty cart when none is stored.
func (s *Store) Get(ctx context.Context, session string) (*Cart, error) {
	return s.load(ctx, s.rdb, session)
}

func (s *Store) load(ctx context.Context, rdb redis.Cmdable, session string) (*Cart, error) {
	c := &Cart{Session: session, Lines: []checkout.CartLine{}}
	if _, err := redisx.GetJSON(ctx, rdb, key(session), c); err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return c, nil
}

// AddLine merges l into the cart. Lines with the same product and variant
// are combined; the merged quantity is capped at the per-line maximum.
func (s *Store) AddLine(ctx context.Context, session string, l checkout.CartLine) (*Cart, error) {
	if l.ProductID <= 0 || l.Quantity <= 0 {
		return nil, ErrInvalidLine
	}
	l.Quantity = s.capped(l.Quantity)
	return s.update(ctx, session, func(c *Cart) {
		for i := range c.Lines {
			if c.Lines[i].ProductID == l.ProductID && c.Lines[i].VariantKey == l.VariantKey {
				c.Lines[i].Quantity = s.capped(addQty(c.Lines[i].Quantity, l.Quantity))
				if len(l.Options) > 0 {
					c.Lines[i].Options = l.Options
				}
				return
			}
		}
		c.Lines = append(c.Lines, l)
	})
}

// RemoveLine drops every line for productID.
func (s *Store) RemoveLine(ctx context.Context, session string, productID int64) (*Cart, error) {
	return s.update(ctx, session, func(c *Cart) {
		kept := c.Lines[:0]
		for _, l := range c.Lines {
			if l.ProductID != productID {
				kept = append(kept, l)
			}
		}
		c.Lines = kept
	})
}

func (s *Store) Clear(ctx context.Context, session string) error {
	return s.rdb.Del(ctx, key(session)).Err()
}

func (s *Store) capped(q int) int {
	if s.maxQty > 0 && q > s.maxQty {
		return s.maxQty
	}
	return q
}

// addQty sums two positive quantities, saturating at math.MaxInt.
func addQty(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

const maxUpdateRetries = 5

// update applies fn under WATCH so concurrent writers to one session do not
// lose lines.
func (s *Store) update(ctx context.Context, session string, fn func(*Cart)) (*Cart, error) {
	k := key(session)
	var out *Cart
	txf := func(tx *redis.Tx) error {
		c, err := s.load(ctx, tx, session)
		if err != nil {
			return err
		}
		fn(c)
		c.UpdatedAt = s.now().UTC()
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, b, s.ttl)
			return nil
		})
		if err == nil {
			out = c
		}
		return err
	}
	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update cart: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("update cart: too much contention on %s", k)
}
