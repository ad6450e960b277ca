package checkout

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrProductsUnavailable = errors.New("one or more products are no longer available")
	// ErrPaymentMethodInvalid is deliberately generic: it does not tell a
	// foreign payment method apart from a missing one.
	ErrPaymentMethodInvalid = errors.New("payment method is invalid")
	errReferenceExhausted   = errors.New("could not allocate a unique order reference")
)

// ValidationError lists field-level problems found before any transaction.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Remaining   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for %s: %d remaining", e.ProductName, e.Remaining)
}
