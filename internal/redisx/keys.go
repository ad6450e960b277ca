package redisx

import "time"

const (
	// Checkout idempotency: idem:checkout:{scope}:{Idempotency-Key} -> {"ref": "...", "fingerprint": "..."}
	// scope is u:{user_id}, s:{cart_session} or b:{request_sha256}
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Status cache: order_status:{ref} -> {"reference": "...", "status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Session cart: cart:{session} -> JSON document
	KeyCart = "cart:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLCart        = 7 * 24 * time.Hour
)
