package redisx

import "time"

const (
	// Idempotency checkout: idem:order:create:{external_id} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cache order view: order_view:{order_id} -> JSON order + reservations
	KeyOrderView = "order_view:%s"

	// Generasi cache order: naik tiap invalidate, menolak Set dari pembaca yang sudah basi
	KeyOrderViewGen = "order_view_gen:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderView   = 5 * time.Minute
	TTLOrderGen    = time.Hour
	TTLDedup       = 48 * time.Hour
)
