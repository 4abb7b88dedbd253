package redisx

import "time"

const (
	// Create idempotency: idem:preorder:create:{idempotency_key} -> preorder_id
	KeyIdemPreorderCreate = "idem:preorder:create:%s"

	// Status cache: preorder_status:{preorder_id} -> {"_id","estado","version"}
	KeyPreorderStatus = "preorder_status:%s"

	// Delete tombstone: preorder_deleted:{preorder_id} -> "1"
	KeyPreorderDeleted = "preorder_deleted:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLTombstone   = 48 * time.Hour
)
