package redisx

import "time"

// Per line item redelivery marker: dedup:{service}:{event_id}:{line}
const KeyDedup = "dedup:%s:%s:%s"

var TTLDedup = 48 * time.Hour
