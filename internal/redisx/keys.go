package redisx

import (
	"fmt"
	"time"
)

var (
	TTLOrderSnapshot = 5 * time.Minute
	TTLDedup         = 48 * time.Hour
)

// OrderKey holds the JSON snapshot of one order.
func OrderKey(orderID string) string { return "order:" + orderID }

// DedupKey marks an event as processed by service.
func DedupKey(service, eventID string) string { return fmt.Sprintf("dedup:%s:%s", service, eventID) }
