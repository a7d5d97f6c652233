package event

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup suppresses byte-identical notifications replayed within a short
// window. Cameras re-deliver the same item when a pull is retried after a
// transport hiccup; without this the correlator would see phantom bursts.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

// NewDedup builds a dedup cache bounded to maxKeys entries.
func NewDedup(maxKeys int, ttl time.Duration) *Dedup {
	if maxKeys <= 0 {
		maxKeys = 256
	}
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{cache: c, ttl: ttl}
}

// IsDuplicate records the notification and reports whether an identical one
// was seen within the TTL. Timestamps are bucketed to one second so
// micro-timing differences in re-deliveries still collapse.
func (d *Dedup) IsDuplicate(n Notification, now time.Time) bool {
	key := fmt.Sprintf("%s|%s|%s|%d", n.CameraID, n.Name, n.Kind, n.Timestamp.Truncate(time.Second).Unix())
	if addedAt, ok := d.cache.Get(key); ok {
		if now.Sub(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, now)
	return false
}
