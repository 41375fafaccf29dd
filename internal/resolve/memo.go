package resolve

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// normMemo caches normalized forms of catalog names so a resolver does not
// re-normalize the same client on every email. TTL eviction keeps memory
// bounded across snapshot generations.
type normMemo struct {
	c *gocache.Cache
}

func newNormMemo() *normMemo {
	return &normMemo{c: gocache.New(30*time.Minute, 10*time.Minute)}
}

func (m *normMemo) get(key, raw string, compute func(string) string) string {
	if v, ok := m.c.Get(key); ok {
		return v.(string)
	}
	v := compute(raw)
	m.c.Set(key, v, gocache.DefaultExpiration)
	return v
}
