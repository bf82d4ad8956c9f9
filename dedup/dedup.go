// Package dedup implements the bounded (from, id) de-duplication cache
// spec.md §9 calls for: the original source's TODO made broadcast
// forwarding loop-prone, since "forward except prev_hop" is not
// symmetric across a topology that is still converging. Keyed by a
// 64-bit xxhash digest of (from, id), the same checksum algorithm the
// teacher uses for its own identifier hashing (cmn/cos.HashK8sProxyID).
package dedup

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/derkalaender/meshnow-go/meshaddr"
)

// DefaultCapacity sits in spec.md §9's suggested 32-128 entry range.
const DefaultCapacity = 64

// Cache is a bounded LRU set of (from, id) pairs already forwarded.
type Cache struct {
	mu       sync.Mutex
	capacity int
	index    map[uint64]*list.Element
	order    *list.List // front = most recently seen
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		index:    make(map[uint64]*list.Element, capacity),
		order:    list.New(),
	}
}

func key(from meshaddr.Address, id uint32) uint64 {
	var buf [10]byte
	copy(buf[:6], from[:])
	binary.LittleEndian.PutUint32(buf[6:], id)
	return xxhash.Checksum64(buf[:])
}

// SeenBefore reports whether (from, id) was already recorded, and
// records it if not — a single call does both the check and the
// insert, matching how PH uses it: "have I forwarded this? if not,
// I'm about to."
func (c *Cache) SeenBefore(from meshaddr.Address, id uint32) bool {
	k := key(from, id)
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[k]; ok {
		c.order.MoveToFront(el)
		return true
	}
	el := c.order.PushFront(k)
	c.index[k] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(uint64))
		}
	}
	return false
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
