package fga

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultCacheSize = 10_000
	defaultCacheTTL  = 60 * time.Second
)

// decisionCache is a process-local LRU keyed by the request
// fingerprint. Entries carry the policy-set revision they were computed
// against; a revision bump invalidates them on lookup.
type decisionCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recent
	entries  map[string]*list.Element
}

type cacheEntry struct {
	key      string
	result   Result
	revision int64
	expires  time.Time
}

func newDecisionCache(capacity int, ttl time.Duration) *decisionCache {
	if capacity <= 0 {
		capacity = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &decisionCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *decisionCache) get(key string, revision int64, now time.Time) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	entry := el.Value.(*cacheEntry)
	if entry.revision != revision || now.After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return Result{}, false
	}
	c.order.MoveToFront(el)
	return entry.result, true
}

func (c *decisionCache) put(key string, result Result, revision int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.result = result
		entry.revision = revision
		entry.expires = now.Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{
		key:      key,
		result:   result,
		revision: revision,
		expires:  now.Add(c.ttl),
	})
}

func (c *decisionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey fingerprints the request. Attribute maps are folded in with
// sorted keys so equal inputs hash identically.
func cacheKey(req *Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00", req.Subject, req.Action, req.Resource, req.ResourceType)
	writeAttrs(h, req.UserAttrs)
	writeAttrs(h, req.ResourceAttrs)
	writeAttrs(h, req.EnvAttrs)
	return hex.EncodeToString(h.Sum(nil))
}

func writeAttrs(h interface{ Write([]byte) (int, error) }, attrs map[string]any) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := json.Marshal(attrs[k])
		fmt.Fprintf(h, "%s=%s;", k, v)
	}
	h.Write([]byte{0x1f})
}
