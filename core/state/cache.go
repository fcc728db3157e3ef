package state

// cacheEntry is a cached value or a tombstone. Tombstones record that the
// key is known to be absent locally, so reads must not fall through to the
// remote source.
type cacheEntry[V any] struct {
	value   V
	deleted bool
}

// diffCache is a map with nested checkpoints. Each checkpoint owns a diff
// holding the entry each key had before its first write inside that
// checkpoint (nil if the key was absent). Revert restores those entries;
// commit folds them into the enclosing checkpoint.
type diffCache[K comparable, V any] struct {
	entries map[K]cacheEntry[V]
	diffs   []map[K]*cacheEntry[V]
}

func newDiffCache[K comparable, V any]() *diffCache[K, V] {
	return &diffCache[K, V]{entries: make(map[K]cacheEntry[V])}
}

func (c *diffCache[K, V]) get(key K) (cacheEntry[V], bool) {
	e, ok := c.entries[key]
	return e, ok
}

func (c *diffCache[K, V]) put(key K, value V) {
	c.record(key)
	c.entries[key] = cacheEntry[V]{value: value}
}

func (c *diffCache[K, V]) del(key K) {
	c.record(key)
	c.entries[key] = cacheEntry[V]{deleted: true}
}

// record saves the pre-write entry of key into the innermost diff, once.
func (c *diffCache[K, V]) record(key K) {
	if len(c.diffs) == 0 {
		return
	}
	top := c.diffs[len(c.diffs)-1]
	if _, seen := top[key]; seen {
		return
	}
	if prev, ok := c.entries[key]; ok {
		top[key] = &prev
	} else {
		top[key] = nil
	}
}

func (c *diffCache[K, V]) checkpoint() {
	c.diffs = append(c.diffs, make(map[K]*cacheEntry[V]))
}

func (c *diffCache[K, V]) depth() int {
	return len(c.diffs)
}

func (c *diffCache[K, V]) commit() {
	n := len(c.diffs)
	top := c.diffs[n-1]
	c.diffs = c.diffs[:n-1]
	if n == 1 {
		return
	}
	parent := c.diffs[n-2]
	for key, prev := range top {
		if _, seen := parent[key]; !seen {
			parent[key] = prev
		}
	}
}

func (c *diffCache[K, V]) revert() {
	n := len(c.diffs)
	top := c.diffs[n-1]
	c.diffs = c.diffs[:n-1]
	for key, prev := range top {
		if prev == nil {
			delete(c.entries, key)
		} else {
			c.entries[key] = *prev
		}
	}
}

// clear drops every entry. Open checkpoints stay open with empty diffs so
// checkpoint/commit/revert remain balanced.
func (c *diffCache[K, V]) clear() {
	c.entries = make(map[K]cacheEntry[V])
	for i := range c.diffs {
		c.diffs[i] = make(map[K]*cacheEntry[V])
	}
}

func (c *diffCache[K, V]) forEach(fn func(K, cacheEntry[V])) {
	for k, e := range c.entries {
		fn(k, e)
	}
}

func (c *diffCache[K, V]) len() int {
	return len(c.entries)
}
