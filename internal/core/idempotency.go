package core

import (
	"container/list"
	"fmt"
)

// IdempotencyChecker deduplicates action refs in two tiers: a hot
// in-memory LRU and a cold Postgres lookup over the event log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *IdempotencyMetrics
}

// DBIdempotencyChecker is the cold-tier lookup, backed by the event log.
type DBIdempotencyChecker interface {
	IsDuplicate(scope string, ref string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// IsDuplicate reports whether the (scope, ref) pair was already processed.
func (ic *IdempotencyChecker) IsDuplicate(scope string, ref string) bool {
	compositeKey := fmt.Sprintf("%s:%s", scope, ref)

	if ic.lru.Contains(compositeKey) {
		ic.metrics.RecordDuplicate(scope, "lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(scope, ref)
		if err != nil {
			// Conservative: a DB hiccup must not block processing,
			// so assume the ref is new.
			ic.metrics.RecordTier2Error()
			return false
		}
		if isDup {
			ic.metrics.RecordDuplicate(scope, "postgres")
			ic.lru.Add(compositeKey)
			return true
		}
	}
	return false
}

// MarkProcessed records a ref after successful processing.
func (ic *IdempotencyChecker) MarkProcessed(scope string, ref string) {
	ic.lru.Add(fmt.Sprintf("%s:%s", scope, ref))
}

// GetMetrics returns dedup stats for monitoring.
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// IdempotencyLRU is a bounded cache of composite dedup keys.
// Not thread-safe; only accessed from the engine goroutine.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks membership and promotes the key on a hit.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key, promoting if it already exists.
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}
	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads recent composite keys after a restart so the cold
// tier is not hit for refs the engine just replayed.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		entry := &lruEntry{key: key}
		elem := lru.lruList.PushFront(entry)
		lru.cache[key] = elem

		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// GetAllKeys returns every cached key, newest first. Used when taking a
// snapshot so a restart can re-warm the cache.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for elem := lru.lruList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns the current entry count.
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns the total evictions so far.
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// IdempotencyMetrics tracks dedup stats per scope.
// Not thread-safe; only accessed from the engine goroutine.
type IdempotencyMetrics struct {
	duplicatesLRU      map[string]int64
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(scope string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[scope]++
	} else {
		m.duplicatesPostgres[scope]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(scope string) (lru int64, postgres int64) {
	return m.duplicatesLRU[scope], m.duplicatesPostgres[scope]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
