package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type itemKind int

const (
	kindString itemKind = iota
	kindZSet
	kindSet
)

// memoryItem represents an item in memory cache
type memoryItem struct {
	kind       itemKind
	value      []byte
	zset       map[string]float64
	set        map[string]struct{}
	expiration time.Time // zero means no expiry
	accessed   time.Time
}

// MemoryStore implements Store in process. It mirrors the Redis semantics
// the service depends on, and is used for tests, local runs and as the
// standby behind FallbackStore.
type MemoryStore struct {
	items   map[string]*memoryItem
	mu      sync.Mutex
	maxSize int
	now     func() time.Time

	evictions int64
}

// NewMemoryStore creates a new memory store; maxSize bounds string keys.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}

	return &MemoryStore{
		items:   make(map[string]*memoryItem),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// lookup returns a live item, dropping it if expired. Caller holds mu.
func (m *MemoryStore) lookup(key string) *memoryItem {
	item, ok := m.items[key]
	if !ok {
		return nil
	}
	if !item.expiration.IsZero() && !m.now().Before(item.expiration) {
		delete(m.items, key)
		return nil
	}
	return item
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.lookup(key)
	if item == nil {
		return nil, ErrNotFound
	}
	if item.kind != kindString {
		return nil, ErrWrongType
	}

	item.accessed = m.now()
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[key]; !exists && m.stringCount() >= m.maxSize {
		m.evictLRU()
	}

	now := m.now()
	item := &memoryItem{
		kind:     kindString,
		value:    append([]byte(nil), value...),
		accessed: now,
	}
	if ttl > 0 {
		item.expiration = now.Add(ttl)
	}
	m.items[key] = item
	return nil
}

func (m *MemoryStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lookup(key) != nil, nil
}

// TTL returns the time to live for a key
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.lookup(key)
	if item == nil {
		return KeyMissing, nil
	}
	if item.expiration.IsZero() {
		return NoExpiry, nil
	}
	// Redis reports whole seconds
	return item.expiration.Sub(m.now()).Truncate(time.Second), nil
}

// Keys returns all live keys matching pattern
func (m *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0)
	for key := range m.items {
		if m.lookup(key) != nil && Match(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) container(key string, kind itemKind, create bool) (*memoryItem, error) {
	item := m.lookup(key)
	if item == nil {
		if !create {
			return nil, nil
		}
		item = &memoryItem{kind: kind, accessed: m.now()}
		switch kind {
		case kindZSet:
			item.zset = make(map[string]float64)
		case kindSet:
			item.set = make(map[string]struct{})
		}
		m.items[key] = item
	}
	if item.kind != kind {
		return nil, ErrWrongType
	}
	return item, nil
}

func (m *MemoryStore) ZAdd(ctx context.Context, key string, members ...Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(members) == 0 {
		return nil
	}
	item, err := m.container(key, kindZSet, true)
	if err != nil {
		return err
	}
	for _, member := range members {
		item.zset[member.Name] = member.Score
	}
	return nil
}

// sortedMembers orders by score then name, as Redis does.
func sortedMembers(zset map[string]float64) []Member {
	members := make([]Member, 0, len(zset))
	for name, score := range zset {
		members = append(members, Member{Name: name, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Name < members[j].Name
	})
	return members
}

func (m *MemoryStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.container(key, kindZSet, false)
	if err != nil || item == nil {
		return []Member{}, err
	}

	out := make([]Member, 0)
	for _, member := range sortedMembers(item.zset) {
		if member.Score >= min && member.Score <= max {
			out = append(out, member)
		}
	}
	return out, nil
}

func (m *MemoryStore) ZRangeByLex(ctx context.Context, key, min, max string, offset, count int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.container(key, kindZSet, false)
	if err != nil || item == nil {
		return []string{}, err
	}

	names := make([]string, 0, len(item.zset))
	for name := range item.zset {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0)
	var skipped int64
	for _, name := range names {
		if !lexAbove(name, min) || !lexBelow(name, max) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if count >= 0 && int64(len(out)) >= count {
			break
		}
		out = append(out, name)
	}
	return out, nil
}

func lexAbove(name, bound string) bool {
	switch {
	case bound == "-":
		return true
	case bound == "+":
		return false
	case strings.HasPrefix(bound, "["):
		return name >= bound[1:]
	case strings.HasPrefix(bound, "("):
		return name > bound[1:]
	}
	return false
}

func lexBelow(name, bound string) bool {
	switch {
	case bound == "+":
		return true
	case bound == "-":
		return false
	case strings.HasPrefix(bound, "["):
		return name <= bound[1:]
	case strings.HasPrefix(bound, "("):
		return name < bound[1:]
	}
	return false
}

func (m *MemoryStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.container(key, kindZSet, false)
	if err != nil || item == nil {
		return 0, err
	}

	var removed int64
	for _, name := range members {
		if _, ok := item.zset[name]; ok {
			delete(item.zset, name)
			removed++
		}
	}
	if len(item.zset) == 0 {
		delete(m.items, key)
	}
	return removed, nil
}

func (m *MemoryStore) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.container(key, kindZSet, false)
	if err != nil || item == nil {
		return 0, err
	}
	return int64(len(item.zset)), nil
}

func (m *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(members) == 0 {
		return nil
	}
	item, err := m.container(key, kindSet, true)
	if err != nil {
		return err
	}
	for _, member := range members {
		item.set[member] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.container(key, kindSet, false)
	if err != nil || item == nil {
		return []string{}, err
	}

	out := make([]string, 0, len(item.set))
	for member := range item.set {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close() error {
	return nil
}

// Size returns the number of live keys
func (m *MemoryStore) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.items {
		if m.lookup(key) != nil {
			n++
		}
	}
	return n
}

// Evictions returns how many string keys were dropped to respect maxSize.
func (m *MemoryStore) Evictions() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictions
}

func (m *MemoryStore) stringCount() int {
	n := 0
	for _, item := range m.items {
		if item.kind == kindString {
			n++
		}
	}
	return n
}

// evictLRU evicts the least recently used string key. Sets and sorted sets
// carry tracking and index state and are never evicted.
func (m *MemoryStore) evictLRU() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, item := range m.items {
		if item.kind != kindString {
			continue
		}
		if first || item.accessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.accessed
			first = false
		}
	}

	if !first {
		delete(m.items, oldestKey)
		m.evictions++
	}
}
