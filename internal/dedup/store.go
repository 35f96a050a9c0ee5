// Package dedup implements the durable deduplication store (C2): a set of
// processed event keys, persisted as a JSON array, bounded in memory, and
// safe for concurrent readers/writers. The cache-with-mutex shape mirrors
// the teacher's schemaRegistryEncoder (cacheMut sync.RWMutex guarding a
// map, internal/impl/confluent/processor_schema_registry_encode.go);
// insertion-order pruning is modeled with container/list the way
// hashicorp/golang-lru (an indirect dependency already pulled in by the
// teacher's module graph) backs its eviction list, adapted here because
// the pruning policy (20% of MAX_DEDUP_EVENTS, in insertion order, ahead
// of the add rather than on every insert) doesn't match a generic LRU's
// per-insert eviction semantics.
package dedup

import (
	"container/list"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/streamwatch/schema-change-notifier/internal/logging"
)

// MaxDedupEvents bounds the store's size. Once size reaches this bound,
// 20% of MaxDedupEvents (not of current size) is pruned, in
// insertion-iteration order, before the triggering add proceeds.
const MaxDedupEvents = 100_000

const pruneFraction = 0.2

// Store is a concurrency-safe, disk-backed set of dedup keys.
type Store struct {
	mu    sync.RWMutex
	order *list.List
	index map[string]*list.Element

	path   string
	logger logging.Logger
}

// New constructs a Store backed by the state file at path. If the file
// exists it is loaded; any parse failure is logged at warn and the store
// starts empty — construction never fails because of a corrupt state
// file, only because the parent directory can't be created or an existing
// state file can't be read.
func New(path string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Store{
		order:  list.New(),
		index:  make(map[string]*list.Element),
		path:   path,
		logger: logger,
	}

	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		logger.Warnf("dedup store: failed to parse state file %s, starting empty: %v", path, err)
		return s, nil
	}

	for _, k := range keys {
		s.insertLocked(k)
	}
	return s, nil
}

// IsDuplicate reports whether key has already been marked processed.
func (s *Store) IsDuplicate(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[key]
	return ok
}

// MarkProcessed records key as processed, pruning first if the bound has
// been reached. It returns whether the key was newly added (false if it
// was already present).
func (s *Store) MarkProcessed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[key]; ok {
		return false
	}
	if len(s.index) >= MaxDedupEvents {
		s.pruneLocked()
	}
	s.insertLocked(key)
	return true
}

// Size returns the current number of stored keys.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Clear removes all stored keys.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Init()
	s.index = make(map[string]*list.Element)
}

// Close flushes the store to disk (if a path was configured) and releases
// resources. It writes to a ".tmp" sibling file first and atomically
// renames it over the destination, so a crash mid-write never corrupts
// the previous snapshot.
func (s *Store) Close() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.index))
	for e := s.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(string))
	}
	s.mu.RUnlock()

	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("marshal dedup state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}

// insertLocked adds key to both the map and the back of the insertion-
// order list. Caller must hold s.mu for writing.
func (s *Store) insertLocked(key string) {
	if _, ok := s.index[key]; ok {
		return
	}
	elem := s.order.PushBack(key)
	s.index[key] = elem
}

// pruneLocked removes MaxDedupEvents * pruneFraction entries from the
// front of the insertion-order list (i.e. the oldest-inserted keys).
// Caller must hold s.mu for writing.
func (s *Store) pruneLocked() {
	toPrune := int(MaxDedupEvents * pruneFraction)
	for i := 0; i < toPrune; i++ {
		front := s.order.Front()
		if front == nil {
			return
		}
		s.order.Remove(front)
		delete(s.index, front.Value.(string))
	}
	s.logger.Infof("dedup store: pruned %d entries (size now %d)", toPrune, len(s.index))
}

// Key builds the dedup key "subject:methodName:schemaId" per spec.md
// §3/§4.5, rendering missing components as the literals "unknown" and
// "null".
func Key(subject *string, methodName string, schemaID *int32) string {
	subjectStr := "unknown"
	if subject != nil && *subject != "" {
		subjectStr = *subject
	}
	method := methodName
	if method == "" {
		method = "unknown"
	}
	idStr := "null"
	if schemaID != nil {
		idStr = fmt.Sprintf("%d", *schemaID)
	}
	return fmt.Sprintf("%s:%s:%s", subjectStr, method, idStr)
}
