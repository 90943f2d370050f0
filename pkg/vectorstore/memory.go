package vectorstore

import (
	"context"
	"sync"
)

type memoryEntry struct {
	record Record
	seq    uint64
}

// MemoryIndex is a brute-force in-process index. Queries scan every entry.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []memoryEntry
	byID    map[string]int
	nextSeq uint64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byID: make(map[string]int)}
}

func (m *MemoryIndex) Name() string   { return "memory" }
func (m *MemoryIndex) Metric() Metric { return Cosine }
func (m *MemoryIndex) Close() error   { return nil }

func (m *MemoryIndex) Insert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		r.Metadata = copyMetadata(r.Metadata)
		if pos, ok := m.byID[r.ID]; ok {
			m.entries[pos].record = r
			continue
		}
		m.byID[r.ID] = len(m.entries)
		m.entries = append(m.entries, memoryEntry{record: r, seq: m.nextSeq})
		m.nextSeq++
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	candidates := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		candidates = append(candidates, scored{
			match: Match{
				ID:       e.record.ID,
				Score:    cosineSimilarity(vector, e.record.Vector),
				Metadata: copyMetadata(e.record.Metadata),
			},
			seq: e.seq,
		})
	}
	m.mu.RUnlock()

	return rank(candidates, topK), nil
}

// DeleteBySource has no secondary index to work with, so it rebuilds the
// entry slice and the id map from the complement set. O(index size).
func (m *MemoryIndex) DeleteBySource(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]memoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.record.DocumentID() != documentID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(m.entries) {
		return nil
	}

	byID := make(map[string]int, len(kept))
	for i, e := range kept {
		byID[e.record.ID] = i
	}
	m.entries = kept
	m.byID = byID
	return nil
}

// Len reports the number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
