package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrVectorStore is wrapped by every backend error.
var ErrVectorStore = errors.New("vector store failure")

// Metadata keys every chunk record carries.
const (
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
	MetaContent    = "content"
	MetaTimestamp  = "timestamp"
	MetaSource     = "source"
)

// Record is one vector with the metadata needed to find its source again.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// DocumentID reads the source document back-reference from the metadata.
func (r Record) DocumentID() string {
	id, _ := r.Metadata[MetaDocumentID].(string)
	return id
}

// Match is one query hit. Score is comparable against the index Metric.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]interface{}
}

// Metric describes the similarity a backend reports and its range. It is
// fixed for the lifetime of an index instance.
type Metric struct {
	Name string
	Min  float64
	Max  float64
}

// Cosine is the only metric the bundled backends use: cosine similarity in [-1, 1].
var Cosine = Metric{Name: "cosine", Min: -1, Max: 1}

func (m Metric) String() string {
	return fmt.Sprintf("%s[%g,%g]", m.Name, m.Min, m.Max)
}

// Index is the capability set every vector backend provides.
type Index interface {
	// Insert upserts by id. Re-inserting an id keeps its original
	// insertion position for tie-breaking.
	Insert(ctx context.Context, records []Record) error

	// Query returns at most topK matches in descending score order. Equal
	// scores keep insertion order.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)

	// DeleteBySource removes every record whose metadata names documentID.
	DeleteBySource(ctx context.Context, documentID string) error

	Metric() Metric
	Name() string
	Close() error
}

// cosineSimilarity tolerates non-normalized inputs. Mismatched or zero
// vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type scored struct {
	match Match
	seq   uint64
}

// rank orders candidates by score, then by insertion sequence, and keeps topK.
func rank(candidates []scored, topK int) []Match {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].match.Score != candidates[j].match.Score {
			return candidates[i].match.Score > candidates[j].match.Score
		}
		return candidates[i].seq < candidates[j].seq
	})
	if topK >= 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]Match, len(candidates))
	for i, c := range candidates {
		out[i] = c.match
	}
	return out
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// normalizeMetadata restores the int chunk index that a JSON round trip
// turns into a float64, so every backend hands back the same types.
func normalizeMetadata(m map[string]interface{}) map[string]interface{} {
	switch v := m[MetaChunkIndex].(type) {
	case float64:
		m[MetaChunkIndex] = int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			m[MetaChunkIndex] = int(n)
		}
	}
	return m
}
