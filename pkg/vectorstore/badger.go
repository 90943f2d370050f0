package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"ai-ragchat-be/pkg/apperr"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// badgerRecord is the stored form of a Record. Metadata is kept as JSON so
// arbitrary values survive the gob encoding badgerhold uses.
type badgerRecord struct {
	ID         string
	DocumentID string `badgerhold:"index"`
	Vector     []float32
	Metadata   []byte
	Seq        uint64
}

// BadgerIndex is a persistent local index on badgerhold. Queries are a full
// scan; filtered delete is native through the DocumentID index.
type BadgerIndex struct {
	store *badgerhold.Store

	mu      sync.Mutex
	nextSeq uint64
}

func NewBadgerIndex(path string) (*BadgerIndex, error) {
	if path == "" {
		return nil, apperr.Configuration("vectorstore.badger", "VECTOR_BADGER_PATH is required for the badger backend")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	idx := &BadgerIndex{store: store}

	var last []badgerRecord
	err = store.Find(&last, badgerhold.Where("Seq").Ge(uint64(0)).SortBy("Seq").Reverse().Limit(1))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to read badger sequence: %w", err)
	}
	if len(last) == 1 {
		idx.nextSeq = last[0].Seq + 1
	}
	return idx, nil
}

func (b *BadgerIndex) Name() string   { return "badger" }
func (b *BadgerIndex) Metric() Metric { return Cosine }
func (b *BadgerIndex) Close() error   { return b.store.Close() }

// Insert writes the whole batch in one badger transaction, so either every
// record of the batch is visible or none is.
func (b *BadgerIndex) Insert(ctx context.Context, records []Record) error {
	const op = "vectorstore.badger.insert"
	if err := ctx.Err(); err != nil {
		return apperr.Transient(op, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.nextSeq
	err := b.store.Badger().Update(func(tx *badger.Txn) error {
		for _, r := range records {
			meta, err := json.Marshal(r.Metadata)
			if err != nil {
				return err
			}
			row := badgerRecord{ID: r.ID, DocumentID: r.DocumentID(), Vector: r.Vector, Metadata: meta}

			var existing badgerRecord
			switch err := b.store.TxGet(tx, r.ID, &existing); {
			case err == nil:
				row.Seq = existing.Seq
			case errors.Is(err, badgerhold.ErrNotFound):
				row.Seq = seq
				seq++
			default:
				return err
			}

			if err := b.store.TxUpsert(tx, r.ID, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Permanent(op, fmt.Errorf("%w: %v", ErrVectorStore, err))
	}
	b.nextSeq = seq
	return nil
}

func (b *BadgerIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	const op = "vectorstore.badger.query"
	if topK <= 0 {
		return []Match{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Transient(op, err)
	}

	var rows []badgerRecord
	if err := b.store.Find(&rows, nil); err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: %v", ErrVectorStore, err))
	}

	candidates := make([]scored, 0, len(rows))
	for _, row := range rows {
		meta := map[string]interface{}{}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &meta); err != nil {
				return nil, apperr.Permanent(op, fmt.Errorf("%w: corrupt metadata for %s: %v", ErrVectorStore, row.ID, err))
			}
		}
		candidates = append(candidates, scored{
			match: Match{ID: row.ID, Score: cosineSimilarity(vector, row.Vector), Metadata: normalizeMetadata(meta)},
			seq:   row.Seq,
		})
	}
	return rank(candidates, topK), nil
}

func (b *BadgerIndex) DeleteBySource(ctx context.Context, documentID string) error {
	const op = "vectorstore.badger.delete"
	if err := ctx.Err(); err != nil {
		return apperr.Transient(op, err)
	}
	err := b.store.DeleteMatching(&badgerRecord{}, badgerhold.Where("DocumentID").Eq(documentID).Index("DocumentID"))
	if err != nil {
		return apperr.Permanent(op, fmt.Errorf("%w: %v", ErrVectorStore, err))
	}
	return nil
}
