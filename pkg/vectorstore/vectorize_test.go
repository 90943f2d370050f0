package vectorstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"ai-ragchat-be/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVectorize keeps vectors in memory and answers the subset of the
// Vectorize API the index uses.
type fakeVectorize struct {
	mu      sync.Mutex
	vectors map[string]vectorizeVector
	status  int
}

func (f *fakeVectorize) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}

	var result interface{}
	switch r.URL.Path {
	case "/upsert":
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			var v vectorizeVector
			json.Unmarshal(sc.Bytes(), &v)
			f.vectors[v.ID] = v
		}
		result = map[string]interface{}{"mutationId": "m"}
	case "/get_by_ids", "/delete_by_ids":
		var req struct {
			IDs []string `json:"ids"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		found := []vectorizeVector{}
		for _, id := range req.IDs {
			if v, ok := f.vectors[id]; ok {
				found = append(found, v)
				if r.URL.Path == "/delete_by_ids" {
					delete(f.vectors, id)
				}
			}
		}
		result = found
	case "/query":
		var req struct {
			Vector []float32 `json:"vector"`
			TopK   int       `json:"topK"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		matches := []map[string]interface{}{}
		for _, v := range f.vectors {
			matches = append(matches, map[string]interface{}{
				"id": v.ID, "score": cosineSimilarity(req.Vector, v.Values), "metadata": v.Metadata,
			})
		}
		result = map[string]interface{}{"matches": matches}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "result": result})
}

func newFakeVectorize(t *testing.T) (*fakeVectorize, *VectorizeIndex) {
	t.Helper()
	fake := &fakeVectorize{vectors: map[string]vectorizeVector{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	idx, err := NewVectorizeIndex(VectorizeConfig{APIToken: "token", BaseURL: srv.URL, RequestsPerSecond: 1000, Burst: 100})
	require.NoError(t, err)
	return fake, idx
}

func TestVectorizeIndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, idx := newFakeVectorize(t)

	require.NoError(t, idx.Insert(ctx, []Record{
		rec("d1_0", "d1", 1, 0),
		rec("d1_1", "d1", 1, 0),
		rec("d2_0", "d2", 0, 1),
	}))

	matches, err := idx.Query(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "d1_0", matches[0].ID)
	assert.Equal(t, "d1_1", matches[1].ID)
	assert.NotContains(t, matches[0].Metadata, metaSeq)

	require.NoError(t, idx.DeleteBySource(ctx, "d1"))
	matches, err = idx.Query(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d2_0", matches[0].ID)
}

func TestVectorizeIndexChunkIndexIsInt(t *testing.T) {
	ctx := context.Background()
	_, idx := newFakeVectorize(t)

	r := rec("d1_7", "d1", 1, 0)
	r.Metadata[MetaChunkIndex] = 7
	require.NoError(t, idx.Insert(ctx, []Record{r}))

	matches, err := idx.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.IsType(t, 0, matches[0].Metadata[MetaChunkIndex])
	assert.Equal(t, 7, matches[0].Metadata[MetaChunkIndex])
}

func TestVectorizeIndexDeleteSpansIDPages(t *testing.T) {
	for _, n := range []int{vectorizeIDPage, 2*vectorizeIDPage + 50} {
		t.Run(fmt.Sprint(n, " chunks"), func(t *testing.T) {
			ctx := context.Background()
			fake, idx := newFakeVectorize(t)

			records := []Record{rec("other_0", "other", 0, 1)}
			for i := 0; i < n; i++ {
				records = append(records, rec(fmt.Sprintf("big_%d", i), "big", 1, 0))
			}
			require.NoError(t, idx.Insert(ctx, records))
			require.Len(t, fake.vectors, n+1)

			require.NoError(t, idx.DeleteBySource(ctx, "big"))
			fake.mu.Lock()
			defer fake.mu.Unlock()
			assert.Len(t, fake.vectors, 1)
			assert.Contains(t, fake.vectors, "other_0")
		})
	}
}

func TestVectorizeIndexClassifiesStatus(t *testing.T) {
	fake, idx := newFakeVectorize(t)
	fake.status = http.StatusServiceUnavailable

	_, err := idx.Query(context.Background(), []float32{1, 0}, 3)
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))

	fake.status = http.StatusBadRequest
	_, err = idx.Query(context.Background(), []float32{1, 0}, 3)
	assert.Equal(t, apperr.KindPermanent, apperr.KindOf(err))
}

func TestVectorizeIndexRequiresCredentials(t *testing.T) {
	_, err := NewVectorizeIndex(VectorizeConfig{AccountID: "acc", IndexName: "idx"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}
