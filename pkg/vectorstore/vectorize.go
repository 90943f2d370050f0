package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"ai-ragchat-be/pkg/apperr"

	"golang.org/x/time/rate"
)

const (
	vectorizeBaseURL = "https://api.cloudflare.com/client/v4/accounts/%s/vectorize/v2/indexes/%s"
	// Vectorize caps topK at 20 when metadata is returned.
	vectorizeMaxTopK = 20
	// ids per get_by_ids / delete_by_ids request
	vectorizeIDPage = 100
	metaSeq         = "_seq"
)

type VectorizeConfig struct {
	AccountID         string
	APIToken          string
	IndexName         string
	RequestsPerSecond float64
	Burst             int
	// BaseURL overrides the Cloudflare endpoint (tests, proxies).
	BaseURL string
}

// VectorizeIndex talks to the Cloudflare Vectorize REST API. Every request
// passes through a token-bucket limiter.
type VectorizeIndex struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewVectorizeIndex(cfg VectorizeConfig) (*VectorizeIndex, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.AccountID == "" || cfg.IndexName == "" {
			return nil, apperr.Configuration("vectorstore.vectorize", "CF_ACCOUNT_ID and CF_VECTORIZE_INDEX_NAME are required for the vectorize backend")
		}
		baseURL = fmt.Sprintf(vectorizeBaseURL, cfg.AccountID, cfg.IndexName)
	}
	if cfg.APIToken == "" {
		return nil, apperr.Configuration("vectorstore.vectorize", "CF_API_TOKEN is required for the vectorize backend")
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &VectorizeIndex{
		baseURL: baseURL,
		token:   cfg.APIToken,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
	}, nil
}

func (v *VectorizeIndex) Name() string   { return "vectorize" }
func (v *VectorizeIndex) Metric() Metric { return Cosine }
func (v *VectorizeIndex) Close() error   { return nil }

type vectorizeVector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type vectorizeEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Insert upserts as NDJSON. Records that already exist keep their stored
// sequence number, so tie-breaking follows first insertion.
func (v *VectorizeIndex) Insert(ctx context.Context, records []Record) error {
	const op = "vectorstore.vectorize.insert"
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	existing, err := v.getByIDs(ctx, op, ids)
	if err != nil {
		return err
	}

	base := v.now().UnixNano()
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i, r := range records {
		meta := copyMetadata(r.Metadata)
		if prevSeq, ok := existing[r.ID].Metadata[metaSeq]; ok {
			meta[metaSeq] = prevSeq
		} else {
			meta[metaSeq] = strconv.FormatInt(base+int64(i), 10)
		}
		if err := enc.Encode(vectorizeVector{ID: r.ID, Values: r.Vector, Metadata: meta}); err != nil {
			return apperr.Permanent(op, fmt.Errorf("%w: encode vector: %v", ErrVectorStore, err))
		}
	}

	_, err = v.do(ctx, op, "/upsert", "application/x-ndjson", body.Bytes())
	return err
}

func (v *VectorizeIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	const op = "vectorstore.vectorize.query"
	if topK <= 0 {
		return []Match{}, nil
	}
	if topK > vectorizeMaxTopK {
		topK = vectorizeMaxTopK
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"vector":         vector,
		"topK":           topK,
		"returnMetadata": "all",
		"returnValues":   false,
	})
	raw, err := v.do(ctx, op, "/query", "application/json", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		Matches []struct {
			ID       string                 `json:"id"`
			Score    float64                `json:"score"`
			Metadata map[string]interface{} `json:"metadata"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: decode matches: %v", ErrVectorStore, err))
	}

	candidates := make([]scored, len(result.Matches))
	for i, m := range result.Matches {
		seq, _ := strconv.ParseUint(fmt.Sprint(m.Metadata[metaSeq]), 10, 64)
		meta := copyMetadata(m.Metadata)
		delete(meta, metaSeq)
		candidates[i] = scored{match: Match{ID: m.ID, Score: m.Score, Metadata: normalizeMetadata(meta)}, seq: seq}
	}
	return rank(candidates, topK), nil
}

// DeleteBySource has no filtered delete to call. Chunk ids are
// {document_id}_{index} with contiguous indexes, so it probes id pages with
// get_by_ids until a page comes back empty and deletes what it found. Cost
// grows with the number of chunks of the document. Vectors stored under
// other id shapes are not reached.
func (v *VectorizeIndex) DeleteBySource(ctx context.Context, documentID string) error {
	const op = "vectorstore.vectorize.delete"

	for start := 0; ; start += vectorizeIDPage {
		ids := make([]string, vectorizeIDPage)
		for i := range ids {
			ids[i] = fmt.Sprintf("%s_%d", documentID, start+i)
		}
		found, err := v.getByIDs(ctx, op, ids)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return nil
		}

		hits := make([]string, 0, len(found))
		for id := range found {
			hits = append(hits, id)
		}
		sort.Strings(hits)
		payload, _ := json.Marshal(map[string]interface{}{"ids": hits})
		if _, err := v.do(ctx, op, "/delete_by_ids", "application/json", payload); err != nil {
			return err
		}
		if len(found) < vectorizeIDPage {
			return nil
		}
	}
}

func (v *VectorizeIndex) getByIDs(ctx context.Context, op string, ids []string) (map[string]vectorizeVector, error) {
	found := make(map[string]vectorizeVector)
	for start := 0; start < len(ids); start += vectorizeIDPage {
		end := start + vectorizeIDPage
		if end > len(ids) {
			end = len(ids)
		}
		payload, _ := json.Marshal(map[string]interface{}{"ids": ids[start:end]})
		raw, err := v.do(ctx, op, "/get_by_ids", "application/json", payload)
		if err != nil {
			return nil, err
		}
		var vectors []vectorizeVector
		if err := json.Unmarshal(raw, &vectors); err != nil {
			return nil, apperr.Permanent(op, fmt.Errorf("%w: decode vectors: %v", ErrVectorStore, err))
		}
		for _, vec := range vectors {
			found[vec.ID] = vec
		}
	}
	return found, nil
}

func (v *VectorizeIndex) do(ctx context.Context, op, path, contentType string, body []byte) (json.RawMessage, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, apperr.Transient(op, fmt.Errorf("%w: rate limiter: %w", ErrVectorStore, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: create request: %v", ErrVectorStore, err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+v.token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, apperr.Transient(op, fmt.Errorf("%w: %w", ErrVectorStore, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transient(op, fmt.Errorf("%w: read response: %w", ErrVectorStore, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.FromHTTPStatus(op, resp.StatusCode, string(respBody), ErrVectorStore)
	}

	var env vectorizeEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, apperr.Permanent(op, fmt.Errorf("%w: decode envelope: %v", ErrVectorStore, err))
	}
	if !env.Success {
		msg := "unknown error"
		if len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		return nil, apperr.Permanent(op, fmt.Errorf("%w: %s", ErrVectorStore, msg))
	}
	return env.Result, nil
}
